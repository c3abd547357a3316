package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/carlmjohnson/requests"
	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/models"
	"go.uber.org/zap"
)

// maxPages bounds cursor pagination so a misbehaving registry cannot loop us forever.
const maxPages = 1000

// Client reads the canonical server list from the upstream registry.
type Client interface {
	ListServers(ctx context.Context) ([]models.Server, error)
	GetServersUpdatedSince(ctx context.Context, since time.Time) ([]models.Server, error)
	HealthCheck(ctx context.Context) error
}

// StatusError reports a non-2xx registry response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry returned status %d", e.Code)
}

// Temporary reports whether the response is worth retrying. Client errors are
// not: the request will not get better on its own.
func (e *StatusError) Temporary() bool {
	return e.Code >= 500
}

type httpClient struct {
	cfg       *config.Config
	log       *zap.Logger
	transport http.RoundTripper
}

func NewClient(cfg *config.Config, log *zap.Logger, transport http.RoundTripper) Client {
	return &httpClient{cfg, log, transport}
}

func (c *httpClient) ListServers(ctx context.Context) ([]models.Server, error) {
	return c.collect(ctx, time.Time{})
}

func (c *httpClient) GetServersUpdatedSince(ctx context.Context, since time.Time) ([]models.Server, error) {
	return c.collect(ctx, since)
}

func (c *httpClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Registry.Timeout)
	defer cancel()

	err := requests.URL(c.cfg.Registry.BaseURL + "/v0/health").
		Transport(c.transport).
		Fetch(ctx)
	if err != nil {
		return fmt.Errorf("registry health check: %w", err)
	}
	return nil
}

// collect walks the cursor-paginated listing until the registry stops handing
// out cursors, converting wire records to models as it goes.
func (c *httpClient) collect(ctx context.Context, since time.Time) ([]models.Server, error) {
	var out []models.Server
	cursor := ""

	for page := 1; ; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("registry pagination exceeded %d pages", maxPages)
		}

		resp, err := c.fetchPage(ctx, cursor, since)
		if err != nil {
			return nil, err
		}
		for _, sj := range resp.Servers {
			out = append(out, sj.toModel())
		}

		if resp.Metadata.NextCursor == "" {
			break
		}
		cursor = resp.Metadata.NextCursor
	}

	c.log.Sugar().Debugw("Fetched server list from registry", "count", len(out))
	return out, nil
}

// fetchPage requests a single page with bounded retries. Network failures and
// 5xx responses are retried; 4xx responses fail immediately.
func (c *httpClient) fetchPage(ctx context.Context, cursor string, since time.Time) (*listResponse, error) {
	var lastErr error

	for attempt := 0; attempt <= c.cfg.Registry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.Registry.RetryDelay * time.Duration(attempt)
			c.log.Sugar().Warnw("Retrying registry page fetch", "attempt", attempt+1, "delay", delay, "err", lastErr)

			tmr := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				return nil, ctx.Err()
			case <-tmr.C:
			}
		}

		page, err := c.getPage(ctx, cursor, since)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}

	return nil, fmt.Errorf("registry list failed after %d attempts: %w", c.cfg.Registry.MaxRetries+1, lastErr)
}

func (c *httpClient) getPage(ctx context.Context, cursor string, since time.Time) (*listResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Registry.Timeout)
	defer cancel()

	var (
		status int
		body   string
	)
	b := requests.URL(c.cfg.Registry.BaseURL + "/v0/servers").
		Transport(c.transport).
		Param("limit", strconv.Itoa(c.cfg.Registry.PageSize)).
		AddValidator(func(res *http.Response) error {
			status = res.StatusCode
			return nil
		}).
		ToString(&body)
	if cursor != "" {
		b = b.Param("cursor", cursor)
	}
	if !since.IsZero() {
		b = b.Param("updated_since", since.UTC().Format(time.RFC3339))
	}

	if err := b.Fetch(ctx); err != nil {
		return nil, fmt.Errorf("fetching registry page: %w", err)
	}
	if status < 200 || status >= 300 {
		return nil, &StatusError{Code: status}
	}

	var page listResponse
	if err := json.Unmarshal([]byte(body), &page); err != nil {
		return nil, fmt.Errorf("decoding registry response: %w", err)
	}
	return &page, nil
}

func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Anything else is a transport-level failure.
	return true
}

// Wire types for the registry's paginated listing.

type listResponse struct {
	Servers  []serverJSON `json:"servers"`
	Metadata struct {
		NextCursor string `json:"next_cursor"`
		Count      int    `json:"count"`
	} `json:"metadata"`
}

type serverJSON struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Repository  struct {
		URL    string `json:"url"`
		Source string `json:"source"`
	} `json:"repository"`
	VersionDetail struct {
		Version  string `json:"version"`
		IsLatest bool   `json:"is_latest"`
	} `json:"version_detail"`
	Packages []struct {
		RegistryName string `json:"registry_name"`
		Name         string `json:"name"`
		Version      string `json:"version"`
	} `json:"packages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (sj serverJSON) toModel() models.Server {
	srv := models.Server{
		Name:        sj.Name,
		Description: sj.Description,
		Repository: models.Repository{
			URL:    sj.Repository.URL,
			Source: sj.Repository.Source,
		},
		VersionDetail: models.VersionDetail{
			Version:  sj.VersionDetail.Version,
			IsLatest: sj.VersionDetail.IsLatest,
		},
		CreatedAt: sj.CreatedAt,
		UpdatedAt: sj.UpdatedAt,
	}
	for _, p := range sj.Packages {
		srv.Packages = append(srv.Packages, models.Package{
			RegistryType: p.RegistryName,
			Name:         p.Name,
			Version:      p.Version,
		})
	}
	return srv
}
