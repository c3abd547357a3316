package lib

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/models"
	"github.com/fiffu/regwatch/lib/store"
	"github.com/gobwas/glob"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidAPIKey = errors.New("invalid api key")

type manageSubscriptions struct {
	cfg   *config.Config
	log   *zap.Logger
	store store.Store
}

// CreateSubscription registers a subscriber and mints its API key. The
// plaintext key is returned exactly once; only its hash and a 4-char hint
// are stored.
func (svc *manageSubscriptions) CreateSubscription(ctx context.Context, name, description string, filters models.SubscriptionFilters) (*models.Subscription, string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, "", errors.New("subscription name must not be empty")
	}
	if err := validateFilters(filters); err != nil {
		return nil, "", err
	}

	apiKey := newAPIKey()
	sub := &models.Subscription{
		Name:        name,
		Description: description,
		Filters:     filters,
		Status:      models.SubscriptionActive,
		APIKeyHash:  HashAPIKey(apiKey),
		APIKeyHint:  apiKey[len(apiKey)-4:],
	}

	if err := svc.store.CreateSubscription(ctx, sub); err != nil {
		return nil, "", err
	}
	svc.log.Sugar().Infof("Created subscription id:%v (%s)", sub.ID, sub.Name)
	return sub, apiKey, nil
}

func (svc *manageSubscriptions) PauseSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	return svc.setStatus(ctx, id, models.SubscriptionPaused)
}

func (svc *manageSubscriptions) ResumeSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	return svc.setStatus(ctx, id, models.SubscriptionActive)
}

// RevokeSubscription is terminal: the subscription stops matching forever
// and its API key stops authenticating.
func (svc *manageSubscriptions) RevokeSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	return svc.setStatus(ctx, id, models.SubscriptionRevoked)
}

func (svc *manageSubscriptions) setStatus(ctx context.Context, id uint, status models.SubscriptionStatus) (*models.Subscription, error) {
	sub, err := svc.store.GetSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if sub.Status == models.SubscriptionRevoked && status != models.SubscriptionRevoked {
		return nil, errors.New("cannot change status of a revoked subscription")
	}

	sub.Status = status
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	svc.log.Sugar().Infof("Subscription id:%v is now %s", sub.ID, status)
	return sub, nil
}

func (svc *manageSubscriptions) ResetNotificationCount(ctx context.Context, id uint) (*models.Subscription, error) {
	sub, err := svc.store.GetSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}

	sub.NotificationCount = 0
	sub.LastReset = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// RotateAPIKey mints a replacement key, invalidating the old one. As with
// creation, the plaintext is returned exactly once.
func (svc *manageSubscriptions) RotateAPIKey(ctx context.Context, id uint) (*models.Subscription, string, error) {
	sub, err := svc.store.GetSubscriptionByID(ctx, id)
	if err != nil {
		return nil, "", err
	}

	apiKey := newAPIKey()
	sub.APIKeyHash = HashAPIKey(apiKey)
	sub.APIKeyHint = apiKey[len(apiKey)-4:]
	if err := svc.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, "", err
	}
	svc.log.Sugar().Infof("Rotated API key for subscription id:%v", sub.ID)
	return sub, apiKey, nil
}

// VerifyAPIKey resolves an API key to its subscription. Revoked
// subscriptions never authenticate; paused ones still can, they just don't
// receive notifications.
func (svc *manageSubscriptions) VerifyAPIKey(ctx context.Context, apiKey string) (*models.Subscription, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	sub, err := svc.store.GetSubscriptionByAPIKeyHash(ctx, HashAPIKey(apiKey))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	} else if err != nil {
		return nil, err
	}

	if sub.Status == models.SubscriptionRevoked {
		return nil, ErrInvalidAPIKey
	}
	return sub, nil
}

func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func newAPIKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validateFilters(filters models.SubscriptionFilters) error {
	for _, ct := range filters.ChangeTypes {
		switch ct {
		case models.ChangeTypeNew, models.ChangeTypeUpdated, models.ChangeTypeRemoved, models.ChangeTypeVersionBump:
		default:
			return fmt.Errorf("unknown change type %q", ct)
		}
	}

	if p := filters.ServerNamePattern; p != "" {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("invalid server name pattern %q: %v", p, err)
		}
	}
	return nil
}
