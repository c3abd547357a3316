package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib"
	"github.com/fiffu/regwatch/lib/models"
	"github.com/fiffu/regwatch/lib/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go srv.ListenAndServe()
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service) http.Handler {
	ctrl := &controller{log, svc}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Subscribers authenticate with their own API key; everything under
	// /api is the operator surface behind basic auth.
	r.Get("/subscriptions/self", ctrl.selfSubscription)

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("regwatch", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", ctrl.createSubscription)
			r.Get("/", ctrl.listSubscriptions)

			r.Route("/{subscription_id}", func(r chi.Router) {
				r.Get("/", ctrl.viewSubscription)
				r.Post("/pause", ctrl.pauseSubscription)
				r.Post("/resume", ctrl.resumeSubscription)
				r.Post("/revoke", ctrl.revokeSubscription)
				r.Post("/reset", ctrl.resetNotificationCount)
				r.Post("/rotate", ctrl.rotateAPIKey)
				r.Get("/channels", ctrl.listChannels)
				r.Post("/channels", ctrl.addChannel)
			})
		})

		r.Route("/channels/{channel_id}", func(r chi.Router) {
			r.Post("/enable", ctrl.enableChannel)
			r.Post("/disable", ctrl.disableChannel)
			r.Post("/test", ctrl.testChannel)
		})

		r.Get("/changes", ctrl.listChanges)
		r.Get("/snapshot", ctrl.viewSnapshot)
		r.Get("/stats", ctrl.viewStats)
		r.Get("/registry/health", ctrl.registryHealth)
		r.Get("/registry/updated", ctrl.registryUpdatedSince)
		r.Post("/poll", ctrl.triggerPoll)
	})

	return r
}

type controller struct {
	log *zap.Logger
	svc *lib.Service
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err != nil {
		http.Error(w, err.Error(), status)
	} else {
		w.WriteHeader(status)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	if b, err := json.Marshal(body); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		ctrl.log.Sugar().Error("Request failed", "error", err)
		return
	} else {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if b != nil {
			w.Write(b)
		}
	}
}

// rejectNotFound maps missing rows to 404 and everything else to 500.
func (ctrl *controller) rejectNotFound(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		ctrl.reject(w, http.StatusNotFound, err)
	} else {
		ctrl.reject(w, http.StatusInternalServerError, err)
	}
}

func (ctrl *controller) createSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.FormValue("name")
	description := r.FormValue("description")

	if name == "" {
		ctrl.reject(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	filters := models.SubscriptionFilters{
		ServerNamePattern:    r.FormValue("server_name_pattern"),
		PackageRegistryTypes: splitCSV(r.FormValue("package_registry_types")),
	}
	for _, ct := range splitCSV(r.FormValue("change_types")) {
		filters.ChangeTypes = append(filters.ChangeTypes, models.ChangeType(ct))
	}

	sub, apiKey, err := ctrl.svc.CreateSubscription(ctx, name, description, filters)
	if err != nil {
		ctrl.reject(w, http.StatusBadRequest, err)
		return
	}
	// The plaintext key appears in this response and nowhere else.
	ctrl.resolve(w, http.StatusCreated, map[string]any{
		"subscription": SubscriptionView{}.From(sub),
		"api_key":      apiKey,
	})
}

func (ctrl *controller) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := ctrl.svc.ListSubscriptions(r.Context())
	if err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]SubscriptionView, len(subs))
	for i := range subs {
		views[i] = SubscriptionView{}.From(&subs[i])
	}
	ctrl.resolve(w, http.StatusOK, views)
}

func (ctrl *controller) viewSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := ctrl.svc.GetSubscription(r.Context(), parseInt(chi.URLParam(r, "subscription_id")))
	if err != nil {
		ctrl.rejectNotFound(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, SubscriptionView{}.From(sub))
}

func (ctrl *controller) pauseSubscription(w http.ResponseWriter, r *http.Request) {
	ctrl.setSubscriptionStatus(w, r, ctrl.svc.PauseSubscription)
}

func (ctrl *controller) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	ctrl.setSubscriptionStatus(w, r, ctrl.svc.ResumeSubscription)
}

func (ctrl *controller) revokeSubscription(w http.ResponseWriter, r *http.Request) {
	ctrl.setSubscriptionStatus(w, r, ctrl.svc.RevokeSubscription)
}

func (ctrl *controller) setSubscriptionStatus(
	w http.ResponseWriter,
	r *http.Request,
	transition func(context.Context, uint) (*models.Subscription, error),
) {
	sub, err := transition(r.Context(), parseInt(chi.URLParam(r, "subscription_id")))
	if err != nil {
		ctrl.rejectNotFound(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, SubscriptionView{}.From(sub))
}

func (ctrl *controller) resetNotificationCount(w http.ResponseWriter, r *http.Request) {
	sub, err := ctrl.svc.ResetNotificationCount(r.Context(), parseInt(chi.URLParam(r, "subscription_id")))
	if err != nil {
		ctrl.rejectNotFound(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, SubscriptionView{}.From(sub))
}

func (ctrl *controller) rotateAPIKey(w http.ResponseWriter, r *http.Request) {
	sub, apiKey, err := ctrl.svc.RotateAPIKey(r.Context(), parseInt(chi.URLParam(r, "subscription_id")))
	if err != nil {
		ctrl.rejectNotFound(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"subscription": SubscriptionView{}.From(sub),
		"api_key":      apiKey,
	})
}

func (ctrl *controller) selfSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := ctrl.svc.VerifyAPIKey(r.Context(), r.Header.Get("X-API-Key"))
	if errors.Is(err, lib.ErrInvalidAPIKey) {
		ctrl.reject(w, http.StatusUnauthorized, err)
		return
	} else if err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, SubscriptionView{}.From(sub))
}

func (ctrl *controller) listChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := ctrl.svc.ListChannels(r.Context(), parseInt(chi.URLParam(r, "subscription_id")))
	if err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[models.Channel, ChannelView](channels))
}

func (ctrl *controller) addChannel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subscriptionID := parseInt(chi.URLParam(r, "subscription_id"))
	channelType := models.ChannelType(r.FormValue("type"))

	conf := models.ChannelConfig{}
	for _, key := range []string{"webhook_url", "url", "secret", "chat_id", "bot_token", "recipient"} {
		if v := r.FormValue(key); v != "" {
			conf[key] = v
		}
	}

	ch, err := ctrl.svc.AddChannel(ctx, subscriptionID, channelType, conf)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ctrl.reject(w, http.StatusNotFound, err)
		} else {
			ctrl.reject(w, http.StatusBadRequest, err)
		}
		return
	}
	ctrl.resolve(w, http.StatusCreated, ChannelView{}.From(*ch))
}

func (ctrl *controller) enableChannel(w http.ResponseWriter, r *http.Request) {
	ctrl.setChannelEnabled(w, r, true)
}

func (ctrl *controller) disableChannel(w http.ResponseWriter, r *http.Request) {
	ctrl.setChannelEnabled(w, r, false)
}

func (ctrl *controller) setChannelEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ch, err := ctrl.svc.SetChannelEnabled(r.Context(), parseInt(chi.URLParam(r, "channel_id")), enabled)
	if err != nil {
		ctrl.rejectNotFound(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, ChannelView{}.From(*ch))
}

func (ctrl *controller) testChannel(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.TestChannel(r.Context(), parseInt(chi.URLParam(r, "channel_id"))); err != nil {
		ctrl.reject(w, http.StatusBadGateway, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"delivered": true})
}

func (ctrl *controller) listChanges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if server := r.URL.Query().Get("server"); server != "" {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			limit = int(parseInt(v))
		}
		changes, err := ctrl.svc.ListServerChanges(ctx, server, limit)
		if err != nil {
			ctrl.reject(w, http.StatusInternalServerError, err)
			return
		}
		ctrl.resolve(w, http.StatusOK, FromMany[models.Change, ChangeView](changes))
		return
	}

	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("since must be RFC3339: %w", err))
			return
		}
		since = parsed
	}

	changes, err := ctrl.svc.ListChanges(ctx, since)
	if err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, FromMany[models.Change, ChangeView](changes))
}

func (ctrl *controller) viewSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := ctrl.svc.LatestSnapshot(r.Context())
	if err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		return
	}
	if snap == nil {
		ctrl.reject(w, http.StatusNotFound, errors.New("no snapshot captured yet"))
		return
	}
	ctrl.resolve(w, http.StatusOK, SnapshotView{}.From(snap))
}

func (ctrl *controller) viewStats(w http.ResponseWriter, r *http.Request) {
	stats, err := ctrl.svc.GetStats(r.Context())
	if err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, StatsView{}.From(stats))
}

func (ctrl *controller) registryHealth(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.RegistryHealth(r.Context()); err != nil {
		ctrl.reject(w, http.StatusBadGateway, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"healthy": true})
}

func (ctrl *controller) registryUpdatedSince(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("since must be RFC3339: %w", err))
			return
		}
		since = parsed
	}

	servers, err := ctrl.svc.PreviewUpdatedSince(r.Context(), since)
	if err != nil {
		ctrl.reject(w, http.StatusBadGateway, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{
		"since":   since.Format(time.RFC3339),
		"count":   len(servers),
		"servers": servers,
	})
}

func (ctrl *controller) triggerPoll(w http.ResponseWriter, r *http.Request) {
	if err := ctrl.svc.TriggerPoll(r.Context()); err != nil {
		ctrl.reject(w, http.StatusInternalServerError, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, map[string]any{"polled": true})
}

func parseInt(s string) uint {
	u, _ := strconv.ParseUint(s, 10, 64)
	return uint(u)
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
