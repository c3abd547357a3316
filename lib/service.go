package lib

import (
	"context"
	"time"

	"github.com/fiffu/regwatch/config"
	"github.com/fiffu/regwatch/lib/dispatch"
	"github.com/fiffu/regwatch/lib/models"
	"github.com/fiffu/regwatch/lib/registry"
	"github.com/fiffu/regwatch/lib/snapshotter"
	"github.com/fiffu/regwatch/lib/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Service is the admin surface over the watcher: subscription and channel
// management plus read access to snapshots and changes. The dispatch
// pipeline never goes through it.
type Service struct {
	cfg        *config.Config
	log        *zap.Logger
	store      store.Store
	registry   registry.Client
	snaps      *snapshotter.Snapshotter
	dispatcher *dispatch.Dispatcher

	*manageSubscriptions
	*manageChannels
}

func NewService(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
	db store.Store,
	client registry.Client,
	snaps *snapshotter.Snapshotter,
	dispatcher *dispatch.Dispatcher,
) *Service {
	return &Service{
		cfg, log, db, client, snaps, dispatcher,
		&manageSubscriptions{cfg, log, db},
		&manageChannels{cfg, log, db, dispatcher},
	}
}

func (svc *Service) ListSubscriptions(ctx context.Context) (models.Subscriptions, error) {
	return svc.store.GetSubscriptions(ctx)
}

func (svc *Service) GetSubscription(ctx context.Context, id uint) (*models.Subscription, error) {
	return svc.store.GetSubscriptionByID(ctx, id)
}

func (svc *Service) ListChanges(ctx context.Context, since time.Time) (models.Changes, error) {
	return svc.store.GetChangesSince(ctx, since)
}

func (svc *Service) ListServerChanges(ctx context.Context, serverName string, limit int) (models.Changes, error) {
	return svc.store.GetChangesForServer(ctx, serverName, limit)
}

func (svc *Service) ListChannels(ctx context.Context, subscriptionID uint) (models.Channels, error) {
	return svc.store.GetChannelsForSubscription(ctx, subscriptionID)
}

func (svc *Service) LatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	return svc.store.GetLatestSnapshot(ctx)
}

func (svc *Service) RegistryHealth(ctx context.Context) error {
	return svc.registry.HealthCheck(ctx)
}

// PreviewUpdatedSince asks the upstream registry which servers changed after
// the given time. Read-only; nothing is snapshotted or diffed.
func (svc *Service) PreviewUpdatedSince(ctx context.Context, since time.Time) ([]models.Server, error) {
	return svc.registry.GetServersUpdatedSince(ctx, since)
}

// TriggerPoll runs one poll cycle outside the schedule. Cycles are
// serialized by the snapshotter, so a manual trigger can never race the
// scheduled one.
func (svc *Service) TriggerPoll(ctx context.Context) error {
	return svc.snaps.RunCycle(ctx)
}

// Stats summarises the watcher's state for the admin dashboard.
type Stats struct {
	SnapshotAt      time.Time
	ServerCount     int
	SnapshotHash    string
	ChangesLast24h  int64
	RetryQueueDepth int
}

func (svc *Service) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		RetryQueueDepth: svc.dispatcher.RetryQueueDepth(),
	}

	snap, err := svc.store.GetLatestSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		stats.SnapshotAt = snap.Timestamp
		stats.ServerCount = snap.ServerCount
		stats.SnapshotHash = snap.Hash
	}

	count, err := svc.store.GetChangeCountSince(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	stats.ChangesLast24h = count

	return stats, nil
}
