package store

import (
	"context"
	"time"

	"github.com/fiffu/regwatch/lib/models"
	"gorm.io/gorm"
)

// ErrNotFound aliases the driver's not-found sentinel so callers don't need
// to import gorm just to test for it.
var ErrNotFound = gorm.ErrRecordNotFound

// Store is the durable record of everything the watcher observes and does.
//
// Get* methods for single records propagate gorm.ErrRecordNotFound, except
// GetLatestSnapshot and GetNotification which return (nil, nil) when absent --
// "nothing yet" is an expected state on those paths, not a failure.
type Store interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetLatestSnapshot(ctx context.Context) (*models.Snapshot, error)
	GetSnapshotByID(ctx context.Context, id uint) (*models.Snapshot, error)
	GetSnapshotAt(ctx context.Context, at time.Time) (*models.Snapshot, error)
	// DeleteOldSnapshots removes snapshots older than cutoff, always keeping
	// the latest one so the differ never loses its baseline.
	DeleteOldSnapshots(ctx context.Context, cutoff time.Time) (int64, error)

	SaveChange(ctx context.Context, change *models.Change) error
	GetChangeByID(ctx context.Context, id uint) (*models.Change, error)
	GetChangesSince(ctx context.Context, since time.Time) (models.Changes, error)
	GetChangesForServer(ctx context.Context, serverName string, limit int) (models.Changes, error)
	GetChangeCountSince(ctx context.Context, since time.Time) (int64, error)

	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByID(ctx context.Context, id uint) (*models.Subscription, error)
	GetSubscriptionByAPIKeyHash(ctx context.Context, hash string) (*models.Subscription, error)
	GetSubscriptions(ctx context.Context) (models.Subscriptions, error)
	GetActiveSubscriptions(ctx context.Context) (models.Subscriptions, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	// RecordSubscriptionNotified bumps the notification counter and stamps
	// lastNotified; the only subscription mutation the pipeline performs.
	RecordSubscriptionNotified(ctx context.Context, id uint, count int64, at time.Time) error

	CreateChannel(ctx context.Context, ch *models.Channel) error
	GetChannelByID(ctx context.Context, id uint) (*models.Channel, error)
	GetChannelsForSubscription(ctx context.Context, subscriptionID uint) (models.Channels, error)
	UpdateChannel(ctx context.Context, ch *models.Channel) error
	// RecordChannelResult atomically updates the delivery counters after a
	// send attempt, so concurrent dispatches never lose increments.
	RecordChannelResult(ctx context.Context, channelID uint, success bool, at time.Time, sendErr string) error

	// SaveNotification upserts on the (channelID, changeID) idempotency key:
	// redelivery always lands on the same row.
	SaveNotification(ctx context.Context, n *models.Notification) error
	GetNotification(ctx context.Context, channelID, changeID uint) (*models.Notification, error)
	// GetPendingNotifications returns every non-terminal notification
	// (pending or failed), used to reseed the retry queue after a restart.
	GetPendingNotifications(ctx context.Context) (models.Notifications, error)
}
