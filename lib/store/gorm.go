package store

import (
	"context"
	"time"

	"github.com/fiffu/regwatch/lib/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	tx := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(snap)
	return tx.Error
}

func (s *gormStore) GetLatestSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var snap models.Snapshot
	tx := s.db.WithContext(ctx).Order("timestamp desc").First(&snap)
	switch tx.Error {
	case gorm.ErrRecordNotFound:
		return nil, nil
	case nil:
		return &snap, nil
	default:
		return nil, tx.Error
	}
}

func (s *gormStore) GetSnapshotByID(ctx context.Context, id uint) (*models.Snapshot, error) {
	var snap models.Snapshot
	tx := s.db.WithContext(ctx).First(&snap, id)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *gormStore) GetSnapshotAt(ctx context.Context, at time.Time) (*models.Snapshot, error) {
	var snap models.Snapshot
	tx := s.db.WithContext(ctx).
		Where("timestamp <= ?", at).
		Order("timestamp desc").
		First(&snap)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *gormStore) DeleteOldSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	latest := s.db.Model(&models.Snapshot{}).Select("id").Order("timestamp desc").Limit(1)
	tx := s.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Where("id NOT IN (?)", latest).
		Delete(&models.Snapshot{})
	if err := tx.Error; err != nil {
		return 0, err
	}
	return tx.RowsAffected, nil
}

func (s *gormStore) SaveChange(ctx context.Context, change *models.Change) error {
	tx := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(change)
	return tx.Error
}

func (s *gormStore) GetChangeByID(ctx context.Context, id uint) (*models.Change, error) {
	var change models.Change
	tx := s.db.WithContext(ctx).First(&change, id)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return &change, nil
}

func (s *gormStore) GetChangesSince(ctx context.Context, since time.Time) (models.Changes, error) {
	var changes models.Changes
	tx := s.db.WithContext(ctx).
		Where("detected_at > ?", since).
		Order("detected_at desc, id desc").
		Find(&changes)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *gormStore) GetChangesForServer(ctx context.Context, serverName string, limit int) (models.Changes, error) {
	var changes models.Changes
	q := s.db.WithContext(ctx).
		Where("server_name = ?", serverName).
		Order("detected_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	tx := q.Find(&changes)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *gormStore) GetChangeCountSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	tx := s.db.WithContext(ctx).
		Model(&models.Change{}).
		Where("detected_at > ?", since).
		Count(&count)
	if err := tx.Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *gormStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	tx := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(sub)
	return tx.Error
}

func (s *gormStore) GetSubscriptionByID(ctx context.Context, id uint) (*models.Subscription, error) {
	var sub models.Subscription
	tx := s.db.WithContext(ctx).Preload("Channels").First(&sub, id)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) GetSubscriptionByAPIKeyHash(ctx context.Context, hash string) (*models.Subscription, error) {
	var sub models.Subscription
	tx := s.db.WithContext(ctx).
		Preload("Channels").
		Where("api_key_hash = ?", hash).
		First(&sub)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *gormStore) GetSubscriptions(ctx context.Context) (models.Subscriptions, error) {
	var subs models.Subscriptions
	tx := s.db.WithContext(ctx).Preload("Channels").Order("id").Find(&subs)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *gormStore) GetActiveSubscriptions(ctx context.Context) (models.Subscriptions, error) {
	var subs models.Subscriptions
	tx := s.db.WithContext(ctx).
		Preload("Channels").
		Where("status = ?", models.SubscriptionActive).
		Order("id").
		Find(&subs)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (s *gormStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	tx := s.db.WithContext(ctx).Omit(clause.Associations).Save(sub)
	return tx.Error
}

func (s *gormStore) RecordSubscriptionNotified(ctx context.Context, id uint, count int64, at time.Time) error {
	tx := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"notification_count": gorm.Expr("notification_count + ?", count),
			"last_notified":      at,
		})
	return tx.Error
}

func (s *gormStore) CreateChannel(ctx context.Context, ch *models.Channel) error {
	tx := s.db.WithContext(ctx).Clauses(clause.Returning{}).Create(ch)
	return tx.Error
}

func (s *gormStore) GetChannelByID(ctx context.Context, id uint) (*models.Channel, error) {
	var ch models.Channel
	tx := s.db.WithContext(ctx).First(&ch, id)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return &ch, nil
}

func (s *gormStore) GetChannelsForSubscription(ctx context.Context, subscriptionID uint) (models.Channels, error) {
	var channels models.Channels
	tx := s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("id").
		Find(&channels)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return channels, nil
}

// UpdateChannel writes the admin-owned fields only; delivery counters belong
// to RecordChannelResult.
func (s *gormStore) UpdateChannel(ctx context.Context, ch *models.Channel) error {
	tx := s.db.WithContext(ctx).
		Model(ch).
		Select("type", "config", "enabled").
		Updates(ch)
	return tx.Error
}

func (s *gormStore) RecordChannelResult(ctx context.Context, channelID uint, success bool, at time.Time, sendErr string) error {
	var updates map[string]any
	if success {
		updates = map[string]any{
			"success_count": gorm.Expr("success_count + 1"),
			"last_success":  at,
		}
	} else {
		updates = map[string]any{
			"failure_count": gorm.Expr("failure_count + 1"),
			"last_failure":  at,
			"last_error":    sendErr,
		}
	}
	tx := s.db.WithContext(ctx).
		Model(&models.Channel{}).
		Where("id = ?", channelID).
		Updates(updates)
	return tx.Error
}

func (s *gormStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	tx := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "channel_id"}, {Name: "change_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "attempts", "next_retry", "sent_at", "error"}),
		}).
		Create(n)
	return tx.Error
}

func (s *gormStore) GetNotification(ctx context.Context, channelID, changeID uint) (*models.Notification, error) {
	var n models.Notification
	tx := s.db.WithContext(ctx).
		Where("channel_id = ? AND change_id = ?", channelID, changeID).
		First(&n)
	switch tx.Error {
	case gorm.ErrRecordNotFound:
		return nil, nil
	case nil:
		return &n, nil
	default:
		return nil, tx.Error
	}
}

func (s *gormStore) GetPendingNotifications(ctx context.Context) (models.Notifications, error) {
	var pending models.Notifications
	tx := s.db.WithContext(ctx).
		Where("status IN ?", []models.NotificationStatus{models.NotificationPending, models.NotificationFailed}).
		Order("created_at").
		Find(&pending)
	if err := tx.Error; err != nil {
		return nil, err
	}
	return pending, nil
}
