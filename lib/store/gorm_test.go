package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/fiffu/regwatch/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (Store, *gorm.DB) {
	t.Helper()
	// Named in-memory database so each test gets its own isolated schema.
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Snapshot{},
		&models.Change{},
		&models.Subscription{},
		&models.Channel{},
		&models.Notification{},
	)
	require.NoError(t, err)
	return NewStore(db), db
}

func snapAt(ts time.Time, names ...string) *models.Snapshot {
	servers := make([]models.Server, len(names))
	for i, name := range names {
		servers[i] = models.Server{Name: name, VersionDetail: models.VersionDetail{Version: "1.0.0"}}
	}
	return models.NewSnapshot(ts, servers)
}

func changeAt(serverName string, at time.Time, typ models.ChangeType) *models.Change {
	return &models.Change{
		ServerName: serverName,
		ChangeType: typ,
		DetectedAt: at,
		FieldChanges: map[string]models.FieldChange{
			"description": {Old: "before", New: "after"},
		},
	}
}

func TestGetLatestSnapshot(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetLatestSnapshot(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	older := snapAt(base, "acme/alpha")
	newer := snapAt(base.Add(time.Hour), "acme/alpha", "acme/bravo")
	require.NoError(t, s.SaveSnapshot(ctx, older))
	require.NoError(t, s.SaveSnapshot(ctx, newer))

	got, err = s.GetLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.Hash, got.Hash)
	assert.Equal(t, 2, got.ServerCount)
	require.Len(t, got.Servers, 2)
	assert.Equal(t, "acme/alpha", got.Servers[0].Name)
}

func TestGetSnapshotAt(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	first := snapAt(base, "acme/alpha")
	second := snapAt(base.Add(time.Hour), "acme/alpha", "acme/bravo")
	require.NoError(t, s.SaveSnapshot(ctx, first))
	require.NoError(t, s.SaveSnapshot(ctx, second))

	got, err := s.GetSnapshotAt(ctx, base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, first.Hash, got.Hash)

	_, err = s.GetSnapshotAt(ctx, base.Add(-time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOldSnapshotsKeepsLatest(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveSnapshot(ctx, snapAt(base.Add(time.Duration(i)*time.Hour), "acme/alpha")))
	}

	// Cutoff is past every snapshot; the newest must still survive.
	purged, err := s.DeleteOldSnapshots(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)

	latest, err := s.GetLatestSnapshot(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.WithinDuration(t, base.Add(2*time.Hour), latest.Timestamp, time.Second)
}

func TestGetChangesForServer(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveChange(ctx, changeAt("acme/tool", base.Add(time.Duration(i)*time.Hour), models.ChangeTypeUpdated)))
	}
	require.NoError(t, s.SaveChange(ctx, changeAt("acme/other", base, models.ChangeTypeNew)))

	got, err := s.GetChangesForServer(ctx, "acme/tool", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.WithinDuration(t, base.Add(2*time.Hour), got[0].DetectedAt, time.Second)
	assert.WithinDuration(t, base.Add(time.Hour), got[1].DetectedAt, time.Second)
	assert.Equal(t, "after", got[0].FieldChanges["description"].New)
}

func TestGetChangesSince(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveChange(ctx, changeAt("acme/old", base, models.ChangeTypeNew)))
	require.NoError(t, s.SaveChange(ctx, changeAt("acme/new", base.Add(time.Hour), models.ChangeTypeNew)))

	// The boundary is exclusive: a change detected exactly at `since` is out.
	got, err := s.GetChangesSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "acme/new", got[0].ServerName)

	count, err := s.GetChangeCountSince(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestGetActiveSubscriptionsPreloadsChannels(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	active := &models.Subscription{
		Name:       "watcher",
		Status:     models.SubscriptionActive,
		APIKeyHash: "hash-active",
		Filters:    models.SubscriptionFilters{ChangeTypes: []models.ChangeType{models.ChangeTypeNew}},
	}
	require.NoError(t, s.CreateSubscription(ctx, active))
	require.NoError(t, s.CreateChannel(ctx, &models.Channel{
		SubscriptionID: active.ID,
		Type:           models.ChannelTypeWebhook,
		Config:         models.ChannelConfig{"url": "https://example.com/hook"},
		Enabled:        true,
	}))

	require.NoError(t, s.CreateSubscription(ctx, &models.Subscription{
		Name: "paused", Status: models.SubscriptionPaused, APIKeyHash: "hash-paused",
	}))
	require.NoError(t, s.CreateSubscription(ctx, &models.Subscription{
		Name: "revoked", Status: models.SubscriptionRevoked, APIKeyHash: "hash-revoked",
	}))

	subs, err := s.GetActiveSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "watcher", subs[0].Name)
	assert.Equal(t, []models.ChangeType{models.ChangeTypeNew}, subs[0].Filters.ChangeTypes)
	require.Len(t, subs[0].Channels, 1)
	assert.Equal(t, models.ChannelTypeWebhook, subs[0].Channels[0].Type)
}

func TestGetSubscriptionByAPIKeyHash(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub := &models.Subscription{Name: "keyed", Status: models.SubscriptionActive, APIKeyHash: "match"}
	require.NoError(t, s.CreateSubscription(ctx, sub))

	got, err := s.GetSubscriptionByAPIKeyHash(ctx, "match")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)

	_, err = s.GetSubscriptionByAPIKeyHash(ctx, "no-such-hash")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordSubscriptionNotified(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub := &models.Subscription{Name: "counted", Status: models.SubscriptionActive, APIKeyHash: "hash-counted"}
	require.NoError(t, s.CreateSubscription(ctx, sub))

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordSubscriptionNotified(ctx, sub.ID, 3, at))
	require.NoError(t, s.RecordSubscriptionNotified(ctx, sub.ID, 2, at.Add(time.Minute)))

	got, err := s.GetSubscriptionByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.NotificationCount)
	require.True(t, got.LastNotified.Valid)
	assert.WithinDuration(t, at.Add(time.Minute), got.LastNotified.Time, time.Second)
}

func TestRecordChannelResult(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub := &models.Subscription{Name: "owner", Status: models.SubscriptionActive, APIKeyHash: "hash-owner"}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	ch := &models.Channel{
		SubscriptionID: sub.ID,
		Type:           models.ChannelTypeWebhook,
		Config:         models.ChannelConfig{"url": "https://example.com/hook"},
		Enabled:        true,
	}
	require.NoError(t, s.CreateChannel(ctx, ch))

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.RecordChannelResult(ctx, ch.ID, true, at, ""))
	require.NoError(t, s.RecordChannelResult(ctx, ch.ID, true, at.Add(time.Minute), ""))
	require.NoError(t, s.RecordChannelResult(ctx, ch.ID, false, at.Add(2*time.Minute), "delivery timed out"))

	got, err := s.GetChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.SuccessCount)
	assert.Equal(t, int64(1), got.FailureCount)
	require.True(t, got.LastSuccess.Valid)
	assert.WithinDuration(t, at.Add(time.Minute), got.LastSuccess.Time, time.Second)
	require.True(t, got.LastFailure.Valid)
	assert.Equal(t, "delivery timed out", got.LastError)
}

func TestUpdateChannelLeavesCountersAlone(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	sub := &models.Subscription{Name: "owner", Status: models.SubscriptionActive, APIKeyHash: "hash-owner"}
	require.NoError(t, s.CreateSubscription(ctx, sub))
	ch := &models.Channel{
		SubscriptionID: sub.ID,
		Type:           models.ChannelTypeWebhook,
		Config:         models.ChannelConfig{"url": "https://example.com/hook"},
		Enabled:        true,
	}
	require.NoError(t, s.CreateChannel(ctx, ch))
	require.NoError(t, s.RecordChannelResult(ctx, ch.ID, true, time.Now().UTC(), ""))

	// A stale admin copy must not clobber counters owned by the dispatcher.
	ch.Enabled = false
	ch.SuccessCount = 0
	require.NoError(t, s.UpdateChannel(ctx, ch))

	got, err := s.GetChannelByID(ctx, ch.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, int64(1), got.SuccessCount)
}

func TestSaveNotificationUpsertsOnDeliveryKey(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	first := &models.Notification{
		SubscriptionID: 1,
		ChannelID:      7,
		ChangeID:       9,
		Status:         models.NotificationFailed,
		Attempts:       1,
		Error:          "delivery timed out",
	}
	require.NoError(t, s.SaveNotification(ctx, first))
	require.NotZero(t, first.ID)

	redelivery := &models.Notification{
		SubscriptionID: 1,
		ChannelID:      7,
		ChangeID:       9,
		Status:         models.NotificationSent,
		Attempts:       2,
		SentAt:         sql.NullTime{Time: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), Valid: true},
	}
	require.NoError(t, s.SaveNotification(ctx, redelivery))

	got, err := s.GetNotification(ctx, 7, 9)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, models.NotificationSent, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.True(t, got.SentAt.Valid)
	assert.Empty(t, got.Error)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGetNotificationAbsent(t *testing.T) {
	s, _ := newTestStore(t)

	got, err := s.GetNotification(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetPendingNotificationsSkipsTerminal(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	statuses := map[models.NotificationStatus]uint{
		models.NotificationPending:    1,
		models.NotificationFailed:     2,
		models.NotificationSent:       3,
		models.NotificationDeadLetter: 4,
	}
	for status, changeID := range statuses {
		require.NoError(t, s.SaveNotification(ctx, &models.Notification{
			ChannelID: 1,
			ChangeID:  changeID,
			Status:    status,
		}))
	}

	pending, err := s.GetPendingNotifications(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, n := range pending {
		assert.False(t, n.Status.Terminal())
	}
}
