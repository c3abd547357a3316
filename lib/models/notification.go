package models

import (
	"database/sql"
	"time"
)

type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "pending"
	NotificationSent       NotificationStatus = "sent"
	NotificationFailed     NotificationStatus = "failed"
	NotificationDeadLetter NotificationStatus = "dead_letter"
)

// Terminal reports whether the status permits no further transitions.
func (s NotificationStatus) Terminal() bool {
	return s == NotificationSent || s == NotificationDeadLetter
}

// Notification is the delivery record for one (channel, change) pair. The
// pair is the idempotency key: redelivery attempts update the same row, so
// retry bookkeeping and dedupe share one history. Attempts never decreases.
type Notification struct {
	ID             uint               `gorm:"primaryKey"`
	SubscriptionID uint               `gorm:"index"`
	ChannelID      uint               `gorm:"uniqueIndex:idx_channel_change"` // Composite idempotency key on channel & change
	ChangeID       uint               `gorm:"uniqueIndex:idx_channel_change"`
	Status         NotificationStatus `gorm:"index"`
	Attempts       int
	NextRetry      sql.NullTime
	SentAt         sql.NullTime
	Error          string
	CreatedAt      time.Time
}

type Notifications []Notification
