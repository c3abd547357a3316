package models

import (
	"database/sql"

	"gorm.io/gorm"
)

type SubscriptionStatus string

const (
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionPaused  SubscriptionStatus = "paused"
	SubscriptionRevoked SubscriptionStatus = "revoked"
)

// SubscriptionFilters is the stored predicate document. Every present clause
// must match for a change to be relevant; absent clauses are vacuously true.
type SubscriptionFilters struct {
	ChangeTypes          []ChangeType `json:"changeTypes,omitempty"`
	ServerNamePattern    string       `json:"serverNamePattern,omitempty"` // glob over the server name
	PackageRegistryTypes []string     `json:"packageRegistryTypes,omitempty"`
}

func (f SubscriptionFilters) IsEmpty() bool {
	return len(f.ChangeTypes) == 0 && f.ServerNamePattern == "" && len(f.PackageRegistryTypes) == 0
}

// Subscription is one subscriber with a filter predicate and owned channels.
// The dispatch pipeline only ever mutates NotificationCount and LastNotified;
// everything else belongs to the admin surface.
type Subscription struct {
	gorm.Model
	Name              string `gorm:"unique"`
	Description       string
	Filters           SubscriptionFilters `gorm:"serializer:json"`
	Status            SubscriptionStatus  `gorm:"index;default:active"`
	APIKeyHash        string              `gorm:"uniqueIndex"`
	APIKeyHint        string
	NotificationCount int64
	LastReset         sql.NullTime
	LastNotified      sql.NullTime

	Channels []Channel
}

type Subscriptions []Subscription

func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionActive
}
