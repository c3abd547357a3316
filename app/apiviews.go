package app

import (
	"database/sql"
	"time"

	"github.com/fiffu/regwatch/lib"
	"github.com/fiffu/regwatch/lib/models"
)

type SubscriptionView struct {
	ID                uint                       `json:"id"`
	Name              string                     `json:"name"`
	Description       string                     `json:"description,omitempty"`
	Filters           models.SubscriptionFilters `json:"filters"`
	Status            models.SubscriptionStatus  `json:"status"`
	APIKeyHint        string                     `json:"api_key_hint"`
	NotificationCount int64                      `json:"notification_count"`
	LastReset         *string                    `json:"last_reset"`
	LastNotified      *string                    `json:"last_notified"`
	Channels          []ChannelView              `json:"channels,omitempty"`
}

func (view SubscriptionView) From(entity *models.Subscription) SubscriptionView {
	return SubscriptionView{
		ID:                entity.ID,
		Name:              entity.Name,
		Description:       entity.Description,
		Filters:           entity.Filters,
		Status:            entity.Status,
		APIKeyHint:        entity.APIKeyHint,
		NotificationCount: entity.NotificationCount,
		LastReset:         isoformat(entity.LastReset),
		LastNotified:      isoformat(entity.LastNotified),
		Channels:          FromMany[models.Channel, ChannelView](entity.Channels),
	}
}

type ChannelView struct {
	ID           uint                 `json:"id"`
	Type         models.ChannelType   `json:"type"`
	Config       models.ChannelConfig `json:"config"`
	Enabled      bool                 `json:"enabled"`
	SuccessCount int64                `json:"success_count"`
	FailureCount int64                `json:"failure_count"`
	LastSuccess  *string              `json:"last_success"`
	LastFailure  *string              `json:"last_failure"`
	LastError    string               `json:"last_error,omitempty"`
}

func (view ChannelView) From(entity models.Channel) ChannelView {
	return ChannelView{
		ID:           entity.ID,
		Type:         entity.Type,
		Config:       entity.Config,
		Enabled:      entity.Enabled,
		SuccessCount: entity.SuccessCount,
		FailureCount: entity.FailureCount,
		LastSuccess:  isoformat(entity.LastSuccess),
		LastFailure:  isoformat(entity.LastFailure),
		LastError:    entity.LastError,
	}
}

// ChangeView omits the full before/after server documents; list responses
// stay light and the tracked deltas are already in field_changes.
type ChangeView struct {
	ID              uint                          `json:"id"`
	SnapshotID      uint                          `json:"snapshot_id"`
	ServerName      string                        `json:"server_name"`
	ChangeType      models.ChangeType             `json:"change_type"`
	PreviousVersion string                        `json:"previous_version,omitempty"`
	NewVersion      string                        `json:"new_version,omitempty"`
	FieldChanges    map[string]models.FieldChange `json:"field_changes,omitempty"`
	DetectedAt      string                        `json:"detected_at"`
}

func (view ChangeView) From(entity models.Change) ChangeView {
	return ChangeView{
		ID:              entity.ID,
		SnapshotID:      entity.SnapshotID,
		ServerName:      entity.ServerName,
		ChangeType:      entity.ChangeType,
		PreviousVersion: entity.PreviousVersion,
		NewVersion:      entity.NewVersion,
		FieldChanges:    entity.FieldChanges,
		DetectedAt:      entity.DetectedAt.UTC().Format(time.RFC3339),
	}
}

type SnapshotView struct {
	ID          uint   `json:"id"`
	Timestamp   string `json:"timestamp"`
	ServerCount int    `json:"server_count"`
	Hash        string `json:"hash"`
}

func (view SnapshotView) From(entity *models.Snapshot) SnapshotView {
	return SnapshotView{
		ID:          entity.ID,
		Timestamp:   entity.Timestamp.UTC().Format(time.RFC3339),
		ServerCount: entity.ServerCount,
		Hash:        entity.Hash,
	}
}

type StatsView struct {
	SnapshotAt      string `json:"snapshot_at,omitempty"`
	ServerCount     int    `json:"server_count"`
	SnapshotHash    string `json:"snapshot_hash,omitempty"`
	ChangesLast24h  int64  `json:"changes_last_24h"`
	RetryQueueDepth int    `json:"retry_queue_depth"`
}

func (view StatsView) From(entity *lib.Stats) StatsView {
	v := StatsView{
		ServerCount:     entity.ServerCount,
		SnapshotHash:    entity.SnapshotHash,
		ChangesLast24h:  entity.ChangesLast24h,
		RetryQueueDepth: entity.RetryQueueDepth,
	}
	if !entity.SnapshotAt.IsZero() {
		v.SnapshotAt = entity.SnapshotAt.UTC().Format(time.RFC3339)
	}
	return v
}

type Fromable[Entity any, Repr any] interface {
	From(Entity) Repr
}

func FromMany[T any, U Fromable[T, U]](elems []T) []U {
	out := make([]U, len(elems))
	for i, t := range elems {
		var u U
		out[i] = u.From(t)
	}
	return out
}

func isoformat(t sql.NullTime) *string {
	if t.Valid {
		s := t.Time.UTC().Format(time.RFC3339)
		return &s
	}
	return nil
}
