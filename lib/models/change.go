package models

import "time"

type ChangeType string

const (
	ChangeTypeNew         ChangeType = "new"
	ChangeTypeUpdated     ChangeType = "updated"
	ChangeTypeRemoved     ChangeType = "removed"
	ChangeTypeVersionBump ChangeType = "version_bump"
)

// FieldChange holds the before/after values of a single tracked field.
type FieldChange struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// Change is one detected difference between two consecutive snapshots for one
// server. Immutable once created; one row per affected server per poll cycle.
type Change struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SnapshotID      uint       `gorm:"index" json:"snapshotId"`
	ServerName      string     `gorm:"index" json:"serverName"`
	ChangeType      ChangeType `gorm:"index" json:"changeType"`
	PreviousVersion string     `json:"previousVersion,omitempty"`
	NewVersion      string     `json:"newVersion,omitempty"`
	FieldChanges    map[string]FieldChange `gorm:"serializer:json" json:"fieldChanges,omitempty"`
	Server          *Server                `gorm:"serializer:json" json:"server,omitempty"`         // state after the change, nil for removed
	PreviousServer  *Server                `gorm:"serializer:json" json:"previousServer,omitempty"` // state before the change, nil for new
	DetectedAt      time.Time              `gorm:"index" json:"detectedAt"`
}

type Changes []Change

// AffectedServer returns the server record the change is about: the current
// state when one exists, otherwise the last known state (removals).
func (c *Change) AffectedServer() *Server {
	if c.Server != nil {
		return c.Server
	}
	return c.PreviousServer
}
