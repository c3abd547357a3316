package models

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Snapshot is a content-addressed capture of the full registry server list,
// built once per poll cycle. Immutable once persisted.
type Snapshot struct {
	ID          uint      `gorm:"primaryKey"`
	Timestamp   time.Time `gorm:"index"`
	ServerCount int
	Hash        string   `gorm:"index"`
	Servers     []Server `gorm:"serializer:json"`
}

type Snapshots []Snapshot

// NewSnapshot normalizes and name-sorts the server list, then seals it with a
// digest over every tracked field. Two snapshots of the same registry content
// hash identically no matter what order the servers arrived in.
func NewSnapshot(timestamp time.Time, servers []Server) *Snapshot {
	normalized := make([]Server, len(servers))
	copy(normalized, servers)
	for i := range normalized {
		normalized[i].Normalize()
	}
	sort.Slice(normalized, func(i, j int) bool {
		return normalized[i].Name < normalized[j].Name
	})

	return &Snapshot{
		Timestamp:   timestamp,
		ServerCount: len(normalized),
		Hash:        HashServers(normalized),
		Servers:     normalized,
	}
}

func (s *Snapshot) BeforeCreate(tx *gorm.DB) error {
	if s.Hash == "" {
		s.Hash = HashServers(s.Servers)
	}
	if s.ServerCount == 0 {
		s.ServerCount = len(s.Servers)
	}
	return nil
}

// ByName keys the snapshot's servers by name for diffing.
func (s *Snapshot) ByName() map[string]Server {
	out := make(map[string]Server, len(s.Servers))
	for _, srv := range s.Servers {
		out[srv.Name] = srv
	}
	return out
}

// HashServers digests the sorted canonical lines of the given servers. The
// input order does not matter; the digest covers exactly the tracked fields,
// so equal hashes imply an empty diff and vice versa.
func HashServers(servers []Server) string {
	lines := make([]string, len(servers))
	for i, srv := range servers {
		srv.Normalize()
		lines[i] = srv.canonicalLine()
	}
	sort.Strings(lines)
	sum := sha256.Sum256([]byte(strings.Join(lines, "\x1e")))
	return fmt.Sprintf("%x", sum)
}
