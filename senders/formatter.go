package senders

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fiffu/regwatch/lib/models"
)

// Headline is the one-line summary shared by the chat-style channels.
func Headline(change *models.Change) string {
	switch change.ChangeType {
	case models.ChangeTypeNew:
		return fmt.Sprintf("New server published: %s (%s)", change.ServerName, change.NewVersion)
	case models.ChangeTypeVersionBump:
		return fmt.Sprintf("Version bump: %s %s -> %s", change.ServerName, change.PreviousVersion, change.NewVersion)
	case models.ChangeTypeUpdated:
		return fmt.Sprintf("Server updated: %s (%s)", change.ServerName, changedFields(change))
	case models.ChangeTypeRemoved:
		return fmt.Sprintf("Server removed: %s (last version %s)", change.ServerName, change.PreviousVersion)
	default:
		return fmt.Sprintf("%s: %s", change.ChangeType, change.ServerName)
	}
}

// Details expands the headline with per-field before/after lines, for
// channels with room for more than one line.
func Details(change *models.Change) string {
	lines := []string{Headline(change)}

	for _, field := range sortedFields(change) {
		delta := change.FieldChanges[field]
		lines = append(lines, fmt.Sprintf("  %s: %q -> %q", field, delta.Old, delta.New))
	}

	if server := change.AffectedServer(); server != nil && server.Description != "" {
		lines = append(lines, server.Description)
	}

	return strings.Join(lines, "\n")
}

func changedFields(change *models.Change) string {
	fields := sortedFields(change)
	if len(fields) == 0 {
		return "no tracked fields"
	}
	return strings.Join(fields, ", ")
}

func sortedFields(change *models.Change) []string {
	fields := make([]string, 0, len(change.FieldChanges))
	for field := range change.FieldChanges {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}
