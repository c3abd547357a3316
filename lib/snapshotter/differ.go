package snapshotter

import (
	"sort"
	"strconv"
	"time"

	"github.com/fiffu/regwatch/lib/models"
)

// Diff compares two snapshots and emits one Change per server whose tracked
// fields differ, ordered by server name so the output is reproducible. A nil
// snapshot counts as empty. Equal hashes skip the field walk entirely; the
// hash covers exactly the tracked fields, so this is equivalent to running
// the full comparison.
func Diff(previous, current *models.Snapshot) models.Changes {
	changes := make(models.Changes, 0)

	if previous != nil && current != nil && previous.Hash == current.Hash {
		return changes
	}

	var prevByName, currByName map[string]models.Server
	if previous != nil {
		prevByName = previous.ByName()
	}
	if current != nil {
		currByName = current.ByName()
	}

	var snapshotID uint
	var detectedAt time.Time
	if current != nil {
		snapshotID = current.ID
		detectedAt = current.Timestamp
	}

	for name, curr := range currByName {
		prev, existed := prevByName[name]
		if !existed {
			after := curr
			changes = append(changes, models.Change{
				SnapshotID: snapshotID,
				ServerName: name,
				ChangeType: models.ChangeTypeNew,
				NewVersion: curr.Version(),
				Server:     &after,
				DetectedAt: detectedAt,
			})
			continue
		}
		if change, changed := compareServer(prev, curr); changed {
			change.SnapshotID = snapshotID
			change.DetectedAt = detectedAt
			changes = append(changes, change)
		}
	}

	for name, prev := range prevByName {
		if _, stillThere := currByName[name]; stillThere {
			continue
		}
		before := prev
		changes = append(changes, models.Change{
			SnapshotID:      snapshotID,
			ServerName:      name,
			ChangeType:      models.ChangeTypeRemoved,
			PreviousVersion: prev.Version(),
			PreviousServer:  &before,
			DetectedAt:      detectedAt,
		})
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].ServerName < changes[j].ServerName
	})
	return changes
}

// compareServer emits at most one change for a server present in both
// snapshots. A version difference wins and becomes a version_bump; otherwise
// any tracked field difference becomes an update carrying per-field
// before/after values.
func compareServer(prev, curr models.Server) (models.Change, bool) {
	change := models.Change{
		ServerName:      curr.Name,
		PreviousVersion: prev.Version(),
		NewVersion:      curr.Version(),
		Server:          &curr,
		PreviousServer:  &prev,
	}

	if prev.Version() != curr.Version() {
		change.ChangeType = models.ChangeTypeVersionBump
		return change, true
	}

	deltas := fieldChanges(prev, curr)
	if len(deltas) == 0 {
		return models.Change{}, false
	}
	change.ChangeType = models.ChangeTypeUpdated
	change.FieldChanges = deltas
	return change, true
}

func fieldChanges(prev, curr models.Server) map[string]models.FieldChange {
	deltas := make(map[string]models.FieldChange)
	record := func(field, before, after string) {
		if before != after {
			deltas[field] = models.FieldChange{Old: before, New: after}
		}
	}

	record("description", prev.Description, curr.Description)
	record("repository.url", prev.Repository.URL, curr.Repository.URL)
	record("repository.source", prev.Repository.Source, curr.Repository.Source)
	record("versionDetail.isLatest",
		strconv.FormatBool(prev.VersionDetail.IsLatest),
		strconv.FormatBool(curr.VersionDetail.IsLatest))
	record("packages", prev.PackagesString(), curr.PackagesString())

	if len(deltas) == 0 {
		return nil
	}
	return deltas
}
