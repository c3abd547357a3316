package snapshotter

import (
	"testing"
	"time"

	"github.com/fiffu/regwatch/lib/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func server(name, version string) models.Server {
	return models.Server{
		Name:        name,
		Description: "a sample server",
		Repository: models.Repository{
			URL:    "https://github.com/" + name,
			Source: "github",
		},
		VersionDetail: models.VersionDetail{Version: version, IsLatest: true},
		Packages: []models.Package{
			{RegistryType: "npm", Name: "@" + name, Version: version},
		},
	}
}

func snapshotOf(servers ...models.Server) *models.Snapshot {
	return models.NewSnapshot(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), servers)
}

func TestDiffVersionBump(t *testing.T) {
	prev := snapshotOf(server("acme/tool", "1.0.0"))
	curr := snapshotOf(server("acme/tool", "1.1.0"))

	changes := Diff(prev, curr)

	require.Len(t, changes, 1)
	assert.Equal(t, "acme/tool", changes[0].ServerName)
	assert.Equal(t, models.ChangeTypeVersionBump, changes[0].ChangeType)
	assert.Equal(t, "1.0.0", changes[0].PreviousVersion)
	assert.Equal(t, "1.1.0", changes[0].NewVersion)
	assert.Equal(t, curr.Timestamp, changes[0].DetectedAt)
}

func TestDiffNewServer(t *testing.T) {
	prev := snapshotOf(server("acme/tool", "1.0.0"))
	curr := snapshotOf(server("acme/tool", "1.0.0"), server("acme/fresh", "0.1.0"))

	changes := Diff(prev, curr)

	require.Len(t, changes, 1)
	assert.Equal(t, "acme/fresh", changes[0].ServerName)
	assert.Equal(t, models.ChangeTypeNew, changes[0].ChangeType)
	assert.Equal(t, "0.1.0", changes[0].NewVersion)
	assert.Empty(t, changes[0].PreviousVersion)
	require.NotNil(t, changes[0].Server)
	assert.Equal(t, "acme/fresh", changes[0].Server.Name)
	assert.Nil(t, changes[0].PreviousServer)
}

func TestDiffRemovedServer(t *testing.T) {
	prev := snapshotOf(server("acme/tool", "1.0.0"), server("acme/gone", "2.0.0"))
	curr := snapshotOf(server("acme/tool", "1.0.0"))

	changes := Diff(prev, curr)

	require.Len(t, changes, 1)
	assert.Equal(t, "acme/gone", changes[0].ServerName)
	assert.Equal(t, models.ChangeTypeRemoved, changes[0].ChangeType)
	assert.Equal(t, "2.0.0", changes[0].PreviousVersion)
	assert.Nil(t, changes[0].Server)
	require.NotNil(t, changes[0].PreviousServer)
	assert.Equal(t, "acme/gone", changes[0].PreviousServer.Name)
}

func TestDiffUpdatedFields(t *testing.T) {
	before := server("acme/tool", "1.0.0")
	after := server("acme/tool", "1.0.0")
	after.Description = "rewritten description"
	after.Repository.URL = "https://gitlab.com/acme/tool"

	changes := Diff(snapshotOf(before), snapshotOf(after))

	require.Len(t, changes, 1)
	change := changes[0]
	assert.Equal(t, models.ChangeTypeUpdated, change.ChangeType)
	assert.Equal(t, "1.0.0", change.PreviousVersion)
	assert.Equal(t, "1.0.0", change.NewVersion)

	require.Len(t, change.FieldChanges, 2)
	assert.Equal(t, models.FieldChange{
		Old: "a sample server",
		New: "rewritten description",
	}, change.FieldChanges["description"])
	assert.Equal(t, models.FieldChange{
		Old: "https://github.com/acme/tool",
		New: "https://gitlab.com/acme/tool",
	}, change.FieldChanges["repository.url"])
}

func TestDiffPackagesTracked(t *testing.T) {
	before := server("acme/tool", "1.0.0")
	after := server("acme/tool", "1.0.0")
	after.Packages = append(after.Packages,
		models.Package{RegistryType: "docker", Name: "acme/tool", Version: "1.0.0"})

	changes := Diff(snapshotOf(before), snapshotOf(after))

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeUpdated, changes[0].ChangeType)
	assert.Contains(t, changes[0].FieldChanges, "packages")
}

func TestDiffVersionBumpWinsOverFieldChanges(t *testing.T) {
	before := server("acme/tool", "1.0.0")
	after := server("acme/tool", "1.1.0")
	after.Description = "rewritten alongside the release"

	changes := Diff(snapshotOf(before), snapshotOf(after))

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeVersionBump, changes[0].ChangeType)
	assert.Nil(t, changes[0].FieldChanges)
}

func TestDiffEqualHashesShortCircuit(t *testing.T) {
	// Same content, different arrival order: the hashes agree, so the diff
	// is empty without walking a single field.
	prev := snapshotOf(server("acme/a", "1.0.0"), server("acme/b", "2.0.0"))
	curr := snapshotOf(server("acme/b", "2.0.0"), server("acme/a", "1.0.0"))
	require.Equal(t, prev.Hash, curr.Hash)

	assert.Empty(t, Diff(prev, curr))
}

func TestDiffRegistryTimestampTouchIsNotAChange(t *testing.T) {
	before := server("acme/tool", "1.0.0")
	after := server("acme/tool", "1.0.0")
	after.UpdatedAt = time.Now()

	assert.Empty(t, Diff(snapshotOf(before), snapshotOf(after)))
}

func TestDiffOrderedByServerName(t *testing.T) {
	prev := snapshotOf(
		server("acme/charlie", "1.0.0"),
		server("acme/alpha", "1.0.0"),
		server("acme/bravo", "1.0.0"),
	)
	curr := snapshotOf(
		server("acme/charlie", "2.0.0"),
		server("acme/alpha", "2.0.0"),
		server("acme/delta", "1.0.0"),
	)

	changes := Diff(prev, curr)

	names := make([]string, len(changes))
	for i, c := range changes {
		names[i] = c.ServerName
	}
	assert.Equal(t, []string{"acme/alpha", "acme/bravo", "acme/charlie", "acme/delta"}, names)

	// Same inputs, same output, every time.
	for i := 0; i < 10; i++ {
		assert.Equal(t, changes, Diff(prev, curr))
	}
}

func TestDiffNilPrevious(t *testing.T) {
	curr := snapshotOf(server("acme/tool", "1.0.0"))

	changes := Diff(nil, curr)

	require.Len(t, changes, 1)
	assert.Equal(t, models.ChangeTypeNew, changes[0].ChangeType)
}
