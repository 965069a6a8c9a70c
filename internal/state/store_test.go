package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quillfeed/quillwatch/internal/watch"
)

var migrateNow = time.Date(2026, time.March, 5, 12, 0, 0, 0, time.UTC)

func TestMigrateColdStart(t *testing.T) {
	t.Parallel()

	st, err := Migrate(nil, migrateNow)
	require.NoError(t, err)
	require.Empty(t, st.Entries)
	require.Equal(t, watch.StateVersion, st.Version)
}

func TestMigrateCurrentShapeUnchanged(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"version": 2,
		"entries": {
			"111": {"replies": 4, "reposts": 2, "likes": 30, "checked_at": "2026-03-01T10:00:00Z"}
		}
	}`)

	st, err := Migrate(raw, migrateNow)
	require.NoError(t, err)
	require.Len(t, st.Entries, 1)
	require.Equal(t, 30, st.Entries["111"].Likes)
}

func TestMigrateSeenIDList(t *testing.T) {
	t.Parallel()

	st, err := Migrate([]byte(`["111", "222", ""]`), migrateNow)
	require.NoError(t, err)
	require.Len(t, st.Entries, 2)
	for _, id := range []string{"111", "222"} {
		e, ok := st.Entries[id]
		require.True(t, ok, "id %s", id)
		require.Zero(t, e.Likes, "synthetic entries carry zero counters")
		require.Equal(t, migrateNow, e.CheckedAt, "checked-now keeps them from re-alerting")
	}
}

func TestMigrateNestedQueryShape(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"alerts": {
			"111": {"replies": 1, "retweets": 2, "likes": 10, "last_checked": "2026-02-01T00:00:00Z"},
			"222": {"likes": 5}
		},
		"breaking": {
			"111": {"replies": 9, "retweets": 9, "likes": 99, "last_checked": "2026-02-02T00:00:00Z"}
		}
	}`)

	st, err := Migrate(raw, migrateNow)
	require.NoError(t, err)
	require.Len(t, st.Entries, 2, "duplicate IDs across queries flatten by union")

	// Query keys migrate in sorted order, so "breaking" wins for 111.
	require.Equal(t, 99, st.Entries["111"].Likes)
	require.Equal(t, 2, st.Entries["111"].Reposts)
	require.Equal(t, 5, st.Entries["222"].Likes)
	require.Equal(t, migrateNow, st.Entries["222"].CheckedAt, "missing last_checked falls back to now")
}

func TestMigrateIdempotent(t *testing.T) {
	t.Parallel()

	raw := []byte(`["111", "222"]`)

	once, err := Migrate(raw, migrateNow)
	require.NoError(t, err)

	encoded, err := Encode(once)
	require.NoError(t, err)

	twice, err := Migrate(encoded, migrateNow.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, once, twice)
}

func TestMigrateRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := Migrate([]byte(`{{{not json`), migrateNow)
	require.Error(t, err)

	_, err = Migrate([]byte(`{"version": 7, "entries": {}}`), migrateNow)
	require.Error(t, err)
}
