package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "roost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordStartAndEnd(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.RecordStart(ctx, SessionRecord{
		ID:        "s1",
		Profile:   "test",
		Host:      "localhost",
		Port:      25565,
		Username:  "roost",
		StartedAt: started,
	}))

	require.NoError(t, store.RecordEnd(ctx, "s1", "Server closed", "generic"))

	sessions, err := store.RecentSessions(ctx, "test", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	rec := sessions[0]
	assert.Equal(t, "s1", rec.ID)
	assert.Equal(t, "localhost", rec.Host)
	assert.Equal(t, "Server closed", rec.EndReason)
	assert.Equal(t, "generic", rec.Classification)
	require.NotNil(t, rec.EndedAt)
	assert.InDelta(t, time.Minute, rec.Duration(), float64(5*time.Second))
}

func TestRecordEndUnknownSession(t *testing.T) {
	store := openTestStore(t)

	err := store.RecordEnd(context.Background(), "missing", "reason", "generic")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordEndOnlyClosesOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordStart(ctx, SessionRecord{ID: "s1", Profile: "test", Host: "h", Port: 1, Username: "u"}))
	require.NoError(t, store.RecordEnd(ctx, "s1", "first", "generic"))

	// A second close of the same session must not overwrite the first.
	assert.ErrorIs(t, store.RecordEnd(ctx, "s1", "second", "ban"), ErrNotFound)

	sessions, err := store.RecentSessions(ctx, "test", 1)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "first", sessions[0].EndReason)
}

func TestRecentSessionsOrderAndLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.RecordStart(ctx, SessionRecord{
			ID:        id,
			Profile:   "test",
			Host:      "h",
			Port:      1,
			Username:  "u",
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	sessions, err := store.RecentSessions(ctx, "test", 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "c", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
}

func TestTotalUptime(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	start := time.Now().UTC().Add(-10 * time.Minute)
	require.NoError(t, store.RecordStart(ctx, SessionRecord{ID: "s1", Profile: "test", Host: "h", Port: 1, Username: "u", StartedAt: start}))
	require.NoError(t, store.RecordEnd(ctx, "s1", "", ""))

	// Open sessions do not count towards the total.
	require.NoError(t, store.RecordStart(ctx, SessionRecord{ID: "s2", Profile: "test", Host: "h", Port: 1, Username: "u"}))

	total, err := store.TotalUptime(ctx, "test")
	require.NoError(t, err)
	assert.InDelta(t, 10*time.Minute, total, float64(10*time.Second))

	other, err := store.TotalUptime(ctx, "other")
	require.NoError(t, err)
	assert.Zero(t, other)
}
