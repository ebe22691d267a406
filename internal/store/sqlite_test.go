// ABOUTME: Tests for the SQLite recent-session store: upsert, recency order,
// ABOUTME: the single current-session marker and cascading delete.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_SaveAndGetSession(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rec := &SessionRecord{
		ID:           "sess-1",
		CurrentAgent: "intake",
		PlanName:     "Comprehensive",
	}
	require.NoError(t, s.SaveSession(ctx, rec))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.ID)
	assert.Equal(t, "intake", got.CurrentAgent)
	assert.Equal(t, "Comprehensive", got.PlanName)
	assert.False(t, got.Completed)
	assert.False(t, got.LastActiveAt.IsZero())
}

func TestSQLiteStore_GetSession_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_SaveSession_UpsertsAndTouches(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &SessionRecord{ID: "sess-1", CurrentAgent: "intake"}))
	first, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.SaveSession(ctx, &SessionRecord{
		ID:           "sess-1",
		CurrentAgent: "pricing",
		PolicyNumber: "POL-1",
		Completed:    true,
	}))

	got, err := s.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "pricing", got.CurrentAgent)
	assert.Equal(t, "POL-1", got.PolicyNumber)
	assert.True(t, got.Completed)
	assert.True(t, got.LastActiveAt.After(first.LastActiveAt))
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
}

func TestSQLiteStore_ListRecent_OrdersByActivity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.SaveSession(ctx, &SessionRecord{ID: id}))
		time.Sleep(5 * time.Millisecond)
	}
	// Touch "a" so it becomes the most recent.
	require.NoError(t, s.SaveSession(ctx, &SessionRecord{ID: "a"}))

	records, err := s.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, "c", records[1].ID)
}

func TestSQLiteStore_CurrentMarker_ReplacedWholesale(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.Current(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveSession(ctx, &SessionRecord{ID: "old"}))
	require.NoError(t, s.SaveSession(ctx, &SessionRecord{ID: "new"}))
	require.NoError(t, s.SetCurrent(ctx, "old"))
	require.NoError(t, s.SetCurrent(ctx, "new"))

	current, err := s.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", current.ID)
}

func TestSQLiteStore_ClearCurrent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &SessionRecord{ID: "sess-1"}))
	require.NoError(t, s.SetCurrent(ctx, "sess-1"))
	require.NoError(t, s.ClearCurrent(ctx))

	_, err := s.Current(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	// Clearing twice is fine.
	require.NoError(t, s.ClearCurrent(ctx))
}

func TestSQLiteStore_DeleteSession_CascadesCurrentMarker(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSession(ctx, &SessionRecord{ID: "sess-1"}))
	require.NoError(t, s.SetCurrent(ctx, "sess-1"))
	require.NoError(t, s.DeleteSession(ctx, "sess-1"))

	_, err := s.GetSession(ctx, "sess-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Current(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteSession(ctx, "sess-1"), ErrNotFound)
}
