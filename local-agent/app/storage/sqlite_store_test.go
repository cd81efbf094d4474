package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_CursorIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	pos, err := store.GetCursor(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)

	pos, err = store.AdvanceCursor(ctx, "sales", 120)
	require.NoError(t, err)
	assert.Equal(t, int64(120), pos)

	pos, err = store.AdvanceCursor(ctx, "sales", 80)
	require.NoError(t, err)
	assert.Equal(t, int64(120), pos, "cursor must never move backwards")

	pos, err = store.AdvanceCursor(ctx, "sales", 121)
	require.NoError(t, err)
	assert.Equal(t, int64(121), pos)

	_, err = store.AdvanceCursor(ctx, "menu", 5)
	require.NoError(t, err)

	cursors, err := store.Cursors(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"menu": 5, "sales": 121}, cursors)
}

func TestStore_CursorSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent.db")

	store, err := NewStore(path)
	require.NoError(t, err)
	_, err = store.AdvanceCursor(ctx, "sales", 42)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	pos, err := reopened.GetCursor(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, int64(42), pos)
}

func TestStore_BatchHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	last := int64(10)
	require.NoError(t, store.RecordBatch(ctx, BatchRecord{BatchID: "b1", SyncType: "sales", BatchIndex: 0, BatchTotal: 2, RecordCount: 10, LastPosition: &last}))
	require.NoError(t, store.RecordBatch(ctx, BatchRecord{BatchID: "b1", SyncType: "sales", BatchIndex: 1, BatchTotal: 2, RecordCount: 5}))
	// duplicate insert is ignored
	require.NoError(t, store.RecordBatch(ctx, BatchRecord{BatchID: "b1", SyncType: "sales", BatchIndex: 0, BatchTotal: 2, RecordCount: 10}))

	require.NoError(t, store.MarkBatchAcked(ctx, "b1", 0))
	require.NoError(t, store.MarkBatchFailed(ctx, "b1", 1, "server returned 500"))

	batches, err := store.RecentBatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batches, 2)

	assert.Equal(t, 1, batches[0].BatchIndex)
	assert.Equal(t, BatchFailed, batches[0].Status)
	require.NotNil(t, batches[0].ErrorMsg)
	assert.Equal(t, "server returned 500", *batches[0].ErrorMsg)

	assert.Equal(t, 0, batches[1].BatchIndex)
	assert.Equal(t, BatchAcked, batches[1].Status)
	require.NotNil(t, batches[1].LastPosition)
	assert.Equal(t, int64(10), *batches[1].LastPosition)

	// recent rows survive cleanup
	require.NoError(t, store.CleanupHistory(ctx, 7))
	batches, err = store.RecentBatches(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, batches, 2)
}

func TestStore_CleanupHistoryRemovesOldFinishedRows(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.RecordBatch(ctx, BatchRecord{BatchID: "old", SyncType: "menu", BatchIndex: 0, BatchTotal: 1, RecordCount: 1}))
	require.NoError(t, store.MarkBatchAcked(ctx, "old", 0))
	_, err := store.db.ExecContext(ctx, `UPDATE sync_history SET created_at = datetime('now', '-8 days') WHERE batch_id = 'old'`)
	require.NoError(t, err)

	require.NoError(t, store.CleanupHistory(ctx, 7))

	batches, err := store.RecentBatches(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestStore_FailureCounterAndState(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := store.RecordFailure(ctx, "first", now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.RecordFailure(ctx, "second", now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, store.SetState(ctx, StateStatus, "error"))
	require.NoError(t, store.SetState(ctx, StateAuthFailed, "true"))
	_, err = store.AdvanceCursor(ctx, "sales", 7)
	require.NoError(t, err)

	state, err := store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, "error", state.Status)
	assert.Equal(t, 2, state.ConsecutiveFailures)
	assert.Equal(t, "second", state.LastError)
	assert.Equal(t, "2024-03-01T12:00:00Z", state.LastErrorAt)
	assert.True(t, state.AuthFailed)
	assert.Equal(t, int64(7), state.Cursors["sales"])

	require.NoError(t, store.ResetFailures(ctx))
	state, err = store.LoadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, state.ConsecutiveFailures)

	v, err := store.GetState(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, v)
}
