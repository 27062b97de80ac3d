package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorycore/internal/storage"
	"github.com/scrypster/memorycore/internal/storage/sqlite"
	"github.com/scrypster/memorycore/pkg/types"
)

func newTestStore(t *testing.T) *sqlite.MemoryStore {
	t.Helper()
	store, err := sqlite.NewMemoryStore("file::memory:?cache=shared", 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLogger_CreatedRoundTrips(t *testing.T) {
	store := newTestStore(t)
	logger := New(store)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)

	id := types.NewMemoryID()
	require.NoError(t, logger.Created(ctx, tx, id, CreatedDetails{Namespace: types.Global()}))
	require.NoError(t, tx.Commit())

	events, next, err := logger.Since(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, storage.AuditCreated, events[0].Op)
	assert.Equal(t, id, *events[0].MemoryID)
	assert.Greater(t, next, int64(0))

	var d CreatedDetails
	require.NoError(t, json.Unmarshal([]byte(events[0].Details), &d))
	assert.Equal(t, types.Global(), d.Namespace)
}

func TestLogger_SinceCursorIsExclusive(t *testing.T) {
	store := newTestStore(t)
	logger := New(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tx, err := store.BeginTx(ctx)
		require.NoError(t, err)
		id := types.NewMemoryID()
		require.NoError(t, logger.Created(ctx, tx, id, CreatedDetails{}))
		require.NoError(t, tx.Commit())
	}

	first, cursor, err := logger.Since(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	rest, _, err := logger.Since(ctx, cursor, 10)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestLogger_OneEntryPerCausingTransaction(t *testing.T) {
	store := newTestStore(t)
	logger := New(store)
	ctx := context.Background()

	tx, err := store.BeginTx(ctx)
	require.NoError(t, err)
	id := types.NewMemoryID()
	require.NoError(t, logger.Updated(ctx, tx, id, UpdatedDetails{FieldsChanged: []string{"content"}}))
	require.NoError(t, tx.Commit())

	events, _, err := logger.Since(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, storage.AuditUpdated, events[0].Op)
}
