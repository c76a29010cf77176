package state

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bitrise-io/go-utils/v2/log"
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInMemoryBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()

	db, err := badgerdb.Open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	store := NewBadgerStore(db, log.NewLogger())
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	store := newInMemoryBadgerStore(t)
	ctx := context.Background()

	st, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Len())

	require.NoError(t, store.Record(ctx, st, 1, "aa", json.RawMessage(`{"md5":"aa"}`)))
	require.NoError(t, store.Record(ctx, st, 3, "cc", json.RawMessage(`{"md5":"cc"}`)))

	reloaded, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, reloaded.Parts())

	other, err := store.Load(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, other.Len(), "states are scoped to their upload id")
}

func TestBadgerStore_Remove(t *testing.T) {
	store := newInMemoryBadgerStore(t)
	ctx := context.Background()

	st := New("u1")
	require.NoError(t, store.Record(ctx, st, 1, "aa", nil))
	require.NoError(t, store.Remove(ctx, "u1"))

	reloaded, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.Len())

	require.NoError(t, store.Remove(ctx, "never-existed"))
}

func TestOpenBadgerStore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadgerStore(dir, log.NewLogger())
	require.NoError(t, err)
	st := New("u1")
	require.NoError(t, store.Record(ctx, st, 2, "bb", nil))
	require.NoError(t, store.Close())

	store, err = OpenBadgerStore(dir, log.NewLogger())
	require.NoError(t, err)
	defer store.Close() //nolint:errcheck

	reloaded, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, reloaded.IsDone(2))
}
