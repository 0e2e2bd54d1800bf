package store_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scipunch/updatesbot/store"
)

func TestDiffWithoutRecord(t *testing.T) {
	dedup := store.NewDedup(store.NewMemory())

	fresh, err := dedup.Diff(context.Background(), "chrome_releases", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, fresh)
}

func TestDiffKeepsOrder(t *testing.T) {
	ctx := context.Background()
	dedup := store.NewDedup(store.NewMemory())
	require.NoError(t, dedup.Commit(ctx, "feed", []string{"b", "d"}))

	fresh, err := dedup.Diff(ctx, "feed", []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "e"}, fresh)
}

func TestDiffDoesNotCommit(t *testing.T) {
	ctx := context.Background()
	dedup := store.NewDedup(store.NewMemory())

	_, err := dedup.Diff(ctx, "feed", []string{"a"})
	require.NoError(t, err)

	known, err := dedup.Known(ctx, "feed")
	require.NoError(t, err)
	assert.Empty(t, known)
}

func TestCommitReplacesRecord(t *testing.T) {
	ctx := context.Background()
	dedup := store.NewDedup(store.NewMemory())

	// the oldest item scrolls out of the feed window
	require.NoError(t, dedup.Commit(ctx, "feed", []string{"a", "b", "c"}))
	require.NoError(t, dedup.Commit(ctx, "feed", []string{"b", "c", "d"}))

	fresh, err := dedup.Diff(ctx, "feed", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, fresh, "ids outside the latest record are forgotten")
}

func TestCommitEmptyRecord(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	dedup := store.NewDedup(kv)

	require.NoError(t, dedup.Commit(ctx, "feed", nil))

	raw, found, err := kv.Get(ctx, "feed")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "[]", raw)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	dedup := store.NewDedup(store.NewMemory())
	require.NoError(t, dedup.Commit(ctx, "a", []string{"1"}))
	require.NoError(t, dedup.Commit(ctx, "b", []string{"2"}))

	require.NoError(t, dedup.Reset(ctx))

	snapshot, err := dedup.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	kv, err := store.NewSQLite(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer kv.Close()

	dedup := store.NewDedup(kv)
	require.NoError(t, dedup.Commit(ctx, "a", []string{"1", "2"}))
	require.NoError(t, dedup.Commit(ctx, "b", []string{}))

	snapshot, err := dedup.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"a": {"1", "2"},
		"b": {},
	}, snapshot)
}

func TestCorruptRecord(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	require.NoError(t, kv.Set(ctx, "feed", "not json"))

	_, err := store.NewDedup(kv).Diff(ctx, "feed", []string{"a"})
	assert.ErrorContains(t, err, "corrupt record for feed feed")
}
