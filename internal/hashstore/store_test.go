package hashstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/cravings/internal/menu"
)

func setupTestStore(t *testing.T) *HashStore {
	t.Helper()
	store, err := NewHashStoreWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewHashStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "test.db")
	store, err := NewHashStoreWithPath(dbPath)
	require.NoError(t, err)
	defer store.Close()

	assert.FileExists(t, dbPath)
}

func TestHashStore_UpsertAndGetItemHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	embeddedAt := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	err := store.UpsertItemHashes(ctx, []ItemHashRecord{
		{IndexName: "menu-items", ItemID: "7", ContentHash: "abc123", EmbeddedAt: embeddedAt},
	})
	require.NoError(t, err)

	retrieved, err := store.GetItemHash(ctx, "menu-items", "7")
	require.NoError(t, err)
	require.NotNil(t, retrieved)
	assert.Equal(t, "abc123", retrieved.ContentHash)
	assert.True(t, embeddedAt.Equal(retrieved.EmbeddedAt))

	err = store.UpsertItemHashes(ctx, []ItemHashRecord{
		{IndexName: "menu-items", ItemID: "7", ContentHash: "def456"},
	})
	require.NoError(t, err)

	retrieved, err = store.GetItemHash(ctx, "menu-items", "7")
	require.NoError(t, err)
	assert.Equal(t, "def456", retrieved.ContentHash)
}

func TestHashStore_GetItemHash_NotFound(t *testing.T) {
	store := setupTestStore(t)

	retrieved, err := store.GetItemHash(context.Background(), "menu-items", "404")
	require.NoError(t, err)
	assert.Nil(t, retrieved)
}

func TestHashStore_IndexesAreSeparate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertItemHashes(ctx, []ItemHashRecord{
		{IndexName: "menu-items", ItemID: "1", ContentHash: "h1"},
		{IndexName: "menu-items", ItemID: "2", ContentHash: "h2"},
		{IndexName: "staging", ItemID: "1", ContentHash: "h3"},
	}))

	hashes, err := store.GetAllItemHashes(ctx, "menu-items")
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
	assert.Equal(t, "h1", hashes["1"].ContentHash)

	staging, err := store.GetAllItemHashes(ctx, "staging")
	require.NoError(t, err)
	assert.Equal(t, "h3", staging["1"].ContentHash)
}

func TestHashStore_DeleteItemHashes(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertItemHashes(ctx, []ItemHashRecord{
		{IndexName: "menu-items", ItemID: "1", ContentHash: "h1"},
		{IndexName: "menu-items", ItemID: "2", ContentHash: "h2"},
		{IndexName: "menu-items", ItemID: "3", ContentHash: "h3"},
	}))

	deleted, err := store.DeleteItemHashes(ctx, "menu-items", []string{"1", "3", "99"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	hashes, err := store.GetAllItemHashes(ctx, "menu-items")
	require.NoError(t, err)
	assert.Len(t, hashes, 1)
	assert.Contains(t, hashes, "2")

	deleted, err = store.DeleteItemHashes(ctx, "menu-items", nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestContentHash(t *testing.T) {
	item := menu.MenuItem{ID: 1, Name: "Iced Mocha", Price: 180, Tags: []string{"cold"}}
	same := item
	same.Tags = []string{"cold"}
	assert.Equal(t, ContentHash(item), ContentHash(same))
	assert.Len(t, ContentHash(item), 32)

	repriced := item
	repriced.Price = 190
	assert.NotEqual(t, ContentHash(item), ContentHash(repriced))
}
