package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-incident/internal/cache"
	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/models"
)

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "ml_results")
	require.ErrorIs(t, err, models.ErrNoResults)

	first := []byte("{\n    \"scan_id\": \"one\"\n}")
	second := []byte("{\n    \"scan_id\": \"two\"\n}")
	require.NoError(t, store.Put(ctx, "ml_results", first))
	require.NoError(t, store.Put(ctx, "ml_results", second))

	got, err := store.Get(ctx, "ml_results")
	require.NoError(t, err)
	assert.Equal(t, second, got, "latest write wins and bytes round-trip unchanged")

	again, err := store.Get(ctx, "ml_results")
	require.NoError(t, err)
	assert.Equal(t, got, again)

	_, err = store.Get(ctx, "blast_radius_results")
	assert.ErrorIs(t, err, models.ErrNoResults)
}

func TestFileStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "output")
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	runStoreContract(t, store)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, "ml_results.json", entries[0].Name())
}

func TestCacheStore(t *testing.T) {
	provider, err := cache.NewLRUProvider(8)
	require.NoError(t, err)
	runStoreContract(t, NewCacheStore(provider, 0))
}

func TestOpen(t *testing.T) {
	store, err := Open(config.ArtifactsConfig{Driver: "file", Dir: t.TempDir()}, config.CacheConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	store, err = Open(config.ArtifactsConfig{Driver: "cache"}, config.CacheConfig{LRUSize: 4}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CacheStore{}, store)

	_, err = Open(config.ArtifactsConfig{Driver: "s3"}, config.CacheConfig{}, nil)
	assert.Error(t, err)
}
