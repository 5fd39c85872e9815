package chromem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
	chromemStore "github.com/orion-hub/orion-memory-go/pkg/storage/chromem"
	"github.com/orion-hub/orion-memory-go/pkg/storage/storagetest"
)

func setupChromemTest(t *testing.T) storage.VectorStore {
	store, err := chromemStore.NewClient(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestChromemClient_Conformance(t *testing.T) {
	storagetest.Run(t, setupChromemTest)
}

func TestChromemClient_PostFilterRefills(t *testing.T) {
	ctx := context.Background()
	store := setupChromemTest(t)
	require.NoError(t, store.EnsureCollection(ctx, "refill", 4))

	// The closest points do not satisfy the nested condition, so the first
	// query window is empty after post-filtering.
	var points []*storage.Point
	for i := 0; i < 5; i++ {
		points = append(points, storagetest.NewPoint("close", "s", []float64{1, 0.01 * float64(i), 0, 0},
			map[string]interface{}{"meta": map[string]interface{}{"lang": "de"}}))
	}
	target := storagetest.NewPoint("far", "s", []float64{0, 0, 1, 0},
		map[string]interface{}{"meta": map[string]interface{}{"lang": "en"}})
	points = append(points, target)
	require.NoError(t, store.Upsert(ctx, "refill", points))

	results, err := store.Search(ctx, "refill", []float64{1, 0, 0, 0}, &storage.SearchOptions{
		Filter: storage.NewFilter(storage.Keyword("meta.lang", "en")),
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, target.ID, results[0].ID)
}

func TestChromemClient_PersistentPath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := chromemStore.NewClient(&chromemStore.Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx, "disk", 4))
	require.NoError(t, store.Upsert(ctx, "disk", []*storage.Point{
		storagetest.NewPoint("kept", "s", []float64{1, 0, 0, 0}, nil),
	}))
	require.NoError(t, store.Close())

	reopened, err := chromemStore.NewClient(&chromemStore.Config{Path: dir})
	require.NoError(t, err)

	// A fresh process reads without calling EnsureCollection first.
	n, err := reopened.Count(ctx, "disk", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := reopened.Search(ctx, "disk", []float64{1, 0, 0, 0}, &storage.SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "kept", results[0].Text())

	found, err := reopened.Find(ctx, "disk", storage.NewFilter(storage.TextIs("kept")), 1)
	require.NoError(t, err)
	assert.Len(t, found, 1)

	_, err = reopened.Search(ctx, "disk", []float64{1, 0}, nil)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	require.NoError(t, reopened.EnsureCollection(ctx, "disk", 4))
}

func TestChromemClient_PersistentDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := chromemStore.NewClient(&chromemStore.Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx, "disk", 4))
	require.NoError(t, store.Close())

	reopened, err := chromemStore.NewClient(&chromemStore.Config{Path: dir})
	require.NoError(t, err)
	err = reopened.EnsureCollection(ctx, "disk", 8)
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}
