// Package storagetest holds the behaviour every VectorStore backend must
// share, runnable against any implementation.
package storagetest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

const dims = 4

// Factory returns a fresh store for a subtest. Cleanup is the caller's job.
type Factory func(t *testing.T) storage.VectorStore

// CollectionName returns a collection name unique to this run, so server
// backed stores can share a database between runs.
func CollectionName(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
}

// NewPoint builds a valid point with the given payload additions.
func NewPoint(text, sourceID string, vector []float64, extra map[string]interface{}) *storage.Point {
	payload := map[string]interface{}{
		storage.KeyText:     text,
		storage.KeySourceID: sourceID,
		storage.KeyType:     "general",
		storage.KeyTags:     []string{},
	}
	for k, v := range extra {
		payload[k] = v
	}
	return &storage.Point{ID: uuid.NewString(), Vector: vector, Payload: payload}
}

// Run exercises the full VectorStore contract.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("EnsureCollectionIdempotent", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("ensure")

		require.NoError(t, store.EnsureCollection(ctx, coll, dims))
		require.NoError(t, store.EnsureCollection(ctx, coll, dims))

		err := store.EnsureCollection(ctx, coll, dims+1)
		assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	})

	t.Run("InvalidCollectionName", func(t *testing.T) {
		store := newStore(t)
		err := store.EnsureCollection(ctx, "bad name; drop", dims)
		assert.ErrorIs(t, err, storage.ErrInvalidCollection)
	})

	t.Run("MissingCollectionReadsEmpty", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("missing")

		results, err := store.Search(ctx, coll, []float64{1, 0, 0, 0}, &storage.SearchOptions{Limit: 5})
		require.NoError(t, err)
		assert.Empty(t, results)

		points, err := store.Find(ctx, coll, storage.NewFilter(storage.TextIs("x")), 1)
		require.NoError(t, err)
		assert.Empty(t, points)

		n, err := store.Count(ctx, coll, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("UpsertAndCount", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("count")
		require.NoError(t, store.EnsureCollection(ctx, coll, dims))

		points := []*storage.Point{
			NewPoint("alpha", "s1", []float64{1, 0, 0, 0}, nil),
			NewPoint("beta", "s1", []float64{0, 1, 0, 0}, nil),
			NewPoint("gamma", "s2", []float64{0, 0, 1, 0}, nil),
		}
		require.NoError(t, store.Upsert(ctx, coll, points))

		n, err := store.Count(ctx, coll, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = store.Count(ctx, coll, storage.NewFilter(storage.SourceIs("s1")))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		// Same id again replaces rather than duplicates.
		points[0].Payload[storage.KeyText] = "alpha v2"
		require.NoError(t, store.Upsert(ctx, coll, points[:1]))
		n, err = store.Count(ctx, coll, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("UpsertRejectsBadPoints", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("reject")
		require.NoError(t, store.EnsureCollection(ctx, coll, dims))

		err := store.Upsert(ctx, coll, []*storage.Point{NewPoint("short", "s", []float64{1, 0}, nil)})
		assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

		err = store.Upsert(ctx, coll, []*storage.Point{NewPoint("   ", "s", []float64{1, 0, 0, 0}, nil)})
		assert.ErrorIs(t, err, storage.ErrInvalidPoint)

		n, err := store.Count(ctx, coll, nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SearchOrdersByScore", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("search")
		require.NoError(t, store.EnsureCollection(ctx, coll, dims))

		near := NewPoint("near", "s", []float64{1, 0.1, 0, 0}, nil)
		mid := NewPoint("mid", "s", []float64{1, 1, 0, 0}, nil)
		far := NewPoint("far", "s", []float64{0, 0, 0, 1}, nil)
		require.NoError(t, store.Upsert(ctx, coll, []*storage.Point{far, mid, near}))

		results, err := store.Search(ctx, coll, []float64{1, 0, 0, 0}, &storage.SearchOptions{Limit: 2})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, near.ID, results[0].ID)
		assert.Equal(t, mid.ID, results[1].ID)
		assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
		assert.Equal(t, "near", results[0].Text())

		results, err = store.Search(ctx, coll, []float64{1, 0, 0, 0}, &storage.SearchOptions{Limit: 10, MinScore: 0.5})
		require.NoError(t, err)
		assert.Len(t, results, 2)
		for _, r := range results {
			assert.GreaterOrEqual(t, r.Score, 0.5)
		}

		_, err = store.Search(ctx, coll, []float64{1, 0}, &storage.SearchOptions{Limit: 1})
		assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
	})

	t.Run("FilterIsConjunction", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("filter")
		require.NoError(t, store.EnsureCollection(ctx, coll, dims))

		workOnly := NewPoint("work note", "s", []float64{1, 0, 0, 0}, map[string]interface{}{
			storage.KeyType: "note",
			storage.KeyTags: []string{"work"},
		})
		urgent := NewPoint("urgent work note", "s", []float64{0.9, 0.1, 0, 0}, map[string]interface{}{
			storage.KeyType: "note",
			storage.KeyTags: []string{"work", "urgent"},
		})
		other := NewPoint("task", "s", []float64{0.8, 0.2, 0, 0}, map[string]interface{}{
			storage.KeyType: "task",
			storage.KeyTags: []string{"work", "urgent"},
		})
		require.NoError(t, store.Upsert(ctx, coll, []*storage.Point{workOnly, urgent, other}))

		query := []float64{1, 0, 0, 0}
		filter := storage.NewFilter(storage.TypeIs("note"), storage.HasTag("work"), storage.HasTag("urgent"))
		results, err := store.Search(ctx, coll, query, &storage.SearchOptions{Filter: filter, Limit: 10})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, urgent.ID, results[0].ID)

		results, err = store.Search(ctx, coll, query, &storage.SearchOptions{
			Filter: storage.NewFilter(storage.HasTag("WORK ")), Limit: 10,
		})
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})

	t.Run("FilterOnScalarKinds", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("kinds")
		require.NoError(t, store.EnsureCollection(ctx, coll, dims))

		a := NewPoint("a", "s", []float64{1, 0, 0, 0}, map[string]interface{}{"priority": 2, "archived": false})
		b := NewPoint("b", "s", []float64{0, 1, 0, 0}, map[string]interface{}{"priority": 3, "archived": true})
		require.NoError(t, store.Upsert(ctx, coll, []*storage.Point{a, b}))

		points, err := store.Find(ctx, coll, storage.NewFilter(storage.Integer("priority", 3)), 10)
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, b.ID, points[0].ID)

		points, err = store.Find(ctx, coll, storage.NewFilter(storage.Bool("payload.archived", false)), 10)
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, a.ID, points[0].ID)
	})

	t.Run("FindExactText", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("find")
		require.NoError(t, store.EnsureCollection(ctx, coll, dims))

		require.NoError(t, store.Upsert(ctx, coll, []*storage.Point{
			NewPoint("Hello world", "a", []float64{1, 0, 0, 0}, nil),
			NewPoint("Hello world!", "a", []float64{0, 1, 0, 0}, nil),
		}))

		points, err := store.Find(ctx, coll, storage.NewFilter(storage.TextIs("Hello world")), 1)
		require.NoError(t, err)
		require.Len(t, points, 1)
		assert.Equal(t, "Hello world", points[0].Text())

		points, err = store.Find(ctx, coll, storage.NewFilter(storage.TextIs("hello world")), 1)
		require.NoError(t, err)
		assert.Empty(t, points)
	})

	t.Run("FindEnumeratesAll", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("enum")
		require.NoError(t, store.EnsureCollection(ctx, coll, dims))

		var points []*storage.Point
		for i := 0; i < 7; i++ {
			points = append(points, NewPoint(fmt.Sprintf("p%d", i), "s", []float64{1, float64(i), 0, 0}, nil))
		}
		require.NoError(t, store.Upsert(ctx, coll, points))

		all, err := store.Find(ctx, coll, nil, 0)
		require.NoError(t, err)
		assert.Len(t, all, 7)

		some, err := store.Find(ctx, coll, nil, 3)
		require.NoError(t, err)
		assert.Len(t, some, 3)
	})

	t.Run("InvalidFilter", func(t *testing.T) {
		store := newStore(t)
		coll := CollectionName("badfilter")
		require.NoError(t, store.EnsureCollection(ctx, coll, dims))

		bad := storage.NewFilter(storage.Keyword("payload.ty pe", "x"))
		_, err := store.Search(ctx, coll, []float64{1, 0, 0, 0}, &storage.SearchOptions{Filter: bad, Limit: 1})
		assert.ErrorIs(t, err, storage.ErrInvalidFilter)

		_, err = store.Find(ctx, coll, bad, 1)
		assert.ErrorIs(t, err, storage.ErrInvalidFilter)
	})
}
