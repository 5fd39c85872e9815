package core_test

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-hub/orion-memory-go/pkg/cache"
	"github.com/orion-hub/orion-memory-go/pkg/core"
	"github.com/orion-hub/orion-memory-go/pkg/embedder/hash"
	"github.com/orion-hub/orion-memory-go/pkg/secondary"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
	"github.com/orion-hub/orion-memory-go/pkg/storage/chromem"
)

// countingEmbedder wraps the hash embedder and counts batch calls.
type countingEmbedder struct {
	*hash.Client
	calls atomic.Int64
	// drop removes this many vectors from every batch.
	drop int
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	e.calls.Add(1)
	vectors, err := e.Client.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	return vectors[:len(vectors)-e.drop], nil
}

// unreachableStore fails every lookup as if the server were down.
type unreachableStore struct {
	storage.VectorStore
}

func (s *unreachableStore) Find(_ context.Context, collection string, _ *storage.Filter, _ int) ([]*storage.Point, error) {
	return nil, storage.Unavailable("Find", collection, errors.New("connection refused"))
}

// failingWriter rejects every secondary write.
type failingWriter struct{}

func (failingWriter) Write(context.Context, *secondary.Entry) error {
	return errors.New("relation does not exist")
}

func (failingWriter) Close() error { return nil }

func newStore(t *testing.T) storage.VectorStore {
	t.Helper()
	store, err := chromem.NewClient(nil)
	require.NoError(t, err)
	return store
}

func newTestClient(t *testing.T, opts ...core.ClientOption) (*core.Client, *countingEmbedder) {
	t.Helper()
	emb := &countingEmbedder{Client: hash.NewClient(nil)}
	client, err := core.New(core.DefaultConfig(), newStore(t), emb, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, emb
}

func TestAddMemoryValidation(t *testing.T) {
	client, emb := newTestClient(t)
	ctx := context.Background()

	_, err := client.AddMemory(ctx, "", "doc1")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = client.AddMemory(ctx, "   ", "doc1")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = client.AddMemory(ctx, "some text", "")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = client.AddMemory(ctx, "some text", "doc1", core.WithCollection("bad name"))
	assert.ErrorIs(t, err, storage.ErrInvalidCollection)

	assert.Zero(t, emb.calls.Load())
}

func TestRoundTripSearch(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	res, err := client.AddMemory(ctx, "The quick brown fox", "doc1",
		core.WithType("note"),
		core.WithTags("Animal"),
	)
	require.NoError(t, err)
	require.Len(t, res.IDs, 1)
	assert.Equal(t, core.DefaultCollection, res.Collection)

	_, err = client.AddMemory(ctx, "Quarterly budget spreadsheet", "doc2", core.WithType("task"))
	require.NoError(t, err)

	results, err := client.SearchMemory(ctx, "quick brown fox",
		core.WithFilter(storage.NewFilter(storage.TypeIs("note"))))
	require.NoError(t, err)
	require.NotEmpty(t, results)

	top := results[0]
	assert.Equal(t, res.IDs[0], top.ID)
	assert.Equal(t, "The quick brown fox", top.Text)
	assert.Equal(t, "doc1", top.SourceID)
	assert.Equal(t, "note", top.Type)
	assert.Equal(t, []string{"animal"}, top.Tags)
	assert.Equal(t, 0, top.ChunkIndex)
	assert.Equal(t, 1, top.TotalChunks)
	assert.False(t, top.Timestamp.IsZero())
	assert.Greater(t, top.Score, 0.5)
	for _, r := range results {
		assert.Equal(t, "note", r.Type)
	}
}

func TestDuplicateBlocksReinsertion(t *testing.T) {
	client, emb := newTestClient(t)
	ctx := context.Background()

	first, err := client.AddMemory(ctx, "Hello world", "a")
	require.NoError(t, err)
	calls := emb.calls.Load()

	_, err = client.AddMemory(ctx, "Hello world", "b")
	require.ErrorIs(t, err, core.ErrDuplicateMemory)
	assert.Contains(t, err.Error(), first.IDs[0])
	assert.Equal(t, calls, emb.calls.Load(), "duplicates are rejected before embedding")

	n, err := client.Count(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Exact match only: a different string is not a duplicate.
	_, err = client.AddMemory(ctx, "Hello world!", "b")
	assert.NoError(t, err)

	// Other collections are independent.
	_, err = client.AddMemory(ctx, "Hello world", "b", core.WithCollection(core.FeedbackCollection))
	assert.NoError(t, err)
}

func TestDuplicateComparesWholeDocument(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	prefix := strings.Repeat("a", 100)
	chunked := core.WithMaxChunkChars(100)

	first, err := client.AddMemory(ctx, prefix+" first tail", "doc-1", chunked)
	require.NoError(t, err)
	require.Equal(t, 2, first.Chunks)

	// Same first chunk, different document.
	second, err := client.AddMemory(ctx, prefix+" totally different tail", "doc-2", chunked)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Chunks)

	// Text equal to the stored first chunk only.
	short, err := client.AddMemory(ctx, prefix, "doc-3", chunked)
	require.NoError(t, err)
	assert.Equal(t, 1, short.Chunks)

	_, err = client.AddMemory(ctx, prefix+" first tail", "doc-4", chunked)
	assert.ErrorIs(t, err, core.ErrDuplicateMemory)
	_, err = client.AddMemory(ctx, prefix, "doc-5", chunked)
	assert.ErrorIs(t, err, core.ErrDuplicateMemory)

	n, err := client.Count(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Every chunk of a document carries its hash.
	n, err = client.Count(ctx, "", storage.NewFilter(storage.ContentHashIs(core.ContentHash(prefix+" first tail"))))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDedupFailsClosed(t *testing.T) {
	emb := &countingEmbedder{Client: hash.NewClient(nil)}
	store := &unreachableStore{VectorStore: newStore(t)}
	client, err := core.New(nil, store, emb)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	_, err = client.AddMemory(context.Background(), "Hello world", "a")
	require.ErrorIs(t, err, core.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, core.ErrDuplicateMemory)
	assert.Zero(t, emb.calls.Load())

	n, err := store.Count(context.Background(), core.DefaultCollection, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFilterConjunction(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.AddMemory(ctx, "Prepare slides for the work review", "s1", core.WithTags("work"))
	require.NoError(t, err)
	both, err := client.AddMemory(ctx, "Fix the work deployment before noon", "s2", core.WithTags("work", "urgent"))
	require.NoError(t, err)

	results, err := client.SearchMemory(ctx, "work",
		core.WithFilter(storage.NewFilter(storage.HasTag("work"), storage.HasTag("urgent"))),
		core.WithLimit(10),
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, both.IDs[0], results[0].ID)
}

func TestEndToEndChunkedDocument(t *testing.T) {
	client, emb := newTestClient(t)
	ctx := context.Background()

	first := strings.Repeat("alpha ", 400)[:2000]
	second := strings.Repeat("bravo ", 400)[:2000]
	third := strings.Repeat("zebra crossing ", 100)[:1000]
	text := first + second + third
	require.Len(t, text, 5000)

	res, err := client.AddMemory(ctx, text, "long-doc", core.WithMaxChunkChars(2000), core.WithType(core.TypeLocalDoc))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Len(t, res.IDs, 3)
	assert.Equal(t, int64(1), emb.calls.Load(), "all chunks embedded in one batch")

	all, err := client.SearchMemory(ctx, "alpha bravo zebra",
		core.WithFilter(storage.NewFilter(storage.SourceIs("long-doc"))),
		core.WithLimit(10),
	)
	require.NoError(t, err)
	require.Len(t, all, 3)

	byIndex := map[int]*core.ScoredMemoryPoint{}
	var indexes []int
	for _, r := range all {
		byIndex[r.ChunkIndex] = r
		indexes = append(indexes, r.ChunkIndex)
		assert.Equal(t, 3, r.TotalChunks)
	}
	sort.Ints(indexes)
	assert.Equal(t, []int{0, 1, 2}, indexes)
	assert.Len(t, byIndex[0].Text, 2000)
	assert.Len(t, byIndex[1].Text, 2000)
	assert.Len(t, byIndex[2].Text, 1000)
	assert.Equal(t, text, byIndex[0].Text+byIndex[1].Text+byIndex[2].Text)

	// Chunk ids come back in chunk order.
	assert.Equal(t, res.IDs[2], byIndex[2].ID)

	results, err := client.SearchMemory(ctx, "zebra crossing", core.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, res.IDs[2], results[0].ID)
	assert.Equal(t, 2, results[0].ChunkIndex)
}

func TestEmbeddingCountMismatch(t *testing.T) {
	emb := &countingEmbedder{Client: hash.NewClient(nil), drop: 1}
	client, err := core.New(nil, newStore(t), emb)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	ctx := context.Background()

	_, err = client.AddMemory(ctx, strings.Repeat("x", 50), "doc", core.WithMaxChunkChars(20))
	require.ErrorIs(t, err, core.ErrEmbeddingFailed)

	n, err := client.Count(ctx, "", nil)
	require.NoError(t, err)
	assert.Zero(t, n, "no partial write")
}

func TestSearchMemoryOptions(t *testing.T) {
	client, emb := newTestClient(t)
	ctx := context.Background()

	for _, text := range []string{"one apple", "two apples", "three apples", "four apples", "five apples", "six apples"} {
		_, err := client.AddMemory(ctx, text, "fruit")
		require.NoError(t, err)
	}

	results, err := client.SearchMemory(ctx, "apples")
	require.NoError(t, err)
	assert.Len(t, results, 5, "default limit")
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	results, err = client.SearchMemory(ctx, "apples", core.WithLimit(2))
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = client.SearchMemory(ctx, "apples", core.WithSearchCollection(core.FeedbackCollection))
	require.NoError(t, err)
	assert.Empty(t, results, "missing collection reads empty")

	calls := emb.calls.Load()
	vector, err := emb.Embed(ctx, "two apples")
	require.NoError(t, err)
	results, err = client.SearchMemory(ctx, "", core.WithQueryVector(vector), core.WithLimit(1))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "two apples", results[0].Text)
	assert.Equal(t, calls, emb.calls.Load(), "query vector skips the embedder")

	_, err = client.SearchMemory(ctx, " ")
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = client.SearchMemory(ctx, "apples",
		core.WithFilter(storage.NewFilter(storage.Keyword("payload.", "x"))))
	assert.ErrorIs(t, err, core.ErrInvalidFilter)

	_, err = client.SearchMemory(ctx, "", core.WithQueryVector([]float64{1, 0}))
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestSearchMinScoreOverride(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Memory.MinScore = 0.99
	client, err := core.New(cfg, newStore(t), hash.NewClient(nil))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	ctx := context.Background()

	_, err = client.AddMemory(ctx, "fresh green apples", "fruit")
	require.NoError(t, err)

	results, err := client.SearchMemory(ctx, "green apples")
	require.NoError(t, err)
	assert.Empty(t, results, "configured floor applies")

	results, err = client.SearchMemory(ctx, "green apples", core.WithMinScore(0))
	require.NoError(t, err)
	assert.Len(t, results, 1, "explicit zero disables the floor")
}

func TestGenerateEmbeddings(t *testing.T) {
	client, emb := newTestClient(t)
	ctx := context.Background()

	vectors, err := client.GenerateEmbeddings(ctx, []string{"one", "two", "three"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, int64(1), emb.calls.Load(), "one batch")
	for _, v := range vectors {
		assert.Len(t, v, client.Dimensions())
	}

	_, err = client.GenerateEmbeddings(ctx, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = client.GenerateEmbeddings(ctx, []string{"ok", ""})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, int64(1), emb.calls.Load())
}

func TestUpsertPoints(t *testing.T) {
	client, emb := newTestClient(t)
	ctx := context.Background()

	vectors, err := emb.EmbedBatch(ctx, []string{"imported note"})
	require.NoError(t, err)
	point := &storage.Point{
		ID:      "5c0b8e8e-2f4a-4d7b-9a53-1e6f3c2d8b10",
		Vector:  vectors[0],
		Payload: map[string]interface{}{storage.KeyText: "imported note", storage.KeySourceID: "import"},
	}

	require.NoError(t, client.UpsertPoints(ctx, "", []*storage.Point{point}))
	// Same id again overwrites.
	require.NoError(t, client.UpsertPoints(ctx, "", []*storage.Point{point}))

	n, err := client.Count(ctx, "", storage.NewFilter(storage.SourceIs("import")))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	err = client.UpsertPoints(ctx, "", nil)
	assert.ErrorIs(t, err, core.ErrValidation)

	bad := *point
	bad.ID = "not-a-uuid"
	err = client.UpsertPoints(ctx, "", []*storage.Point{&bad})
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.ErrorIs(t, err, storage.ErrInvalidPoint)

	bad = *point
	bad.Vector = []float64{1, 0}
	err = client.UpsertPoints(ctx, "", []*storage.Point{&bad})
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestQueryCache(t *testing.T) {
	qc, err := cache.NewQueryCache(cache.Config{TTL: time.Minute})
	require.NoError(t, err)
	client, emb := newTestClient(t, core.WithQueryCache(qc))
	ctx := context.Background()

	_, err = client.AddMemory(ctx, "cached query target", "doc")
	require.NoError(t, err)
	before := emb.calls.Load()

	for i := 0; i < 3; i++ {
		results, err := client.SearchMemory(ctx, "cached query")
		require.NoError(t, err)
		require.NotEmpty(t, results)
	}
	assert.Equal(t, before+1, emb.calls.Load())

	client.InvalidateQueryCache()
	_, err = client.SearchMemory(ctx, "cached query")
	require.NoError(t, err)
	assert.Equal(t, before+2, emb.calls.Load())
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.EnsureCollection(ctx, "small_vectors", 8))

	client, err := core.New(nil, store, hash.NewClient(nil))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	require.NoError(t, client.Initialize(ctx))
	require.NoError(t, client.Initialize(ctx, core.DefaultCollection, core.FeedbackCollection))

	err = client.Initialize(ctx, "small_vectors")
	assert.ErrorIs(t, err, core.ErrDimensionMismatch)
}

func TestSecondaryPersistence(t *testing.T) {
	ctx := context.Background()

	writer, err := secondary.NewSQLiteWriter(filepath.Join(t.TempDir(), "entries.db"))
	require.NoError(t, err)
	policy := secondary.NewBestEffort(writer)
	client, _ := newTestClient(t, core.WithSecondary(policy))

	_, err = client.AddMemory(ctx, "Follow up faster after interviews", "opp-1", core.WithType(core.TypeLessonsLearned))
	require.NoError(t, err)
	_, err = client.AddMemory(ctx, "Slept well", "journal-1", core.WithType(core.TypeJournalEntry))
	require.NoError(t, err)

	assert.Equal(t, int64(1), policy.Writes())
	assert.Zero(t, policy.Failures())
}

func TestSecondaryFailureDoesNotFailAdd(t *testing.T) {
	var failed []string
	policy := secondary.NewBestEffort(failingWriter{},
		secondary.WithErrorHandler(func(entry *secondary.Entry, _ error) {
			failed = append(failed, entry.MemoryID)
		}),
	)
	client, _ := newTestClient(t, core.WithSecondary(policy))

	res, err := client.AddMemory(context.Background(), "Draft cover letter for Acme", "opp-2",
		core.WithType(core.TypeApplicationDraft))
	require.NoError(t, err)

	assert.Equal(t, []string{res.IDs[0]}, failed)
	assert.Equal(t, int64(1), policy.Failures())
}

func TestAsyncClient(t *testing.T) {
	client, _ := newTestClient(t)
	ac := core.NewAsyncClientFrom(client)
	ctx := context.Background()

	a := ac.AddMemoryAsync(ctx, "async memory one", "a1")
	b := ac.AddMemoryAsync(ctx, "async memory two", "a2")
	ac.Wait()

	ra, rb := <-a, <-b
	require.NoError(t, ra.Error)
	require.NoError(t, rb.Error)
	assert.Len(t, ra.Result.IDs, 1)

	sr := <-ac.SearchMemoryAsync(ctx, "async memory", core.WithLimit(5))
	require.NoError(t, sr.Error)
	assert.Len(t, sr.Results, 2)
}
