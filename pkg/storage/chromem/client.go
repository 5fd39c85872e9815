// Package chromem provides an embedded vector store backed by chromem-go.
//
// chromem-go is a pure Go, in-process vector database. It needs no server,
// which makes it the default backend for local runs and tests. Optionally the
// database is persisted to a directory.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// Metadata keys used inside chromem documents.
const (
	metaPayload   = "_payload"
	metaTagPrefix = "tag:"
	metaDims      = "dims"
)

// catalogCollection records the vector size of every collection, one
// document per collection keyed by name. chromem keeps collection metadata
// private, so this is how dimensions survive a reopen. The name is not a
// valid collection name, so it cannot clash with user collections.
const catalogCollection = "orion:collections"

// Client implements VectorStore on top of chromem-go.
type Client struct {
	db *chromem.DB

	// dims records the vector size of every collection this client created
	// or adopted.
	dims map[string]int
	mu   sync.RWMutex

	// concurrency is passed to AddDocuments.
	concurrency int
}

// Config contains configuration for the chromem store.
type Config struct {
	// Path persists the database to this directory. Empty keeps it in memory.
	Path string

	// Compress gzips persisted files.
	Compress bool

	// Concurrency bounds parallel document inserts. Defaults to 4.
	Concurrency int
}

// NewClient creates a chromem store.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, storage.Unavailable("Open", cfg.Path, err)
		}
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Client{
		db:          db,
		dims:        make(map[string]int),
		concurrency: concurrency,
	}, nil
}

// EnsureCollection creates the collection if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dims int) error {
	if err := storage.ValidateCollectionName(collection); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	existing, ok := c.dims[collection]
	if !ok {
		var err error
		existing, ok, err = c.recordedDims(ctx, collection)
		if err != nil {
			return storage.Unavailable("EnsureCollection", collection, err)
		}
	}
	if ok {
		if existing != dims {
			return &storage.OpError{
				Op: "EnsureCollection", Collection: collection, Kind: storage.ErrDimensionMismatch,
				Err: fmt.Errorf("collection has %d dimensions, embedder produces %d", existing, dims),
			}
		}
		c.dims[collection] = existing
		return nil
	}

	if _, err := c.db.GetOrCreateCollection(collection, map[string]string{metaDims: strconv.Itoa(dims)}, nil); err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}
	if err := c.recordDims(ctx, collection, dims); err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}
	c.dims[collection] = dims

	log.Printf("[CHROMEM] Collection ready: name=%s, dims=%d", collection, dims)
	return nil
}

// recordedDims reads a collection's vector size from the catalog.
func (c *Client) recordedDims(ctx context.Context, collection string) (int, bool, error) {
	catalog := c.db.GetCollection(catalogCollection, nil)
	if catalog == nil {
		return 0, false, nil
	}
	doc, err := catalog.GetByID(ctx, collection)
	if err != nil {
		// GetByID only fails for unknown ids.
		return 0, false, nil
	}
	dims, err := strconv.Atoi(doc.Metadata[metaDims])
	if err != nil {
		return 0, false, fmt.Errorf("catalog entry for %s: %w", collection, err)
	}
	return dims, true, nil
}

func (c *Client) recordDims(ctx context.Context, collection string, dims int) error {
	catalog, err := c.db.GetOrCreateCollection(catalogCollection, nil, nil)
	if err != nil {
		return err
	}
	return catalog.AddDocument(ctx, chromem.Document{
		ID:        collection,
		Metadata:  map[string]string{metaDims: strconv.Itoa(dims)},
		Embedding: []float32{1},
		Content:   collection,
	})
}

// Upsert adds or replaces the points. When the batch fails, points that
// were inserted by it are removed again.
func (c *Client) Upsert(ctx context.Context, collection string, points []*storage.Point) error {
	col, dims, err := c.collection(ctx, collection)
	if err != nil {
		return err
	}
	if col == nil {
		return &storage.OpError{Op: "Upsert", Collection: collection, Kind: storage.ErrUnavailable,
			Err: fmt.Errorf("collection does not exist")}
	}
	if err := storage.ValidatePoints(points, dims); err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(points))
	ids := make([]string, 0, len(points))
	for _, p := range points {
		doc, err := toDocument(p)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}
		docs = append(docs, doc)
		ids = append(ids, p.ID)
	}

	if err := col.AddDocuments(ctx, docs, c.concurrency); err != nil {
		if delErr := col.Delete(context.Background(), nil, nil, ids...); delErr != nil {
			log.Printf("[CHROMEM] Rollback failed: collection=%s, error=%v", collection, delErr)
		}
		return storage.Unavailable("Upsert", collection, err)
	}
	return nil
}

// Search performs cosine similarity search.
//
// chromem matches metadata by exact string equality only, so the builder's
// own fields are pushed down as a where clause and every result is checked
// against the full filter afterwards.
func (c *Client) Search(ctx context.Context, collection string, vector []float64, opts *storage.SearchOptions) ([]*storage.ScoredPoint, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	col, dims, err := c.collection(ctx, collection)
	if err != nil || col == nil {
		return nil, err
	}
	if len(vector) != dims {
		return nil, &storage.OpError{Op: "Search", Collection: collection, Kind: storage.ErrDimensionMismatch,
			Err: fmt.Errorf("query has %d dimensions, collection expects %d", len(vector), dims)}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = col.Count()
	}

	candidates, err := c.query(ctx, col, toFloat32(vector), limit, opts.Filter)
	if err != nil {
		return nil, storage.Unavailable("Search", collection, err)
	}

	var results []*storage.ScoredPoint
	for _, p := range candidates {
		if p.Score < opts.MinScore {
			continue
		}
		results = append(results, p)
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Find returns points matching the filter. chromem has no scan operation, so
// a unit query vector is used to enumerate the collection.
func (c *Client) Find(ctx context.Context, collection string, filter *storage.Filter, limit int) ([]*storage.Point, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	col, dims, err := c.collection(ctx, collection)
	if err != nil || col == nil {
		return nil, err
	}

	unit := make([]float32, dims)
	unit[0] = 1

	n := limit
	if n <= 0 {
		n = col.Count()
	}

	scored, err := c.query(ctx, col, unit, n, filter)
	if err != nil {
		return nil, storage.Unavailable("Find", collection, err)
	}

	points := make([]*storage.Point, 0, len(scored))
	for _, sp := range scored {
		p := sp.Point
		points = append(points, &p)
		if limit > 0 && len(points) == limit {
			break
		}
	}
	return points, nil
}

// Count returns the number of points matching the filter.
func (c *Client) Count(ctx context.Context, collection string, filter *storage.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	col, _, err := c.collection(ctx, collection)
	if err != nil || col == nil {
		return 0, err
	}
	if filter.IsEmpty() {
		return col.Count(), nil
	}

	points, err := c.Find(ctx, collection, filter, 0)
	if err != nil {
		return 0, err
	}
	return len(points), nil
}

// Close releases resources. Persistent databases write through on every
// insert, so there is nothing to flush.
func (c *Client) Close() error {
	return nil
}

// collection returns the chromem collection and its dimensions, or a nil
// collection when it does not exist. Collections created by an earlier
// process are adopted from the catalog.
func (c *Client) collection(ctx context.Context, name string) (*chromem.Collection, int, error) {
	if err := storage.ValidateCollectionName(name); err != nil {
		return nil, 0, err
	}

	col := c.db.GetCollection(name, nil)
	if col == nil {
		return nil, 0, nil
	}

	c.mu.RLock()
	dims, ok := c.dims[name]
	c.mu.RUnlock()
	if ok {
		return col, dims, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	dims, ok, err := c.recordedDims(ctx, name)
	if err != nil {
		return nil, 0, storage.Unavailable("Open", name, err)
	}
	if !ok {
		return nil, 0, &storage.OpError{Op: "Open", Collection: name, Kind: storage.ErrUnavailable,
			Err: fmt.Errorf("collection dimensions unknown, call EnsureCollection first")}
	}
	c.dims[name] = dims
	return col, dims, nil
}

// query runs a similarity query and applies the full filter to the results.
// When the post-filter drops documents, the query is repeated over the whole
// collection so that up to n matches can still be returned.
func (c *Client) query(ctx context.Context, col *chromem.Collection, vector []float32, n int, filter *storage.Filter) ([]*storage.ScoredPoint, error) {
	total := col.Count()
	if total == 0 || n <= 0 {
		return nil, nil
	}
	if n > total {
		n = total
	}

	where := whereClause(filter)

	for {
		results, err := col.QueryEmbedding(ctx, vector, n, where, nil)
		if err != nil {
			return nil, err
		}

		points := make([]*storage.ScoredPoint, 0, len(results))
		dropped := false
		for _, r := range results {
			p, err := fromResult(r)
			if err != nil {
				log.Printf("[CHROMEM] Skipping document %s: %v", r.ID, err)
				dropped = true
				continue
			}
			if !filter.Matches(p.Payload) {
				dropped = true
				continue
			}
			points = append(points, p)
		}

		if !dropped || n == total {
			return points, nil
		}
		n = total
	}
}

// whereClause pushes down the conditions chromem can evaluate exactly:
// string equality on the builder's scalar fields and tag membership.
func whereClause(filter *storage.Filter) map[string]string {
	if filter.IsEmpty() {
		return nil
	}

	where := make(map[string]string)
	for _, cond := range filter.Must {
		if cond.Kind != storage.MatchKeyword {
			continue
		}
		value, _ := cond.Value().(string)
		switch cond.Field() {
		case storage.KeyText, storage.KeySourceID, storage.KeyType, storage.KeyContentHash:
			if prev, ok := where[cond.Field()]; ok && prev != value {
				// Contradictory conditions; the post-filter rejects everything.
				continue
			}
			where[cond.Field()] = value
		case storage.KeyTags:
			where[metaTagPrefix+value] = "1"
		}
	}
	if len(where) == 0 {
		return nil
	}
	return where
}

func toDocument(p *storage.Point) (chromem.Document, error) {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("marshal payload: %w", err)
	}

	metadata := map[string]string{
		metaPayload:         string(payloadJSON),
		storage.KeyText:     p.Text(),
		storage.KeySourceID: p.SourceID(),
	}
	if t, ok := p.Payload[storage.KeyType].(string); ok {
		metadata[storage.KeyType] = t
	}
	if h, ok := p.Payload[storage.KeyContentHash].(string); ok {
		metadata[storage.KeyContentHash] = h
	}
	for _, tag := range tagsOf(p.Payload) {
		metadata[metaTagPrefix+tag] = "1"
	}

	return chromem.Document{
		ID:        p.ID,
		Metadata:  metadata,
		Embedding: toFloat32(p.Vector),
		Content:   p.Text(),
	}, nil
}

func fromResult(r chromem.Result) (*storage.ScoredPoint, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(r.Metadata[metaPayload]), &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	vector := make([]float64, len(r.Embedding))
	for i, v := range r.Embedding {
		vector[i] = float64(v)
	}

	return &storage.ScoredPoint{
		Point: storage.Point{ID: r.ID, Vector: vector, Payload: payload},
		Score: float64(r.Similarity),
	}, nil
}

func tagsOf(payload map[string]interface{}) []string {
	switch v := payload[storage.KeyTags].(type) {
	case []string:
		return v
	case []interface{}:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
