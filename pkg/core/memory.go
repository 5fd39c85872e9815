package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/orion-hub/orion-memory-go/pkg/cache"
	"github.com/orion-hub/orion-memory-go/pkg/chunker"
	"github.com/orion-hub/orion-memory-go/pkg/embedder"
	hashEmbedder "github.com/orion-hub/orion-memory-go/pkg/embedder/hash"
	openaiEmbedder "github.com/orion-hub/orion-memory-go/pkg/embedder/openai"
	qwenEmbedder "github.com/orion-hub/orion-memory-go/pkg/embedder/qwen"
	"github.com/orion-hub/orion-memory-go/pkg/secondary"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
	chromemStore "github.com/orion-hub/orion-memory-go/pkg/storage/chromem"
	"github.com/orion-hub/orion-memory-go/pkg/storage/oceanbase"
	postgresStore "github.com/orion-hub/orion-memory-go/pkg/storage/postgres"
	qdrantStore "github.com/orion-hub/orion-memory-go/pkg/storage/qdrant"
	sqliteStore "github.com/orion-hub/orion-memory-go/pkg/storage/sqlite"
)

// Client is the memory façade every feature calls.
//
// It composes the chunker, the embedding provider, the point builder, the
// deduplication guard and the vector store into AddMemory and SearchMemory,
// filling in the default collection and limits.
//
// The client is safe for concurrent use. Concurrent adds of the same text
// may both pass the duplicate check; that window is accepted.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	res, _ := client.AddMemory(ctx, "Shipped the onboarding redesign", "journal-42",
//	    core.WithType(core.TypeJournalEntry),
//	    core.WithTags("work"),
//	)
type Client struct {
	// config contains the client configuration.
	config *Config

	// storage is the vector store for memory persistence.
	storage storage.VectorStore

	// embedder is the embedding provider for vector generation.
	embedder embedder.Provider

	builder *PointBuilder
	dedup   *DedupGuard

	// queryCache caches query embeddings (nil if disabled).
	queryCache *cache.QueryCache

	// secondary copies selected memories to a relational table (nil if disabled).
	secondary *secondary.BestEffort

	// ensured records collections already created in this process.
	ensured sync.Map
}

// New creates a client over an existing store and embedding provider.
//
// Only cfg.Memory is read; a nil cfg uses DefaultConfig. The client owns
// store and provider and closes them in Close.
func New(cfg *Config, store storage.VectorStore, provider embedder.Provider, opts ...ClientOption) (*Client, error) {
	if store == nil || provider == nil {
		return nil, NewMemoryError("New", fmt.Errorf("%w: store and embedder are required", ErrInvalidConfig))
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := *cfg
	c.applyDefaults()
	if err := c.validateMemory(); err != nil {
		return nil, err
	}

	client := &Client{
		config:   &c,
		storage:  store,
		embedder: provider,
		builder:  NewPointBuilder(provider.Dimensions()),
		dedup:    NewDedupGuard(store),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// NewClient creates a client from configuration.
//
// The client is initialized with:
//   - Vector store (chromem, Qdrant, SQLite, PostgreSQL or OceanBase)
//   - Embedding provider (OpenAI, Qwen or the local hash embedder)
//   - Query-embedding cache (if Memory.QueryCacheTTL is set)
//   - Secondary persistence (if enabled in config)
//
// Returns a new Client instance, or an error if initialization fails.
func NewClient(cfg *Config) (*Client, error) {
	c := *cfg
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	store, err := initStorage(c.VectorStore)
	if err != nil {
		return nil, err
	}

	provider, err := initEmbedder(c.Embedder)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var opts []ClientOption

	ttl, _ := c.Memory.cacheTTL()
	qc, err := cache.NewQueryCache(cache.Config{TTL: ttl})
	if err != nil {
		_ = store.Close()
		_ = provider.Close()
		return nil, NewMemoryError("NewClient", err)
	}
	opts = append(opts, WithQueryCache(qc))

	if s := c.Secondary; s != nil && s.Enabled {
		policy, err := initSecondary(s)
		if err != nil {
			_ = store.Close()
			_ = provider.Close()
			qc.Close()
			return nil, err
		}
		opts = append(opts, WithSecondary(policy))
	}

	return New(&c, store, provider, opts...)
}

// AddMemory stores text as one point per chunk.
//
// The method:
//  1. Validates that text and sourceID are present
//  2. Chunks the text
//  3. Rejects text whose first chunk is already stored (ErrDuplicateMemory)
//  4. Embeds all chunks in one provider call
//  5. Builds one point per chunk and upserts them in one batch
//  6. Copies the memory to the secondary store when its type is configured
//
// Nothing is written to the vector store unless every step before the
// upsert succeeded.
//
// Example:
//
//	res, err := client.AddMemory(ctx, "The quick brown fox", "doc1",
//	    core.WithType("note"),
//	    core.WithTags("animal"),
//	)
func (c *Client) AddMemory(ctx context.Context, text, sourceID string, opts ...AddOption) (*AddResult, error) {
	const op = "AddMemory"

	if strings.TrimSpace(text) == "" {
		return nil, validationError(op, "text is required")
	}
	if strings.TrimSpace(sourceID) == "" {
		return nil, validationError(op, "sourceId is required")
	}

	options := applyAddOptions(opts)
	collection := c.collection(options.Collection)
	if err := storage.ValidateCollectionName(collection); err != nil {
		return nil, NewMemoryError(op, err)
	}

	maxChars := options.MaxChunkChars
	if maxChars <= 0 {
		maxChars = c.config.Memory.MaxChunkChars
	}

	result := &AddResult{IDs: []string{}, SourceID: sourceID, Collection: collection}

	chunks := chunker.Chunk(text, maxChars)
	if len(chunks) == 0 {
		return result, nil
	}

	hash := ContentHash(text)
	duplicate, existingID, err := c.dedup.IsDuplicate(ctx, collection, chunks[0], hash)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return nil, NewMemoryError(op, fmt.Errorf("%w: matches point %s in %s", ErrDuplicateMemory, existingID, collection))
	}

	vectors, err := embedder.Batch(ctx, c.embedder, chunks)
	if err != nil {
		return nil, NewMemoryError(op, err)
	}

	points := make([]*MemoryPoint, len(chunks))
	storagePoints := make([]*storage.Point, len(chunks))
	for i, chunk := range chunks {
		p, err := c.builder.Build(&PointInput{
			Text:        chunk,
			Vector:      vectors[i],
			SourceID:    sourceID,
			Type:        options.Type,
			Tags:        options.Tags,
			Metadata:    options.Metadata,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			ContentHash: hash,
		})
		if err != nil {
			return nil, err
		}
		points[i] = p
		storagePoints[i] = toStoragePoint(p)
	}

	if err := c.ensureCollection(ctx, collection); err != nil {
		return nil, NewMemoryError(op, err)
	}
	if err := c.storage.Upsert(ctx, collection, storagePoints); err != nil {
		log.Printf("[MEMORY] Upsert failed: collection=%s, source_id=%s, error=%v", collection, sourceID, err)
		return nil, NewMemoryError(op, err)
	}

	for _, p := range points {
		result.IDs = append(result.IDs, p.ID)
	}
	result.Chunks = len(points)

	log.Printf("[MEMORY] Added memory: collection=%s, source_id=%s, type=%s, chunks=%d",
		collection, sourceID, points[0].Type, len(points))

	c.secondary.Apply(ctx, &secondary.Entry{
		MemoryID:  points[0].ID,
		SourceID:  sourceID,
		Text:      text,
		Type:      points[0].Type,
		Timestamp: points[0].Timestamp,
		Metadata:  options.Metadata,
	})

	return result, nil
}

// SearchMemory returns the points most similar to query, best first.
//
// Results come back exactly as the store ranked them; the façade does not
// re-rank or post-filter. Searching a collection that does not exist yet
// returns no results.
//
// Example:
//
//	results, err := client.SearchMemory(ctx, "quick brown fox",
//	    core.WithFilter(storage.NewFilter(storage.TypeIs("note"))),
//	    core.WithLimit(3),
//	)
func (c *Client) SearchMemory(ctx context.Context, query string, opts ...SearchOption) ([]*ScoredMemoryPoint, error) {
	const op = "SearchMemory"

	options := applySearchOptions(opts)
	if strings.TrimSpace(query) == "" && len(options.QueryVector) == 0 {
		return nil, validationError(op, "query is required")
	}
	if options.Limit < 0 {
		return nil, validationError(op, "limit must not be negative")
	}

	collection := c.collection(options.Collection)
	if err := storage.ValidateCollectionName(collection); err != nil {
		return nil, NewMemoryError(op, err)
	}
	if err := options.Filter.Validate(); err != nil {
		return nil, NewMemoryError(op, err)
	}

	limit := options.Limit
	if limit == 0 {
		limit = c.config.Memory.DefaultLimit
	}
	minScore := c.config.Memory.MinScore
	if options.MinScore != nil {
		minScore = *options.MinScore
	}

	vector := options.QueryVector
	if len(vector) == 0 {
		v, err := c.embedQuery(ctx, query)
		if err != nil {
			return nil, NewMemoryError(op, err)
		}
		vector = v
	}

	results, err := c.storage.Search(ctx, collection, vector, &storage.SearchOptions{
		Filter:   options.Filter,
		Limit:    limit,
		MinScore: minScore,
	})
	if err != nil {
		log.Printf("[MEMORY] Search failed: collection=%s, error=%v", collection, err)
		return nil, NewMemoryError(op, err)
	}
	return fromScoredPoints(results), nil
}

// GenerateEmbeddings embeds texts with the configured provider in one
// batch. Vectors follow input order.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	const op = "GenerateEmbeddings"

	if len(texts) == 0 {
		return nil, validationError(op, "texts are required")
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, validationError(op, fmt.Sprintf("text %d is empty", i))
		}
	}

	vectors, err := embedder.Batch(ctx, c.embedder, texts)
	if err != nil {
		return nil, NewMemoryError(op, err)
	}
	return vectors, nil
}

// UpsertPoints writes caller-built points as given, creating the collection
// if needed. Points need a UUID id, text, a source id and a vector of the
// embedder's size. No dedup check is made; an existing id is overwritten.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []*storage.Point) error {
	const op = "UpsertPoints"

	if len(points) == 0 {
		return validationError(op, "points are required")
	}
	collection = c.collection(collection)
	if err := storage.ValidateCollectionName(collection); err != nil {
		return NewMemoryError(op, err)
	}
	if err := storage.ValidatePoints(points, c.embedder.Dimensions()); err != nil {
		return NewMemoryError(op, fmt.Errorf("%w: %w", ErrValidation, err))
	}
	for _, p := range points {
		if _, err := uuid.Parse(p.ID); err != nil {
			return NewMemoryError(op, fmt.Errorf("%w: %w: point id %q is not a UUID", ErrValidation, storage.ErrInvalidPoint, p.ID))
		}
	}

	if err := c.ensureCollection(ctx, collection); err != nil {
		return NewMemoryError(op, err)
	}
	if err := c.storage.Upsert(ctx, collection, points); err != nil {
		log.Printf("[MEMORY] Upsert failed: collection=%s, points=%d, error=%v", collection, len(points), err)
		return NewMemoryError(op, err)
	}

	log.Printf("[MEMORY] Upserted points: collection=%s, points=%d", collection, len(points))
	return nil
}

// Initialize creates the given collections, or the configured one when none
// are given, sized for the embedder.
//
// Returns ErrDimensionMismatch if a collection exists with another size.
func (c *Client) Initialize(ctx context.Context, collections ...string) error {
	if len(collections) == 0 {
		collections = []string{c.config.Memory.Collection}
	}
	for _, coll := range collections {
		c.ensured.Delete(coll)
		if err := c.ensureCollection(ctx, coll); err != nil {
			return NewMemoryError("Initialize", err)
		}
		log.Printf("[MEMORY] Collection ready: name=%s, dims=%d", coll, c.embedder.Dimensions())
	}
	return nil
}

// Count returns the number of points in collection (the configured one if
// empty) matching filter.
func (c *Client) Count(ctx context.Context, collection string, filter *storage.Filter) (int, error) {
	n, err := c.storage.Count(ctx, c.collection(collection), filter)
	if err != nil {
		return 0, NewMemoryError("Count", err)
	}
	return n, nil
}

// Collection returns the configured default collection.
func (c *Client) Collection() string {
	return c.config.Memory.Collection
}

// Dimensions returns the embedder's vector size.
func (c *Client) Dimensions() int {
	return c.embedder.Dimensions()
}

// InvalidateQueryCache drops every cached query embedding.
func (c *Client) InvalidateQueryCache() {
	c.queryCache.Invalidate()
}

// Close closes the client and releases all resources.
//
// Returns the joined errors of every collaborator that failed to close.
func (c *Client) Close() error {
	var errs []error

	if c.storage != nil {
		if err := c.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if err := c.secondary.Close(); err != nil {
		errs = append(errs, err)
	}
	c.queryCache.Close()

	return errors.Join(errs...)
}

func (c *Client) collection(override string) string {
	if override != "" {
		return override
	}
	return c.config.Memory.Collection
}

func (c *Client) ensureCollection(ctx context.Context, collection string) error {
	if _, ok := c.ensured.Load(collection); ok {
		return nil
	}
	if err := c.storage.EnsureCollection(ctx, collection, c.embedder.Dimensions()); err != nil {
		return err
	}
	c.ensured.Store(collection, struct{}{})
	return nil
}

func (c *Client) embedQuery(ctx context.Context, query string) ([]float64, error) {
	if v, ok := c.queryCache.Get(query); ok {
		return v, nil
	}
	v, err := embedder.Single(ctx, c.embedder, query)
	if err != nil {
		return nil, err
	}
	c.queryCache.Set(query, v)
	return v, nil
}

// validateMemory checks the settings New reads.
func (c *Config) validateMemory() error {
	check := *c
	check.Embedder.Provider = "hash"
	check.VectorStore.Provider = "chromem"
	check.Secondary = nil
	return check.Validate()
}

// initStorage initializes the storage backend.
func initStorage(cfg VectorStoreConfig) (storage.VectorStore, error) {
	m := cfg.Config
	switch cfg.Provider {
	case "chromem":
		return chromemStore.NewClient(&chromemStore.Config{
			Path:     configString(m, "path", ""),
			Compress: configBool(m, "compress"),
		})
	case "qdrant":
		return qdrantStore.NewClient(&qdrantStore.Config{
			Host:   configString(m, "host", "localhost"),
			Port:   configInt(m, "port", 6334),
			APIKey: configString(m, "api_key", ""),
			UseTLS: configBool(m, "use_tls"),
		})
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath: configString(m, "db_path", "./orion_memory.db"),
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:     configString(m, "host", "localhost"),
			Port:     configInt(m, "port", 5432),
			User:     configString(m, "user", "postgres"),
			Password: configString(m, "password", ""),
			DBName:   configString(m, "db_name", "orion"),
			SSLMode:  configString(m, "ssl_mode", "disable"),
			HNSW:     configBool(m, "hnsw"),
		})
	case "oceanbase":
		return oceanbase.NewClient(&oceanbase.Config{
			Host:     configString(m, "host", "127.0.0.1"),
			Port:     configInt(m, "port", 2881),
			User:     configString(m, "user", "root@sys"),
			Password: configString(m, "password", ""),
			DBName:   configString(m, "db_name", "orion"),
			HNSW:     configBool(m, "hnsw"),
		})
	default:
		return nil, NewMemoryError("initStorage", ErrInvalidConfig)
	}
}

// initEmbedder initializes the embedder provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "qwen":
		return qwenEmbedder.NewClient(&qwenEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "hash":
		return hashEmbedder.NewClient(&hashEmbedder.Config{
			Dimensions: cfg.Dimensions,
		}), nil
	default:
		return nil, NewMemoryError("initEmbedder", ErrInvalidConfig)
	}
}

// initSecondary opens the secondary writer and wraps it in the best-effort policy.
func initSecondary(cfg *SecondaryConfig) (*secondary.BestEffort, error) {
	var (
		writer *secondary.SQLWriter
		err    error
	)
	switch cfg.Driver {
	case "postgres":
		writer, err = secondary.NewPostgresWriter(cfg.DSN)
	case "sqlite":
		writer, err = secondary.NewSQLiteWriter(cfg.DSN)
	default:
		err = ErrInvalidConfig
	}
	if err != nil {
		return nil, NewMemoryError("initSecondary", err)
	}

	var opts []secondary.Option
	if len(cfg.Types) > 0 {
		opts = append(opts, secondary.WithTypes(cfg.Types...))
	}
	return secondary.NewBestEffort(writer, opts...), nil
}

func configString(m map[string]interface{}, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

// configInt accepts ints set in code and float64s decoded from JSON.
func configInt(m map[string]interface{}, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func configBool(m map[string]interface{}, key string) bool {
	b, _ := m[key].(bool)
	return b
}
