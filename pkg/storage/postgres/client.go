// Package postgres provides a PostgreSQL + pgvector implementation of the
// vector store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// collectionsTable records the vector size of every collection.
const collectionsTable = "memory_collections"

// Client is a PostgreSQL + pgvector client.
type Client struct {
	db  *sql.DB
	cfg *Config
}

// Config contains PostgreSQL configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	// HNSW builds an HNSW cosine index for every new collection.
	HNSW bool

	// HNSWM and HNSWEfConstruction tune the HNSW index. Zero uses 16 / 64.
	HNSWM              int
	HNSWEfConstruction int
}

// DSN returns the lib/pq connection string for the config.
func (cfg *Config) DSN() string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)
}

// NewClient creates a new PostgreSQL client.
func NewClient(cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, storage.Unavailable("Open", cfg.DBName, err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, storage.Unavailable("Open", cfg.DBName, err)
	}

	client := &Client{db: db, cfg: cfg}

	// Initialize pgvector extension and the collection registry
	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables enables pgvector and creates the collection registry.
func (c *Client) initTables(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return storage.Unavailable("initTables", "", fmt.Errorf("create extension: %w", err))
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name VARCHAR(63) PRIMARY KEY,
			dims INTEGER NOT NULL
		)
	`, collectionsTable)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return storage.Unavailable("initTables", "", fmt.Errorf("create registry: %w", err))
	}
	return nil
}

// EnsureCollection creates the collection table (using pgvector's vector type)
// and its indexes if they do not exist.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dims int) error {
	if err := storage.ValidateCollectionName(collection); err != nil {
		return err
	}

	existing, found, err := c.collectionDims(ctx, collection)
	if err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}
	if found {
		if existing != dims {
			return &storage.OpError{
				Op: "EnsureCollection", Collection: collection, Kind: storage.ErrDimensionMismatch,
				Err: fmt.Errorf("collection has %d dimensions, embedder produces %d", existing, dims),
			}
		}
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				seq BIGSERIAL,
				id TEXT PRIMARY KEY,
				source_id TEXT NOT NULL,
				text TEXT NOT NULL,
				vector vector(%d) NOT NULL,
				payload JSONB NOT NULL
			)
		`, collection, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_source ON %s(source_id)`, collection, collection),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_text ON %s USING hash (text)`, collection, collection),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_payload ON %s USING gin (payload)`, collection, collection),
	}
	if c.cfg.HNSW {
		m, ef := c.cfg.HNSWM, c.cfg.HNSWEfConstruction
		if m <= 0 {
			m = 16
		}
		if ef <= 0 {
			ef = 64
		}
		stmts = append(stmts, fmt.Sprintf(`
			CREATE INDEX IF NOT EXISTS idx_%s_vector ON %s
			USING hnsw (vector vector_cosine_ops)
			WITH (m = %d, ef_construction = %d)
		`, collection, collection, m, ef))
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storage.Unavailable("EnsureCollection", collection, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (name, dims) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING", collectionsTable),
		collection, dims,
	); err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}
	return nil
}

// Upsert writes all points in a single transaction.
func (c *Client) Upsert(ctx context.Context, collection string, points []*storage.Point) error {
	if err := storage.ValidateCollectionName(collection); err != nil {
		return err
	}
	dims, found, err := c.collectionDims(ctx, collection)
	if err != nil {
		return storage.Unavailable("Upsert", collection, err)
	}
	if !found {
		return &storage.OpError{Op: "Upsert", Collection: collection, Kind: storage.ErrUnavailable,
			Err: fmt.Errorf("collection does not exist")}
	}
	if err := storage.ValidatePoints(points, dims); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable("Upsert", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, source_id, text, vector, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			source_id = EXCLUDED.source_id, text = EXCLUDED.text,
			vector = EXCLUDED.vector, payload = EXCLUDED.payload
	`, collection))
	if err != nil {
		return storage.Unavailable("Upsert", collection, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}

		// Convert vector to PostgreSQL vector format: "[0.1,0.2,0.3,...]"
		if _, err := stmt.ExecContext(ctx,
			p.ID, p.SourceID(), p.Text(), vectorToString(p.Vector), string(payloadJSON),
		); err != nil {
			return storage.Unavailable("Upsert", collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.Unavailable("Upsert", collection, err)
	}
	return nil
}

// Search performs vector search using pgvector's cosine distance operator.
func (c *Client) Search(ctx context.Context, collection string, vector []float64, opts *storage.SearchOptions) ([]*storage.ScoredPoint, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	if err := storage.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	dims, found, err := c.collectionDims(ctx, collection)
	if err != nil {
		return nil, storage.Unavailable("Search", collection, err)
	}
	if !found {
		return nil, nil
	}
	if len(vector) != dims {
		return nil, &storage.OpError{Op: "Search", Collection: collection, Kind: storage.ErrDimensionMismatch,
			Err: fmt.Errorf("query has %d dimensions, collection expects %d", len(vector), dims)}
	}

	// Build WHERE clause (starting from $2 since $1 is the query vector)
	conditions, args := buildConditions(opts.Filter, 2)
	args = append([]interface{}{vectorToString(vector)}, args...)
	if opts.MinScore > 0 {
		args = append(args, opts.MinScore)
		conditions = append(conditions, fmt.Sprintf("1 - (vector <=> $1) >= $%d", len(args)))
	}

	// <=> is cosine distance, 1 - cosine similarity
	query := fmt.Sprintf(`
		SELECT id, vector, payload, 1 - (vector <=> $1) AS similarity
		FROM %s
		%s
		ORDER BY vector <=> $1
	`, collection, whereClause(conditions))
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("Search", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var results []*storage.ScoredPoint
	for rows.Next() {
		var sp storage.ScoredPoint
		if err := scanPoint(rows, &sp.Point, &sp.Score); err != nil {
			return nil, storage.Unavailable("Search", collection, err)
		}
		results = append(results, &sp)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("Search", collection, err)
	}
	return results, nil
}

// Find returns up to limit points matching the filter, in insertion order.
func (c *Client) Find(ctx context.Context, collection string, filter *storage.Filter, limit int) ([]*storage.Point, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if err := storage.ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if _, found, err := c.collectionDims(ctx, collection); err != nil {
		return nil, storage.Unavailable("Find", collection, err)
	} else if !found {
		return nil, nil
	}

	conditions, args := buildConditions(filter, 1)
	query := fmt.Sprintf(`SELECT id, vector, payload FROM %s %s ORDER BY seq`, collection, whereClause(conditions))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("Find", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var points []*storage.Point
	for rows.Next() {
		var p storage.Point
		if err := scanPoint(rows, &p, nil); err != nil {
			return nil, storage.Unavailable("Find", collection, err)
		}
		points = append(points, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("Find", collection, err)
	}
	return points, nil
}

// Count returns the number of points matching the filter.
func (c *Client) Count(ctx context.Context, collection string, filter *storage.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	if err := storage.ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	if _, found, err := c.collectionDims(ctx, collection); err != nil {
		return 0, storage.Unavailable("Count", collection, err)
	} else if !found {
		return 0, nil
	}

	conditions, args := buildConditions(filter, 1)
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", collection, whereClause(conditions))
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, storage.Unavailable("Count", collection, err)
	}
	return n, nil
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *Client) collectionDims(ctx context.Context, collection string) (int, bool, error) {
	var dims int
	err := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT dims FROM %s WHERE name = $1", collectionsTable), collection,
	).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return dims, true, nil
}

// scanPoint scans id, vector, payload and, when score is non-nil, similarity.
func scanPoint(rows *sql.Rows, p *storage.Point, score *float64) error {
	var vectorStr string
	var payloadJSON []byte

	dest := []interface{}{&p.ID, &vectorStr, &payloadJSON}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}

	vector, err := parseVectorString(vectorStr)
	if err != nil {
		return fmt.Errorf("parse vector: %w", err)
	}
	p.Vector = vector

	if err := json.Unmarshal(payloadJSON, &p.Payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	return nil
}

// vectorToString converts a vector to PostgreSQL vector format.
func vectorToString(vector []float64) string {
	if len(vector) == 0 {
		return "[]"
	}

	parts := make([]string, len(vector))
	for i, v := range vector {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}

	return "[" + strings.Join(parts, ",") + "]"
}

// parseVectorString parses a PostgreSQL vector string.
func parseVectorString(s string) ([]float64, error) {
	// Remove leading and trailing square brackets
	s = strings.Trim(s, "[]")
	if s == "" {
		return []float64{}, nil
	}

	parts := strings.Split(s, ",")
	result := make([]float64, len(parts))

	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, err
		}
		result[i] = val
	}

	return result, nil
}

// pathArray adapts a key path for a text[] parameter.
func pathArray(path []string) interface{} {
	return pq.Array(path)
}
