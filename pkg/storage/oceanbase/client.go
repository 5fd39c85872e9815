// Package oceanbase provides an OceanBase implementation of the vector store
// using its native VECTOR column type over the MySQL protocol.
package oceanbase

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// collectionsTable records the vector size of every collection.
const collectionsTable = "memory_collections"

// Client is an OceanBase client.
type Client struct {
	db     *sql.DB
	config *Config
}

// Config contains OceanBase configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string

	// HNSW builds an HNSW vector index for every new collection.
	HNSW bool
}

// NewClient creates a new OceanBase client.
func NewClient(cfg *Config) (*Client, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, storage.Unavailable("Open", cfg.DBName, err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, storage.Unavailable("Open", cfg.DBName, err)
	}

	client := &Client{db: db, config: cfg}

	// Initialize the collection registry
	if err := client.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return client, nil
}

// initTables creates the collection registry.
func (c *Client) initTables(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name VARCHAR(64) PRIMARY KEY,
			dims INT NOT NULL
		)
	`, collectionsTable)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return storage.Unavailable("initTables", "", err)
	}
	return nil
}

// EnsureCollection creates the collection table if it does not exist.
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

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			seq BIGINT NOT NULL AUTO_INCREMENT,
			id VARCHAR(64) NOT NULL,
			source_id VARCHAR(255) NOT NULL,
			document LONGTEXT NOT NULL,
			hash VARCHAR(32) NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			payload JSON NOT NULL,
			PRIMARY KEY (seq),
			UNIQUE KEY uk_%s_id (id),
			INDEX idx_%s_source (source_id),
			INDEX idx_%s_hash (hash)
		)
	`, collection, dims, collection, collection, collection)
	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}

	if c.config.HNSW {
		indexQuery := fmt.Sprintf(`
			CREATE VECTOR INDEX idx_%s_vector ON %s (embedding) WITH (
				distance = cosine,
				type = hnsw,
				lib = vsag
			)`, collection, collection)
		if _, err := c.db.ExecContext(ctx, indexQuery); err != nil {
			return storage.Unavailable("EnsureCollection", collection, fmt.Errorf("create vector index: %w", err))
		}
	}

	if _, err := c.db.ExecContext(ctx,
		fmt.Sprintf("INSERT IGNORE INTO %s (name, dims) VALUES (?, ?)", collectionsTable),
		collection, dims,
	); err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}
	return nil
}

// Upsert writes all points in a single transaction.
//
// The text is stored in the 'document' column together with its MD5 hash,
// which backs exact-text lookups.
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

	query := fmt.Sprintf(`
		INSERT INTO %s (id, source_id, document, hash, embedding, payload)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			source_id = VALUES(source_id), document = VALUES(document), hash = VALUES(hash),
			embedding = VALUES(embedding), payload = VALUES(payload)
	`, collection)

	for _, p := range points {
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query,
			p.ID, p.SourceID(), p.Text(), generateHash(p.Text()),
			vectorToString(p.Vector), string(payloadJSON),
		); err != nil {
			return storage.Unavailable("Upsert", collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.Unavailable("Upsert", collection, err)
	}
	return nil
}

// Search performs vector search ordered by cosine distance.
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

	vectorStr := vectorToString(vector)
	whereClause, filterArgs := buildWhereClause(opts.Filter)

	args := []interface{}{vectorStr}
	args = append(args, filterArgs...)

	having := ""
	if opts.MinScore > 0 {
		having = "HAVING similarity >= ?"
		args = append(args, opts.MinScore)
	}

	query := fmt.Sprintf(`
		SELECT id, embedding, payload, 1 - cosine_distance(embedding, ?) AS similarity
		FROM %s
		%s
		%s
		ORDER BY similarity DESC
	`, collection, whereClause, having)
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
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

	whereClause, args := buildWhereClause(filter)
	query := fmt.Sprintf("SELECT id, embedding, payload FROM %s %s ORDER BY seq", collection, whereClause)
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
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

	whereClause, args := buildWhereClause(filter)
	var n int
	if err := c.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s %s", collection, whereClause), args...,
	).Scan(&n); err != nil {
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
		fmt.Sprintf("SELECT dims FROM %s WHERE name = ?", collectionsTable), collection,
	).Scan(&dims)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return dims, true, nil
}

// scanPoint scans id, embedding, payload and, when score is non-nil, similarity.
func scanPoint(rows *sql.Rows, p *storage.Point, score *float64) error {
	var embeddingStr string
	var payloadJSON []byte

	dest := []interface{}{&p.ID, &embeddingStr, &payloadJSON}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return err
	}

	vector, err := stringToVector(embeddingStr)
	if err != nil {
		return fmt.Errorf("parse embedding: %w", err)
	}
	p.Vector = vector

	if err := json.Unmarshal(payloadJSON, &p.Payload); err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}
	return nil
}
