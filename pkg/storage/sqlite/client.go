// Package sqlite provides SQLite implementation for vector storage.
//
// SQLite is a lightweight, file-based database suitable for local development
// and small-scale applications. Vectors are stored as JSON strings in TEXT fields,
// and similarity search uses in-memory cosine similarity calculation over the
// rows that pass the payload filter.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "github.com/mattn/go-sqlite3"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// collectionsTable records the vector size of every collection.
const collectionsTable = "memory_collections"

// Client implements VectorStore using SQLite as the backend.
type Client struct {
	// db is the SQLite database connection.
	db *sql.DB
}

// Config contains configuration for creating a SQLite VectorStore.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
}

// NewClient creates a new SQLite VectorStore client.
//
// Parameters:
//   - cfg: Configuration containing the database path
//
// Returns:
//   - *Client: The SQLite client instance
//   - error: Error if database connection or table creation fails
func NewClient(cfg *Config) (*Client, error) {
	// Create parent directory if it doesn't exist
	dbDir := filepath.Dir(cfg.DBPath)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("NewSQLiteClient: failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, storage.Unavailable("Open", cfg.DBPath, err)
	}

	if err := db.Ping(); err != nil {
		return nil, storage.Unavailable("Open", cfg.DBPath, err)
	}

	client := &Client{db: db}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			dims INTEGER NOT NULL
		)
	`, collectionsTable)
	if _, err := db.ExecContext(context.Background(), query); err != nil {
		return nil, storage.Unavailable("Open", cfg.DBPath, err)
	}

	return client, nil
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

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id TEXT PRIMARY KEY,
				source_id TEXT NOT NULL,
				type TEXT,
				text TEXT NOT NULL,
				vector TEXT NOT NULL,
				payload TEXT NOT NULL,
				indexed_at TEXT
			)
		`, collection),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_source ON %s(source_id)`, collection, collection),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_text ON %s(text)`, collection, collection),
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storage.Unavailable("EnsureCollection", collection, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT OR IGNORE INTO %s (name, dims) VALUES (?, ?)", collectionsTable),
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
//
// Vectors are stored as JSON strings in TEXT fields.
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
		INSERT INTO %s (id, source_id, type, text, vector, payload, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id, type = excluded.type, text = excluded.text,
			vector = excluded.vector, payload = excluded.payload, indexed_at = excluded.indexed_at
	`, collection))
	if err != nil {
		return storage.Unavailable("Upsert", collection, err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range points {
		vectorJSON, err := json.Marshal(p.Vector)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}
		payloadJSON, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("Upsert: %w", err)
		}
		memoryType, _ := p.Payload[storage.KeyType].(string)
		indexedAt, _ := p.Payload[storage.KeyIndexedAt].(string)

		if _, err := stmt.ExecContext(ctx,
			p.ID, p.SourceID(), memoryType, p.Text(),
			string(vectorJSON), string(payloadJSON), indexedAt,
		); err != nil {
			return storage.Unavailable("Upsert", collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.Unavailable("Upsert", collection, err)
	}
	return nil
}

// Search performs vector similarity search using cosine similarity.
//
// SQLite does not have native vector operations, so similarity is calculated
// in memory after loading the rows that satisfy the filter.
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

	whereClause, args := buildWhereClause(opts.Filter)
	query := fmt.Sprintf(`SELECT id, vector, payload FROM %s %s`, collection, whereClause)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Unavailable("Search", collection, err)
	}
	defer func() { _ = rows.Close() }()

	var results []*storage.ScoredPoint
	for rows.Next() {
		point, err := scanPoint(rows)
		if err != nil {
			return nil, storage.Unavailable("Search", collection, err)
		}

		score := storage.CosineSimilarity(vector, point.Vector)
		if score < opts.MinScore {
			continue
		}
		results = append(results, &storage.ScoredPoint{Point: *point, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, storage.Unavailable("Search", collection, err)
	}

	return sortByScore(results, opts.Limit), nil
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
	query := fmt.Sprintf(`SELECT id, vector, payload FROM %s %s ORDER BY rowid`, collection, whereClause)
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
		point, err := scanPoint(rows)
		if err != nil {
			return nil, storage.Unavailable("Find", collection, err)
		}
		points = append(points, point)
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
	err := c.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s %s", collection, whereClause), args...).Scan(&n)
	if err != nil {
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

// collectionDims looks up the recorded vector size of a collection.
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

// scanPoint scans a point from the id, vector, payload columns.
func scanPoint(rows *sql.Rows) (*storage.Point, error) {
	var point storage.Point
	var vectorStr, payloadStr string

	if err := rows.Scan(&point.ID, &vectorStr, &payloadStr); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(vectorStr), &point.Vector); err != nil {
		return nil, fmt.Errorf("parse vector: %w", err)
	}
	if err := json.Unmarshal([]byte(payloadStr), &point.Payload); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}

	return &point, nil
}

// sortByScore sorts points by score (descending) and limits the number of results.
func sortByScore(points []*storage.ScoredPoint, limit int) []*storage.ScoredPoint {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Score > points[j].Score
	})

	if limit > 0 && len(points) > limit {
		return points[:limit]
	}

	return points
}
