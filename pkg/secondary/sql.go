package secondary

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// SQLWriter writes entries to a memory_entries table through database/sql.
// Row ids are snowflake ids, so rows sort by creation time.
type SQLWriter struct {
	db     *sql.DB
	node   *snowflake.Node
	insert string
}

// NewPostgresWriter opens a Postgres-backed writer.
func NewPostgresWriter(dsn string) (*SQLWriter, error) {
	return newSQLWriter("postgres", dsn, `
		INSERT INTO memory_entries (id, memory_id, source_id, text, type, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
}

// NewSQLiteWriter opens a SQLite-backed writer.
func NewSQLiteWriter(path string) (*SQLWriter, error) {
	return newSQLWriter("sqlite3", path+"?_busy_timeout=5000", `
		INSERT INTO memory_entries (id, memory_id, source_id, text, type, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
}

func newSQLWriter(driver, dsn, insert string) (*SQLWriter, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	w := &SQLWriter{db: db, node: node, insert: insert}
	if err := w.initTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLWriter) initTables(ctx context.Context) error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS memory_entries (
			id BIGINT PRIMARY KEY,
			memory_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			text TEXT NOT NULL,
			type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_type ON memory_entries(type)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_entries_source_id ON memory_entries(source_id)`,
	}
	for _, stmt := range stmts {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initTables: %w", err)
		}
	}
	return nil
}

// Write inserts one row.
func (w *SQLWriter) Write(ctx context.Context, entry *Entry) error {
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = w.db.ExecContext(ctx, w.insert,
		w.node.Generate().Int64(),
		entry.MemoryID,
		entry.SourceID,
		entry.Text,
		entry.Type,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("insert memory_entries: %w", err)
	}
	return nil
}

// Close closes the database.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}
