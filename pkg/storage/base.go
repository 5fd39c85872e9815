// Package storage provides interfaces and types for vector storage backends.
//
// It defines the VectorStore interface that all storage implementations must satisfy,
// along with the point types, the filter condition tree and the error kinds that
// every backend reports.
package storage

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"
)

// Payload keys written by the memory point builder.
const (
	KeyText        = "text"
	KeySourceID    = "source_id"
	KeyType        = "type"
	KeyTags        = "tags"
	KeyTimestamp   = "timestamp"
	KeyIndexedAt   = "indexed_at"
	KeyChunkIndex  = "chunk_index"
	KeyTotalChunks = "total_chunks"

	// KeyContentHash is the sha256 of the whole added text, shared by
	// every chunk of one document.
	KeyContentHash = "content_hash"
)

// Point represents a memory point stored in the vector store.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package. It mirrors core.MemoryPoint with a flat payload map.
type Point struct {
	// ID is the unique identifier of the point (UUID).
	ID string

	// Vector is the embedding vector for similarity search.
	Vector []float64

	// Payload holds the structured fields (text, source_id, type, tags, ...)
	// merged with caller metadata.
	Payload map[string]interface{}
}

// Text returns the payload text, or "" if absent.
func (p *Point) Text() string {
	s, _ := p.Payload[KeyText].(string)
	return s
}

// SourceID returns the payload source id, or "" if absent.
func (p *Point) SourceID() string {
	s, _ := p.Payload[KeySourceID].(string)
	return s
}

// ScoredPoint is a point returned by a similarity search.
type ScoredPoint struct {
	Point

	// Score is the cosine similarity between the query and the point vector.
	// Higher scores indicate better matches.
	Score float64
}

// VectorStore defines the interface for vector storage backends.
//
// All storage implementations (chromem, Qdrant, SQLite, PostgreSQL, OceanBase)
// must implement this interface. Reads against a collection that does not
// exist yet return no results rather than an error.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist.
	//
	// Returns ErrDimensionMismatch if the collection exists with a different
	// vector size.
	EnsureCollection(ctx context.Context, collection string, dims int) error

	// Upsert writes all points in one batch. Either every point is stored or
	// an error is returned and none should be assumed present.
	Upsert(ctx context.Context, collection string, points []*Point) error

	// Search performs vector similarity search.
	//
	// Returns at most opts.Limit points sorted by similarity (highest first).
	Search(ctx context.Context, collection string, vector []float64, opts *SearchOptions) ([]*ScoredPoint, error)

	// Find returns up to limit points whose payload satisfies the filter.
	// No vector ranking is involved.
	Find(ctx context.Context, collection string, filter *Filter, limit int) ([]*Point, error)

	// Count returns the number of points matching the filter (all points if nil).
	Count(ctx context.Context, collection string, filter *Filter) (int, error)

	// Close closes the store and releases resources.
	Close() error
}

// SearchOptions contains options for search operations.
type SearchOptions struct {
	// Filter restricts results to points whose payload satisfies every condition.
	Filter *Filter

	// Limit sets the maximum number of results to return.
	Limit int

	// MinScore drops results scoring below this similarity.
	MinScore float64
}

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidateCollectionName checks that a collection name is usable as a table
// or collection identifier by every backend.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollection, name)
	}
	return nil
}

// ValidatePoints checks the invariants every backend relies on before any
// write is attempted. dims <= 0 skips the dimensionality check.
func ValidatePoints(points []*Point, dims int) error {
	for i, p := range points {
		if p == nil {
			return fmt.Errorf("%w: point %d is nil", ErrInvalidPoint, i)
		}
		if p.ID == "" {
			return fmt.Errorf("%w: point %d has no id", ErrInvalidPoint, i)
		}
		if strings.TrimSpace(p.Text()) == "" {
			return fmt.Errorf("%w: point %s has empty text", ErrInvalidPoint, p.ID)
		}
		if p.SourceID() == "" {
			return fmt.Errorf("%w: point %s has no source_id", ErrInvalidPoint, p.ID)
		}
		if dims > 0 && len(p.Vector) != dims {
			return fmt.Errorf("%w: point %s has %d dimensions, collection expects %d",
				ErrDimensionMismatch, p.ID, len(p.Vector), dims)
		}
	}
	return nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// Returns 0 if the vectors have different dimensions or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
