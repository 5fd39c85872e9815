package core

import (
	"context"
	"log"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// DedupGuard detects documents that are already stored in a collection.
//
// The check is an exact match on the first chunk's text and the hash of
// the whole document, not a similarity search.
// A failed lookup is returned as an error and never reported as "not a
// duplicate".
type DedupGuard struct {
	store storage.VectorStore
}

// NewDedupGuard creates a guard over store.
func NewDedupGuard(store storage.VectorStore) *DedupGuard {
	return &DedupGuard{store: store}
}

// IsDuplicate reports whether a document with first chunk text and whole
// text hash is stored in collection. On a hit it also returns the id of
// the existing point.
func (g *DedupGuard) IsDuplicate(ctx context.Context, collection, text, hash string) (bool, string, error) {
	filter := storage.NewFilter(storage.TextIs(text), storage.ContentHashIs(hash))
	points, err := g.store.Find(ctx, collection, filter, 1)
	if err != nil {
		log.Printf("[MEMORY_DEDUP] Lookup failed, blocking write: collection=%s, error=%v", collection, err)
		return false, "", NewMemoryError("IsDuplicate", err)
	}
	if len(points) == 0 {
		return false, "", nil
	}

	log.Printf("[MEMORY_DEDUP] Duplicate found: collection=%s, existing_id=%s, text=%q",
		collection, points[0].ID, preview(text))
	return true, points[0].ID, nil
}

// preview truncates text for log lines.
func preview(text string) string {
	const max = 60
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	return string(r[:max]) + "..."
}
