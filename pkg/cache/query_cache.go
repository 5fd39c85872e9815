// Package cache provides the query-embedding cache used by the memory client.
//
// Entries carry their own expiry and the cache is owned by whoever creates
// it; there is no process-wide state. Invalidate drops every entry at once.
package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultMaxBytes bounds the memory held by cached vectors.
const DefaultMaxBytes = 64 << 20

// QueryCache maps query text to its embedding vector.
//
// A nil *QueryCache is valid and caches nothing.
type QueryCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// Config contains configuration for a QueryCache.
type Config struct {
	// TTL is how long an entry stays valid. Required.
	TTL time.Duration

	// MaxBytes bounds total vector memory. Defaults to DefaultMaxBytes.
	MaxBytes int64
}

// NewQueryCache creates a cache. A non-positive TTL returns a nil cache.
func NewQueryCache(cfg Config) (*QueryCache, error) {
	if cfg.TTL <= 0 {
		return nil, nil
	}

	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	// Roughly 10x the number of 1536-dim vectors that fit.
	counters := maxBytes / (1536 * 8) * 10
	if counters < 1000 {
		counters = 1000
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	return &QueryCache{cache: c, ttl: cfg.TTL}, nil
}

// Get returns a copy of the cached vector for query.
func (q *QueryCache) Get(query string) ([]float64, bool) {
	if q == nil {
		return nil, false
	}
	v, ok := q.cache.Get(query)
	if !ok {
		return nil, false
	}
	vector, ok := v.([]float64)
	if !ok {
		return nil, false
	}
	return append([]float64(nil), vector...), true
}

// Set stores a copy of vector for query. The entry is visible to Get once
// Set returns.
func (q *QueryCache) Set(query string, vector []float64) {
	if q == nil || len(vector) == 0 {
		return
	}
	stored := append([]float64(nil), vector...)
	if q.cache.SetWithTTL(query, stored, int64(len(stored)*8), q.ttl) {
		q.cache.Wait()
	}
}

// Invalidate removes every entry.
func (q *QueryCache) Invalidate() {
	if q == nil {
		return
	}
	q.cache.Clear()
}

// Close stops the cache's background goroutines.
func (q *QueryCache) Close() {
	if q == nil {
		return
	}
	q.cache.Close()
}
