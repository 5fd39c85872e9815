package core

import (
	"github.com/orion-hub/orion-memory-go/pkg/cache"
	"github.com/orion-hub/orion-memory-go/pkg/secondary"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// AddOption is a function type for configuring AddMemory.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type AddOption func(*AddOptions)

// AddOptions contains configuration options for AddMemory.
type AddOptions struct {
	// Type classifies the memory. Defaults to metadata["type"], then "general".
	Type string

	// Tags are normalized before storage.
	Tags []string

	// Metadata is merged into every point's payload.
	Metadata map[string]interface{}

	// Collection overrides the configured collection.
	Collection string

	// MaxChunkChars overrides the configured chunk size.
	MaxChunkChars int
}

// WithType sets the memory type.
//
// Example:
//
//	res, _ := client.AddMemory(ctx, text, "journal-42", core.WithType(core.TypeJournalEntry))
func WithType(memoryType string) AddOption {
	return func(opts *AddOptions) {
		opts.Type = memoryType
	}
}

// WithTags sets the memory tags.
func WithTags(tags ...string) AddOption {
	return func(opts *AddOptions) {
		opts.Tags = append(opts.Tags, tags...)
	}
}

// WithMetadata sets caller metadata for AddMemory.
//
// Example:
//
//	res, _ := client.AddMemory(ctx, text, "doc1", core.WithMetadata(map[string]interface{}{
//	    "mood":      "focused",
//	    "timestamp": "2024-05-01T09:00:00Z",
//	}))
func WithMetadata(metadata map[string]interface{}) AddOption {
	return func(opts *AddOptions) {
		opts.Metadata = metadata
	}
}

// WithCollection writes to a collection other than the configured one.
func WithCollection(collection string) AddOption {
	return func(opts *AddOptions) {
		opts.Collection = collection
	}
}

// WithMaxChunkChars overrides the chunk size for one add.
func WithMaxChunkChars(n int) AddOption {
	return func(opts *AddOptions) {
		opts.MaxChunkChars = n
	}
}

// SearchOption is a function type for configuring SearchMemory.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for SearchMemory.
type SearchOptions struct {
	// Filter restricts results; every condition must hold.
	Filter *storage.Filter

	// Limit is the maximum number of results. Defaults to the configured limit.
	Limit int

	// Collection overrides the configured collection.
	Collection string

	// MinScore drops results below this similarity. Nil uses the
	// configured floor; an explicit 0 disables it.
	MinScore *float64

	// QueryVector skips embedding the query text.
	QueryVector []float64
}

// WithFilter sets the search filter.
//
// Example:
//
//	results, _ := client.SearchMemory(ctx, "product launch",
//	    core.WithFilter(storage.NewFilter(storage.TypeIs("journal_entry"), storage.HasTag("work"))))
func WithFilter(filter *storage.Filter) SearchOption {
	return func(opts *SearchOptions) {
		opts.Filter = filter
	}
}

// WithLimit sets the maximum number of results.
//
// Example:
//
//	results, _ := client.SearchMemory(ctx, "query", core.WithLimit(3))
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithSearchCollection searches a collection other than the configured one.
func WithSearchCollection(collection string) SearchOption {
	return func(opts *SearchOptions) {
		opts.Collection = collection
	}
}

// WithMinScore sets the minimum similarity score.
func WithMinScore(score float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.MinScore = &score
	}
}

// WithQueryVector searches with a pre-computed vector.
func WithQueryVector(vector []float64) SearchOption {
	return func(opts *SearchOptions) {
		opts.QueryVector = vector
	}
}

// ClientOption configures optional client collaborators.
type ClientOption func(*Client)

// WithQueryCache caches query embeddings. A nil cache disables caching.
func WithQueryCache(qc *cache.QueryCache) ClientOption {
	return func(c *Client) {
		c.queryCache = qc
	}
}

// WithSecondary enables best-effort secondary persistence.
func WithSecondary(policy *secondary.BestEffort) ClientOption {
	return func(c *Client) {
		c.secondary = policy
	}
}

func applyAddOptions(opts []AddOption) *AddOptions {
	options := &AddOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	options := &SearchOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
