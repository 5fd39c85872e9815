// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must satisfy,
// enabling text-to-vector conversion for similarity search.
package embedder

import (
	"context"
	"errors"
	"fmt"
)

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, Qwen, hash) must implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// The result has one vector per input text, in input order. Providers
	// fail rather than return a different count.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	//
	// For example, OpenAI's text-embedding-ada-002 produces 1536-dimensional vectors.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// ErrProviderFailed is matched by every error returned from Batch and Single.
var ErrProviderFailed = errors.New("embedding provider failed")

// ProviderError carries the provider's own failure message unchanged.
type ProviderError struct {
	// Provider names the failing provider, e.g. "openai".
	Provider string

	// Err is the provider failure.
	Err error
}

// Error returns "embedding provider <name>: <err>".
func (e *ProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is reports ErrProviderFailed as a match.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderFailed
}

// Named is implemented by providers that report a name for error messages.
type Named interface {
	Name() string
}

func providerName(p Provider) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", p)
}

// Batch embeds texts with one provider call and enforces the batch contract:
// exactly one vector per text, each of the provider's dimensionality. Any
// failure is returned as a *ProviderError.
func Batch(ctx context.Context, p Provider, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, &ProviderError{Provider: providerName(p), Err: err}
	}
	if len(vectors) != len(texts) {
		return nil, &ProviderError{
			Provider: providerName(p),
			Err:      fmt.Errorf("returned %d embeddings for %d texts", len(vectors), len(texts)),
		}
	}

	dims := p.Dimensions()
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, &ProviderError{Provider: providerName(p), Err: fmt.Errorf("empty embedding at index %d", i)}
		}
		if dims > 0 && len(v) != dims {
			return nil, &ProviderError{
				Provider: providerName(p),
				Err:      fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), dims),
			}
		}
	}
	return vectors, nil
}

// Single embeds one text under the same checks as Batch.
func Single(ctx context.Context, p Provider, text string) ([]float64, error) {
	vectors, err := Batch(ctx, p, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
