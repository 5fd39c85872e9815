// Package hash provides a deterministic, offline embedding provider.
//
// Texts are embedded with the feature hashing trick: every lowercased word
// is hashed into one of Dimensions buckets with a signed weight, and the
// vector is L2-normalized. Texts sharing words score higher under cosine
// similarity, which is enough for local runs and tests. It is not a
// semantic model.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is used when Config.Dimensions is zero.
const DefaultDimensions = 384

// Client is a hashing embedder.
type Client struct {
	dimensions int
}

// Config contains configuration for the hashing embedder.
type Config struct {
	Dimensions int
}

// NewClient creates a hashing embedder.
func NewClient(cfg *Config) *Client {
	dims := DefaultDimensions
	if cfg != nil && cfg.Dimensions > 0 {
		dims = cfg.Dimensions
	}
	return &Client{dimensions: dims}
}

// Name returns "hash".
func (c *Client) Name() string {
	return "hash"
}

// Embed returns the hashed bag-of-words vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.vector(text), nil
}

// EmbedBatch embeds every text independently.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i] = c.vector(t)
	}
	return out, nil
}

// Dimensions returns the vector size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}

func (c *Client) vector(text string) []float64 {
	v := make([]float64, c.dimensions)

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New64a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum64()

		bucket := int(sum % uint64(c.dimensions))
		if sum&(1<<63) != 0 {
			v[bucket]--
		} else {
			v[bucket]++
		}
	}

	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		// No words: a fixed unit vector keeps cosine similarity defined.
		v[0] = 1
		return v
	}

	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v
}
