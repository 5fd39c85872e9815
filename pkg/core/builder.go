package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PointInput is everything the builder combines into one point.
type PointInput struct {
	Text     string
	Vector   []float64
	SourceID string

	// Type defaults to metadata["type"], then to TypeGeneral.
	Type string

	// Tags default to metadata["tags"] when empty.
	Tags []string

	// Metadata is copied into the point. A "timestamp" entry (RFC 3339
	// string or time.Time) overrides the point timestamp.
	Metadata map[string]interface{}

	ChunkIndex  int
	TotalChunks int

	// ContentHash of the whole document. Defaults to ContentHash(Text).
	ContentHash string
}

// PointBuilder turns chunks into memory points.
//
// Build is deterministic apart from the generated id and IndexedAt.
type PointBuilder struct {
	dims  int
	now   func() time.Time
	newID func() string
}

// NewPointBuilder creates a builder for vectors of the given size. A
// non-positive dims disables the size check.
func NewPointBuilder(dims int) *PointBuilder {
	return &PointBuilder{
		dims:  dims,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// Build creates a point. Inputs are never modified.
func (b *PointBuilder) Build(in *PointInput) (*MemoryPoint, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, validationError("BuildPoint", "text is empty")
	}
	if strings.TrimSpace(in.SourceID) == "" {
		return nil, validationError("BuildPoint", "source id is required")
	}
	if len(in.Vector) == 0 {
		return nil, validationError("BuildPoint", "vector is empty")
	}
	if b.dims > 0 && len(in.Vector) != b.dims {
		return nil, NewMemoryError("BuildPoint",
			fmt.Errorf("%w: vector has %d dimensions, expected %d", ErrDimensionMismatch, len(in.Vector), b.dims))
	}

	indexedAt := b.now()
	timestamp := indexedAt
	if raw, ok := in.Metadata["timestamp"]; ok {
		ts, err := parseTimestamp(raw)
		if err != nil {
			return nil, validationError("BuildPoint", err.Error())
		}
		timestamp = ts
	}

	memoryType := strings.TrimSpace(in.Type)
	if memoryType == "" {
		if t, ok := in.Metadata["type"].(string); ok {
			memoryType = strings.TrimSpace(t)
		}
	}
	if memoryType == "" {
		memoryType = TypeGeneral
	}

	tags := in.Tags
	if len(tags) == 0 {
		tags = stringList(in.Metadata["tags"])
	}

	hash := in.ContentHash
	if hash == "" {
		hash = ContentHash(in.Text)
	}

	return &MemoryPoint{
		ID:          b.newID(),
		Vector:      append([]float64(nil), in.Vector...),
		Text:        in.Text,
		SourceID:    in.SourceID,
		Type:        memoryType,
		Tags:        NormalizeTags(tags),
		Timestamp:   timestamp,
		IndexedAt:   indexedAt,
		ChunkIndex:  in.ChunkIndex,
		TotalChunks: in.TotalChunks,
		ContentHash: hash,
		Metadata:    copyMetadata(in.Metadata),
	}, nil
}

// ContentHash returns the hex sha256 of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizeTags lowercases and trims tags, drops empty ones and removes
// duplicates, keeping first-occurrence order. The result is never nil.
//
//	NormalizeTags([]string{"  Work ", "WORK", ""}) // ["work"]
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func parseTimestamp(raw interface{}) (time.Time, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("metadata timestamp %q is not RFC 3339", v)
		}
		return ts.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("metadata timestamp has unsupported type %T", raw)
	}
}

// stringList accepts []string or a decoded JSON array of strings.
func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// copyMetadata shallow-copies m without the keys the point carries as fields.
func copyMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if reservedKeys[k] {
			continue
		}
		out[k] = v
	}
	return out
}
