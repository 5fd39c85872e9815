package core

import (
	"time"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// reservedKeys are payload keys owned by MemoryPoint fields. Metadata can
// not override them.
var reservedKeys = map[string]bool{
	storage.KeyText:        true,
	storage.KeySourceID:    true,
	storage.KeyType:        true,
	storage.KeyTags:        true,
	storage.KeyTimestamp:   true,
	storage.KeyIndexedAt:   true,
	storage.KeyChunkIndex:  true,
	storage.KeyTotalChunks: true,
	storage.KeyContentHash: true,
}

// Payload returns the flat payload stored for the point: metadata plus
// the structured fields, which always win over metadata keys.
func (p *MemoryPoint) Payload() map[string]interface{} {
	payload := make(map[string]interface{}, len(p.Metadata)+9)
	for k, v := range p.Metadata {
		payload[k] = v
	}
	payload[storage.KeyText] = p.Text
	payload[storage.KeySourceID] = p.SourceID
	payload[storage.KeyType] = p.Type
	payload[storage.KeyTags] = append([]string{}, p.Tags...)
	payload[storage.KeyTimestamp] = p.Timestamp.Format(time.RFC3339Nano)
	payload[storage.KeyIndexedAt] = p.IndexedAt.Format(time.RFC3339Nano)
	payload[storage.KeyChunkIndex] = p.ChunkIndex
	payload[storage.KeyTotalChunks] = p.TotalChunks
	if p.ContentHash != "" {
		payload[storage.KeyContentHash] = p.ContentHash
	}
	return payload
}

// toStoragePoint converts a MemoryPoint for the vector store.
//
// This function is used internally to convert between core types and storage types.
func toStoragePoint(p *MemoryPoint) *storage.Point {
	return &storage.Point{
		ID:      p.ID,
		Vector:  p.Vector,
		Payload: p.Payload(),
	}
}

// fromStoragePoint rebuilds a MemoryPoint from a stored payload.
func fromStoragePoint(p *storage.Point) *MemoryPoint {
	m := &MemoryPoint{
		ID:       p.ID,
		Vector:   p.Vector,
		Text:     p.Text(),
		SourceID: p.SourceID(),
		Metadata: make(map[string]interface{}),
	}
	m.Type, _ = p.Payload[storage.KeyType].(string)
	m.ContentHash, _ = p.Payload[storage.KeyContentHash].(string)
	m.Tags = stringList(p.Payload[storage.KeyTags])
	if m.Tags == nil {
		m.Tags = []string{}
	}
	m.Timestamp = payloadTime(p.Payload[storage.KeyTimestamp])
	m.IndexedAt = payloadTime(p.Payload[storage.KeyIndexedAt])
	m.ChunkIndex = payloadInt(p.Payload[storage.KeyChunkIndex])
	m.TotalChunks = payloadInt(p.Payload[storage.KeyTotalChunks])

	for k, v := range p.Payload {
		if !reservedKeys[k] {
			m.Metadata[k] = v
		}
	}
	return m
}

// fromScoredPoints converts search hits, keeping their order.
func fromScoredPoints(points []*storage.ScoredPoint) []*ScoredMemoryPoint {
	out := make([]*ScoredMemoryPoint, 0, len(points))
	for _, p := range points {
		out = append(out, &ScoredMemoryPoint{
			MemoryPoint: fromStoragePoint(&p.Point),
			Score:       p.Score,
		})
	}
	return out
}

func payloadTime(v interface{}) time.Time {
	switch t := v.(type) {
	case string:
		ts, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return ts
	case time.Time:
		return t
	default:
		return time.Time{}
	}
}

// payloadInt reads numbers that went through JSON or a store's own encoding.
func payloadInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case float32:
		return int(n)
	default:
		return 0
	}
}
