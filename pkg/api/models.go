package api

import (
	"encoding/json"

	"github.com/orion-hub/orion-memory-go/pkg/core"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// AddMemoryRequest is the body of POST /api/memory/add.
type AddMemoryRequest struct {
	Text       string                 `json:"text"`
	SourceID   string                 `json:"sourceId"`
	Type       string                 `json:"type,omitempty"`
	Tags       []string               `json:"tags,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	Collection string                 `json:"collectionName,omitempty"`
}

// SearchMemoryRequest is the body of POST /api/memory/search.
//
// Filter takes the wire shape {"must":[{"key":"payload.type","match":{"value":"note"}}]}.
// Type and Tags are shorthands ANDed onto it.
type SearchMemoryRequest struct {
	Query       string          `json:"query"`
	QueryVector []float64       `json:"queryVector,omitempty"`
	Filter      json.RawMessage `json:"filter,omitempty"`
	Type        string          `json:"type,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Limit       int             `json:"limit,omitempty"`
	MinScore    *float64        `json:"minScore,omitempty"`
	Collection  string          `json:"collectionName,omitempty"`
}

// InitializeRequest is the optional body of POST /api/memory/initialize.
type InitializeRequest struct {
	Collections []string `json:"collections,omitempty"`
}

// SearchResult is one ranked hit in the stored shape.
type SearchResult struct {
	ID      string                 `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// GenerateEmbeddingsRequest is the body of POST /api/memory/generate-embeddings.
type GenerateEmbeddingsRequest struct {
	Texts []string `json:"texts"`
}

// UpsertPoint is one caller-built point in the stored shape.
type UpsertPoint struct {
	ID      string                 `json:"id"`
	Vector  []float64              `json:"vector"`
	Payload map[string]interface{} `json:"payload"`
}

// UpsertRequest is the body of POST /api/memory/upsert.
type UpsertRequest struct {
	Points     []UpsertPoint `json:"points"`
	Collection string        `json:"collectionName,omitempty"`
}

// MemoryResponse is the response of the add, upsert and initialize routes
// and of every failed request.
type MemoryResponse struct {
	Success   bool     `json:"success"`
	MemoryIDs []string `json:"memoryIds,omitempty"`
	Error     string   `json:"error,omitempty"`
	Duplicate bool     `json:"duplicate,omitempty"`
}

// SearchMemoryResponse is the response of a successful search. Results is
// [] when nothing matched.
type SearchMemoryResponse struct {
	Success bool           `json:"success"`
	Results []SearchResult `json:"results"`
}

// EmbeddingsResponse is the response of a successful generate-embeddings
// call. Embeddings follow the order of the request texts.
type EmbeddingsResponse struct {
	Success    bool        `json:"success"`
	Embeddings [][]float64 `json:"embeddings"`
}

func toStoragePoints(points []UpsertPoint) []*storage.Point {
	out := make([]*storage.Point, 0, len(points))
	for _, p := range points {
		out = append(out, &storage.Point{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}
	return out
}

func toSearchResults(points []*core.ScoredMemoryPoint) []SearchResult {
	out := make([]SearchResult, 0, len(points))
	for _, p := range points {
		out = append(out, SearchResult{
			ID:      p.ID,
			Score:   p.Score,
			Payload: p.Payload(),
		})
	}
	return out
}
