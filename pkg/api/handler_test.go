package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-hub/orion-memory-go/pkg/api"
	"github.com/orion-hub/orion-memory-go/pkg/core"
	"github.com/orion-hub/orion-memory-go/pkg/embedder"
	"github.com/orion-hub/orion-memory-go/pkg/embedder/hash"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
	"github.com/orion-hub/orion-memory-go/pkg/storage/chromem"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := chromem.NewClient(nil)
	require.NoError(t, err)
	client, err := core.New(nil, store, hash.NewClient(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return api.NewRouter(client)
}

// response holds the fields of every route's response body.
type response struct {
	api.MemoryResponse
	Results    []api.SearchResult `json:"results"`
	Embeddings [][]float64        `json:"embeddings"`
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var resp response
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(w.Body.Bytes(), &resp)
	}
	return w, resp
}

func TestHealth(t *testing.T) {
	w, _ := do(t, newRouter(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestAddAndSearch(t *testing.T) {
	router := newRouter(t)

	w, resp := do(t, router, http.MethodPost, "/api/memory/add", api.AddMemoryRequest{
		Text:     "The quick brown fox",
		SourceID: "doc1",
		Type:     "note",
		Tags:     []string{"Animal"},
		Metadata: map[string]interface{}{"mood": "playful"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	require.Len(t, resp.MemoryIDs, 1)
	id := resp.MemoryIDs[0]

	w, resp = do(t, router, http.MethodPost, "/api/memory/search",
		`{"query":"quick brown fox","filter":{"must":[{"key":"payload.type","match":{"value":"note"}}]},"tags":["animal"],"limit":3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 1)

	hit := resp.Results[0]
	assert.Equal(t, id, hit.ID)
	assert.Equal(t, "The quick brown fox", hit.Payload["text"])
	assert.Equal(t, "doc1", hit.Payload["source_id"])
	assert.Equal(t, "playful", hit.Payload["mood"])
	assert.Equal(t, []interface{}{"animal"}, hit.Payload["tags"])
}

func TestSearchWithoutHitsReturnsEmptyList(t *testing.T) {
	router := newRouter(t)

	w, resp := do(t, router, http.MethodPost, "/api/memory/search", api.SearchMemoryRequest{Query: "nothing stored yet"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	assert.Contains(t, w.Body.String(), `"results":[]`)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)

	// Other routes do not carry a results field.
	w, _ = do(t, router, http.MethodPost, "/api/memory/add", api.AddMemoryRequest{Text: "x", SourceID: "a"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "results")
}

func TestGenerateEmbeddings(t *testing.T) {
	router := newRouter(t)

	w, resp := do(t, router, http.MethodPost, "/api/memory/generate-embeddings",
		api.GenerateEmbeddingsRequest{Texts: []string{"first text", "second text"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	require.Len(t, resp.Embeddings, 2)

	want, err := hash.NewClient(nil).EmbedBatch(context.Background(), []string{"first text", "second text"})
	require.NoError(t, err)
	for i := range want {
		assert.InDeltaSlice(t, want[i], resp.Embeddings[i], 1e-9)
	}

	for _, body := range []interface{}{`{"texts":`, api.GenerateEmbeddingsRequest{}, api.GenerateEmbeddingsRequest{Texts: []string{"ok", " "}}} {
		w, resp = do(t, router, http.MethodPost, "/api/memory/generate-embeddings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		assert.False(t, resp.Success)
	}
}

func TestUpsert(t *testing.T) {
	router := newRouter(t)
	ctx := context.Background()

	vectors, err := hash.NewClient(nil).EmbedBatch(ctx, []string{"Imported reflection on the launch"})
	require.NoError(t, err)

	id := "9b2e4c1a-6f0d-4c3e-8a57-2d1f0e6b9c44"
	w, resp := do(t, router, http.MethodPost, "/api/memory/upsert", api.UpsertRequest{
		Collection: core.FeedbackCollection,
		Points: []api.UpsertPoint{{
			ID:     id,
			Vector: vectors[0],
			Payload: map[string]interface{}{
				"text":      "Imported reflection on the launch",
				"source_id": "import-1",
				"type":      core.TypeActionReflection,
				"tags":      []string{"launch"},
			},
		}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)
	assert.Equal(t, []string{id}, resp.MemoryIDs)

	w, resp = do(t, router, http.MethodPost, "/api/memory/search", api.SearchMemoryRequest{
		Query:      "reflection on the launch",
		Collection: core.FeedbackCollection,
		Type:       core.TypeActionReflection,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, resp.Results, 1)
	assert.Equal(t, id, resp.Results[0].ID)
	assert.Equal(t, "import-1", resp.Results[0].Payload["source_id"])

	tests := []struct {
		name string
		body interface{}
	}{
		{name: "no points", body: api.UpsertRequest{}},
		{name: "not a uuid", body: api.UpsertRequest{Points: []api.UpsertPoint{{
			ID: "point-1", Vector: vectors[0], Payload: map[string]interface{}{"text": "x", "source_id": "s"},
		}}}},
		{name: "missing source", body: api.UpsertRequest{Points: []api.UpsertPoint{{
			ID: id, Vector: vectors[0], Payload: map[string]interface{}{"text": "x"},
		}}}},
		{name: "wrong dimensions", body: api.UpsertRequest{Points: []api.UpsertPoint{{
			ID: id, Vector: []float64{1, 0}, Payload: map[string]interface{}{"text": "x", "source_id": "s"},
		}}}},
		{name: "bad collection", body: api.UpsertRequest{Collection: "bad name", Points: []api.UpsertPoint{{
			ID: id, Vector: vectors[0], Payload: map[string]interface{}{"text": "x", "source_id": "s"},
		}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, router, http.MethodPost, "/api/memory/upsert", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAddDuplicateIsConflict(t *testing.T) {
	router := newRouter(t)
	body := api.AddMemoryRequest{Text: "Hello world", SourceID: "a"}

	w, _ := do(t, router, http.MethodPost, "/api/memory/add", body)
	require.Equal(t, http.StatusOK, w.Code)

	body.SourceID = "b"
	w, resp := do(t, router, http.MethodPost, "/api/memory/add", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.False(t, resp.Success)
	assert.True(t, resp.Duplicate)
	assert.NotEmpty(t, resp.Error)
}

func TestBadRequests(t *testing.T) {
	router := newRouter(t)

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{name: "malformed json", path: "/api/memory/add", body: `{"text":`},
		{name: "missing text", path: "/api/memory/add", body: api.AddMemoryRequest{SourceID: "a"}},
		{name: "missing source", path: "/api/memory/add", body: api.AddMemoryRequest{Text: "x"}},
		{name: "missing query", path: "/api/memory/search", body: api.SearchMemoryRequest{}},
		{name: "should clause", path: "/api/memory/search", body: `{"query":"x","filter":{"should":[]}}`},
		{name: "float match", path: "/api/memory/search", body: `{"query":"x","filter":{"must":[{"key":"payload.score","match":{"value":0.5}}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := do(t, router, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestInitialize(t *testing.T) {
	router := newRouter(t)

	w, resp := do(t, router, http.MethodPost, "/api/memory/initialize", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, resp.Success)

	w, _ = do(t, router, http.MethodPost, "/api/memory/initialize",
		api.InitializeRequest{Collections: []string{core.FeedbackCollection}})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// failingMemory returns the same error from every call.
type failingMemory struct {
	err error
}

func (f failingMemory) AddMemory(context.Context, string, string, ...core.AddOption) (*core.AddResult, error) {
	return nil, f.err
}

func (f failingMemory) SearchMemory(context.Context, string, ...core.SearchOption) ([]*core.ScoredMemoryPoint, error) {
	return nil, f.err
}

func (f failingMemory) Initialize(context.Context, ...string) error {
	return f.err
}

func (f failingMemory) GenerateEmbeddings(context.Context, []string) ([][]float64, error) {
	return nil, f.err
}

func (f failingMemory) UpsertPoints(context.Context, string, []*storage.Point) error {
	return f.err
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "embedding", err: &embedder.ProviderError{Provider: "openai", Err: errors.New("timeout")}, want: http.StatusBadGateway},
		{name: "store", err: storage.Unavailable("Search", "orion_memory", errors.New("refused")), want: http.StatusServiceUnavailable},
		{name: "dims", err: fmt.Errorf("%w: 3 vs 4", core.ErrDimensionMismatch), want: http.StatusInternalServerError},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := api.NewRouter(failingMemory{err: core.NewMemoryError("op", tt.err)})
			assert.Equal(t, tt.want, api.StatusFor(tt.err))

			w, resp := do(t, router, http.MethodPost, "/api/memory/search", api.SearchMemoryRequest{Query: "x"})
			assert.Equal(t, tt.want, w.Code)
			assert.False(t, resp.Success)
			assert.False(t, resp.Duplicate)
		})
	}
}
