package qwen_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orion-hub/orion-memory-go/pkg/embedder"
	"github.com/orion-hub/orion-memory-go/pkg/embedder/qwen"
)

func TestClient_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/services/embeddings/text-embedding/text-embedding", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req struct {
			Model string `json:"model"`
			Input struct {
				Texts []string `json:"texts"`
			} `json:"input"`
			Parameters struct {
				Dimension int    `json:"dimension"`
				TextType  string `json:"text_type"`
			} `json:"parameters"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-v4", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input.Texts)
		assert.Equal(t, 2, req.Parameters.Dimension)
		assert.Equal(t, "document", req.Parameters.TextType)

		_, _ = w.Write([]byte(`{"output":{"embeddings":[
			{"text_index":1,"embedding":[0,1]},
			{"text_index":0,"embedding":[1,0]}
		]}}`))
	}))
	defer srv.Close()

	client, err := qwen.NewClient(&qwen.Config{APIKey: "key", BaseURL: srv.URL, Dimensions: 2})
	require.NoError(t, err)

	vectors, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, vectors)
	assert.Equal(t, 2, client.Dimensions())
}

func TestClient_ErrorBodySurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"InvalidParameter","message":"batch size is invalid, it should not be larger than 10."}`))
	}))
	defer srv.Close()

	client, err := qwen.NewClient(&qwen.Config{APIKey: "key", BaseURL: srv.URL, Dimensions: 2})
	require.NoError(t, err)

	_, err = embedder.Batch(context.Background(), client, []string{"a"})
	assert.ErrorIs(t, err, embedder.ErrProviderFailed)
	assert.Contains(t, err.Error(), "batch size is invalid, it should not be larger than 10.")
}

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := qwen.NewClient(&qwen.Config{})
	assert.Error(t, err)
}
