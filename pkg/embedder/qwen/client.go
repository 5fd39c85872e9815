// Package qwen provides an embedder.Provider backed by the Alibaba Cloud
// DashScope text embedding API.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultBaseURL    = "https://dashscope.aliyuncs.com/api/v1"
	defaultModel      = "text-embedding-v4"
	defaultDimensions = 1536
	embeddingPath     = "/services/embeddings/text-embedding/text-embedding"
)

// Client implements embedder.Provider over DashScope.
type Client struct {
	client     *http.Client
	apiKey     string
	model      string
	endpoint   string
	dimensions int

	// textType is "document" for indexed texts or "query" for search texts.
	textType string
}

// Config contains configuration for creating a Qwen Embedder client.
type Config struct {
	// APIKey is the DashScope API key (required).
	APIKey string

	// Model is the model name to use (default: "text-embedding-v4").
	Model string

	// BaseURL is the API base URL (default: DashScope official address).
	BaseURL string

	// Dimensions is the vector dimension (default: 1536).
	Dimensions int

	// TextType is sent as parameters.text_type (default: "document").
	TextType string

	// HTTPClient is a custom HTTP client (a 30s-timeout client if nil).
	HTTPClient *http.Client
}

// NewClient creates a new Qwen Embedder client. Returns an error if
// APIKey is missing.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("qwen: API key is required")
	}

	c := &Client{
		client:     cfg.HTTPClient,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		endpoint:   cfg.BaseURL,
		dimensions: cfg.Dimensions,
		textType:   cfg.TextType,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 30 * time.Second}
	}
	if c.model == "" {
		c.model = defaultModel
	}
	if c.endpoint == "" {
		c.endpoint = defaultBaseURL
	}
	c.endpoint += embeddingPath
	if c.dimensions == 0 {
		c.dimensions = defaultDimensions
	}
	if c.textType == "" {
		c.textType = "document"
	}
	return c, nil
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input struct {
		Texts []string `json:"texts"`
	} `json:"input"`
	Parameters struct {
		Dimension int    `json:"dimension,omitempty"`
		TextType  string `json:"text_type"`
	} `json:"parameters"`
}

type embeddingResponse struct {
	Output struct {
		Embeddings []struct {
			TextIndex int       `json:"text_index"`
			Embedding []float64 `json:"embedding"`
		} `json:"embeddings"`
	} `json:"output"`
}

// Name returns "qwen".
func (c *Client) Name() string {
	return "qwen"
}

// Embed converts a single text string into a vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch embeds texts in one request. Results are placed by the
// response's text_index, so they follow input order. A non-200 response
// is returned with its body unchanged, which is how DashScope reports
// batch-size limits.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	var body embeddingRequest
	body.Model = c.model
	body.Input.Texts = texts
	body.Parameters.Dimension = c.dimensions
	body.Parameters.TextType = c.textType

	payload, err := json.Marshal(&body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if got := len(out.Output.Embeddings); got != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d texts", got, len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for _, e := range out.Output.Embeddings {
		if e.TextIndex < 0 || e.TextIndex >= len(texts) || embeddings[e.TextIndex] != nil {
			return nil, fmt.Errorf("invalid text_index %d in response", e.TextIndex)
		}
		embeddings[e.TextIndex] = e.Embedding
	}
	return embeddings, nil
}

// Dimensions returns the configured vector size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the HTTP client holds no resources of its own.
func (c *Client) Close() error {
	return nil
}
