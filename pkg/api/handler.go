// Package api exposes the memory façade over HTTP for the feature routes.
package api

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orion-hub/orion-memory-go/pkg/core"
	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// Memory is the part of the memory client the handlers use.
type Memory interface {
	AddMemory(ctx context.Context, text, sourceID string, opts ...core.AddOption) (*core.AddResult, error)
	SearchMemory(ctx context.Context, query string, opts ...core.SearchOption) ([]*core.ScoredMemoryPoint, error)
	Initialize(ctx context.Context, collections ...string) error
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error)
	UpsertPoints(ctx context.Context, collection string, points []*storage.Point) error
}

// Handler serves the memory routes.
type Handler struct {
	memory Memory
}

// NewHandler creates a Handler over memory.
func NewHandler(memory Memory) *Handler {
	return &Handler{memory: memory}
}

// NewRouter returns a gin engine with the memory routes and /health.
func NewRouter(memory Memory) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "orion-memory",
		})
	})

	h := NewHandler(memory)
	h.Register(router.Group("/api/memory"))
	return router
}

// Register mounts the handlers under group.
func (h *Handler) Register(group *gin.RouterGroup) {
	group.POST("/add", h.AddMemory)
	group.POST("/search", h.SearchMemory)
	group.POST("/initialize", h.Initialize)
	group.POST("/generate-embeddings", h.GenerateEmbeddings)
	group.POST("/upsert", h.Upsert)
}

// AddMemory is the Gin handler for POST /api/memory/add.
func (h *Handler) AddMemory(ctx *gin.Context) {
	var req AddMemoryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, MemoryResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	opts := []core.AddOption{
		core.WithType(req.Type),
		core.WithTags(req.Tags...),
		core.WithMetadata(req.Metadata),
	}
	if req.Collection != "" {
		opts = append(opts, core.WithCollection(req.Collection))
	}

	res, err := h.memory.AddMemory(ctx.Request.Context(), req.Text, req.SourceID, opts...)
	if err != nil {
		h.fail(ctx, "add", err)
		return
	}

	ctx.JSON(http.StatusOK, MemoryResponse{Success: true, MemoryIDs: res.IDs})
}

// SearchMemory is the Gin handler for POST /api/memory/search.
func (h *Handler) SearchMemory(ctx *gin.Context) {
	var req SearchMemoryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, MemoryResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	filter, err := buildFilter(&req)
	if err != nil {
		h.fail(ctx, "search", err)
		return
	}

	opts := []core.SearchOption{
		core.WithFilter(filter),
		core.WithLimit(req.Limit),
	}
	if req.Collection != "" {
		opts = append(opts, core.WithSearchCollection(req.Collection))
	}
	if req.MinScore != nil {
		opts = append(opts, core.WithMinScore(*req.MinScore))
	}
	if len(req.QueryVector) > 0 {
		opts = append(opts, core.WithQueryVector(req.QueryVector))
	}

	results, err := h.memory.SearchMemory(ctx.Request.Context(), req.Query, opts...)
	if err != nil {
		h.fail(ctx, "search", err)
		return
	}

	ctx.JSON(http.StatusOK, SearchMemoryResponse{Success: true, Results: toSearchResults(results)})
}

// Initialize is the Gin handler for POST /api/memory/initialize. The body
// is optional.
func (h *Handler) Initialize(ctx *gin.Context) {
	var req InitializeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, MemoryResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	if err := h.memory.Initialize(ctx.Request.Context(), req.Collections...); err != nil {
		h.fail(ctx, "initialize", err)
		return
	}

	ctx.JSON(http.StatusOK, MemoryResponse{Success: true})
}

// GenerateEmbeddings is the Gin handler for POST /api/memory/generate-embeddings.
func (h *Handler) GenerateEmbeddings(ctx *gin.Context) {
	var req GenerateEmbeddingsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, MemoryResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	embeddings, err := h.memory.GenerateEmbeddings(ctx.Request.Context(), req.Texts)
	if err != nil {
		h.fail(ctx, "generate-embeddings", err)
		return
	}

	ctx.JSON(http.StatusOK, EmbeddingsResponse{Success: true, Embeddings: embeddings})
}

// Upsert is the Gin handler for POST /api/memory/upsert. It writes points
// the caller already embedded, skipping chunking and dedup.
func (h *Handler) Upsert(ctx *gin.Context) {
	var req UpsertRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, MemoryResponse{Error: "Invalid request body: " + err.Error()})
		return
	}

	if err := h.memory.UpsertPoints(ctx.Request.Context(), req.Collection, toStoragePoints(req.Points)); err != nil {
		h.fail(ctx, "upsert", err)
		return
	}

	ids := make([]string, 0, len(req.Points))
	for _, p := range req.Points {
		ids = append(ids, p.ID)
	}
	ctx.JSON(http.StatusOK, MemoryResponse{Success: true, MemoryIDs: ids})
}

func (h *Handler) fail(ctx *gin.Context, route string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[API] %s failed: status=%d, error=%v", route, status, err)
	}
	ctx.JSON(status, MemoryResponse{
		Error:     err.Error(),
		Duplicate: errors.Is(err, core.ErrDuplicateMemory),
	})
}

// StatusFor maps a memory error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, core.ErrInvalidFilter),
		errors.Is(err, storage.ErrInvalidCollection):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrDuplicateMemory):
		return http.StatusConflict
	case errors.Is(err, core.ErrEmbeddingFailed):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// buildFilter parses the wire filter and ANDs the type and tag shorthands onto it.
func buildFilter(req *SearchMemoryRequest) (*storage.Filter, error) {
	filter := storage.NewFilter()
	if len(req.Filter) > 0 && string(req.Filter) != "null" {
		parsed, err := storage.ParseFilter(req.Filter)
		if err != nil {
			return nil, err
		}
		filter = parsed
	}
	if req.Type != "" {
		filter = filter.And(storage.TypeIs(req.Type))
	}
	for _, tag := range req.Tags {
		filter = filter.And(storage.HasTag(tag))
	}
	return filter, nil
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
