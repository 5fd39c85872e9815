// Package qdrant provides a Qdrant implementation of the vector store over
// the official gRPC client.
package qdrant

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

// scrollPage is the page size used when Find enumerates without a limit.
const scrollPage = 256

// Client implements VectorStore against a Qdrant server.
type Client struct {
	client *qdrant.Client

	// dims caches the vector size of collections known to exist.
	dims sync.Map

	// wait makes upserts return only after the points are indexed.
	wait bool
}

// Config contains Qdrant configuration.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// Async returns from Upsert before the points are indexed.
	Async bool
}

// NewClient connects to Qdrant.
func NewClient(cfg *Config) (*Client, error) {
	port := cfg.Port
	if port == 0 {
		port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, storage.Unavailable("Open", cfg.Host, err)
	}

	return &Client{client: client, wait: !cfg.Async}, nil
}

// EnsureCollection creates the collection with cosine distance if it does not exist.
func (c *Client) EnsureCollection(ctx context.Context, collection string, dims int) error {
	if err := storage.ValidateCollectionName(collection); err != nil {
		return err
	}
	if existing, ok := c.dims.Load(collection); ok {
		return checkDims("EnsureCollection", collection, existing.(int), dims)
	}

	exists, err := c.client.CollectionExists(ctx, collection)
	if err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}

	if exists {
		existing, err := c.collectionDims(ctx, collection)
		if err != nil {
			return err
		}
		if err := checkDims("EnsureCollection", collection, existing, dims); err != nil {
			return err
		}
		c.dims.Store(collection, existing)
		return nil
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return storage.Unavailable("EnsureCollection", collection, err)
	}

	c.dims.Store(collection, dims)
	log.Printf("[QDRANT] Created collection: name=%s, dims=%d", collection, dims)
	return nil
}

// Upsert writes all points in one request.
func (c *Client) Upsert(ctx context.Context, collection string, points []*storage.Point) error {
	dims, found, err := c.lookup(ctx, "Upsert", collection)
	if err != nil {
		return err
	}
	if !found {
		return &storage.OpError{Op: "Upsert", Collection: collection, Kind: storage.ErrUnavailable,
			Err: fmt.Errorf("collection does not exist")}
	}
	if err := storage.ValidatePoints(points, dims); err != nil {
		return err
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		ps, err := toPointStruct(p)
		if err != nil {
			return err
		}
		structs = append(structs, ps)
	}

	wait := c.wait
	_, err = c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           &wait,
		Points:         structs,
	})
	if err != nil {
		return storage.Unavailable("Upsert", collection, err)
	}
	return nil
}

// Search runs a nearest-neighbour query with the filter evaluated server side.
func (c *Client) Search(ctx context.Context, collection string, vector []float64, opts *storage.SearchOptions) ([]*storage.ScoredPoint, error) {
	if opts == nil {
		opts = &storage.SearchOptions{}
	}
	if err := opts.Filter.Validate(); err != nil {
		return nil, err
	}
	dims, found, err := c.lookup(ctx, "Search", collection)
	if err != nil || !found {
		return nil, err
	}
	if len(vector) != dims {
		return nil, &storage.OpError{Op: "Search", Collection: collection, Kind: storage.ErrDimensionMismatch,
			Err: fmt.Errorf("query has %d dimensions, collection expects %d", len(vector), dims)}
	}

	req := &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(toFloat32(vector)...),
		Filter:         toFilter(opts.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if opts.Limit > 0 {
		req.Limit = ptr(uint64(opts.Limit))
	}
	if opts.MinScore > 0 {
		req.ScoreThreshold = ptr(float32(opts.MinScore))
	}

	hits, err := c.client.Query(ctx, req)
	if err != nil {
		return nil, storage.Unavailable("Search", collection, err)
	}

	results := make([]*storage.ScoredPoint, 0, len(hits))
	for _, hit := range hits {
		results = append(results, &storage.ScoredPoint{
			Point: storage.Point{
				ID:      pointID(hit.GetId()),
				Vector:  fromVectors(hit.GetVectors()),
				Payload: fromPayload(hit.GetPayload()),
			},
			Score: float64(hit.GetScore()),
		})
	}
	return results, nil
}

// Find scrolls through points matching the filter.
func (c *Client) Find(ctx context.Context, collection string, filter *storage.Filter, limit int) ([]*storage.Point, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if _, found, err := c.lookup(ctx, "Find", collection); err != nil || !found {
		return nil, err
	}

	var (
		points []*storage.Point
		offset *qdrant.PointId
	)
	for {
		page := scrollPage
		if limit > 0 && limit-len(points) < page {
			page = limit - len(points)
		}
		// The offset point is returned again as the first item of the next page.
		if offset != nil {
			page++
		}

		retrieved, err := c.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collection,
			Filter:         toFilter(filter),
			Offset:         offset,
			Limit:          ptr(uint32(page)),
			WithPayload:    qdrant.NewWithPayload(true),
			WithVectors:    qdrant.NewWithVectors(true),
		})
		if err != nil {
			return nil, storage.Unavailable("Find", collection, err)
		}

		start := 0
		if offset != nil && len(retrieved) > 0 && pointID(retrieved[0].GetId()) == pointID(offset) {
			start = 1
		}
		for _, r := range retrieved[start:] {
			points = append(points, &storage.Point{
				ID:      pointID(r.GetId()),
				Vector:  fromVectors(r.GetVectors()),
				Payload: fromPayload(r.GetPayload()),
			})
		}

		if len(retrieved) < page || (limit > 0 && len(points) >= limit) {
			break
		}
		offset = retrieved[len(retrieved)-1].GetId()
	}

	if limit > 0 && len(points) > limit {
		points = points[:limit]
	}
	return points, nil
}

// Count returns the exact number of points matching the filter.
func (c *Client) Count(ctx context.Context, collection string, filter *storage.Filter) (int, error) {
	if err := filter.Validate(); err != nil {
		return 0, err
	}
	if _, found, err := c.lookup(ctx, "Count", collection); err != nil || !found {
		return 0, err
	}

	n, err := c.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         toFilter(filter),
		Exact:          ptr(true),
	})
	if err != nil {
		return 0, storage.Unavailable("Count", collection, err)
	}
	return int(n), nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// lookup returns the collection's vector size, or found=false when the
// collection does not exist.
func (c *Client) lookup(ctx context.Context, op, collection string) (int, bool, error) {
	if err := storage.ValidateCollectionName(collection); err != nil {
		return 0, false, err
	}
	if dims, ok := c.dims.Load(collection); ok {
		return dims.(int), true, nil
	}

	exists, err := c.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, false, storage.Unavailable(op, collection, err)
	}
	if !exists {
		return 0, false, nil
	}

	dims, err := c.collectionDims(ctx, collection)
	if err != nil {
		return 0, false, err
	}
	c.dims.Store(collection, dims)
	return dims, true, nil
}

func (c *Client) collectionDims(ctx context.Context, collection string) (int, error) {
	info, err := c.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, storage.Unavailable("GetCollectionInfo", collection, err)
	}
	return int(info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()), nil
}

func checkDims(op, collection string, existing, dims int) error {
	if existing == dims {
		return nil
	}
	return &storage.OpError{
		Op: op, Collection: collection, Kind: storage.ErrDimensionMismatch,
		Err: fmt.Errorf("collection has %d dimensions, embedder produces %d", existing, dims),
	}
}

func toPointStruct(p *storage.Point) (*qdrant.PointStruct, error) {
	if _, err := uuid.Parse(p.ID); err != nil {
		return nil, fmt.Errorf("%w: point id %q is not a UUID", storage.ErrInvalidPoint, p.ID)
	}

	payload, err := qdrant.TryValueMap(normalizeMap(p.Payload))
	if err != nil {
		return nil, fmt.Errorf("%w: point %s payload: %v", storage.ErrInvalidPoint, p.ID, err)
	}

	return &qdrant.PointStruct{
		Id:      qdrant.NewID(p.ID),
		Vectors: qdrant.NewVectors(toFloat32(p.Vector)...),
		Payload: payload,
	}, nil
}

// toFilter converts a filter into Qdrant must conditions. Qdrant matches
// array fields by any element, which gives tags their "contains" semantics.
func toFilter(filter *storage.Filter) *qdrant.Filter {
	if filter.IsEmpty() {
		return nil
	}

	must := make([]*qdrant.Condition, 0, len(filter.Must))
	for _, cond := range filter.Must {
		switch v := cond.Value().(type) {
		case string:
			must = append(must, qdrant.NewMatch(cond.Field(), v))
		case int64:
			must = append(must, qdrant.NewMatchInt(cond.Field(), v))
		case bool:
			must = append(must, qdrant.NewMatchBool(cond.Field(), v))
		}
	}
	return &qdrant.Filter{Must: must}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprint(id.GetNum())
}

func fromVectors(v *qdrant.Vectors) []float64 {
	data := v.GetVector().GetData()
	if len(data) == 0 {
		return nil
	}
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
