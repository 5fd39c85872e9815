package storage_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/orion-hub/orion-memory-go/pkg/storage"
)

func TestValidateCollectionName(t *testing.T) {
	valid := []string{"orion_memory", "orion_feedback_memory", "_x", "A1"}
	for _, name := range valid {
		assert.NoError(t, storage.ValidateCollectionName(name), name)
	}

	invalid := []string{"", "1abc", "with space", "drop;table", "dash-name"}
	for _, name := range invalid {
		assert.ErrorIs(t, storage.ValidateCollectionName(name), storage.ErrInvalidCollection, name)
	}
}

func TestValidatePoints(t *testing.T) {
	good := &storage.Point{
		ID:      "id-1",
		Vector:  []float64{1, 2, 3},
		Payload: map[string]interface{}{storage.KeyText: "hi", storage.KeySourceID: "src"},
	}
	assert.NoError(t, storage.ValidatePoints([]*storage.Point{good}, 3))
	assert.NoError(t, storage.ValidatePoints([]*storage.Point{good}, 0))

	assert.ErrorIs(t, storage.ValidatePoints([]*storage.Point{good}, 4), storage.ErrDimensionMismatch)
	assert.ErrorIs(t, storage.ValidatePoints([]*storage.Point{nil}, 3), storage.ErrInvalidPoint)

	noSource := &storage.Point{ID: "id-2", Vector: []float64{1, 2, 3}, Payload: map[string]interface{}{storage.KeyText: "hi"}}
	assert.ErrorIs(t, storage.ValidatePoints([]*storage.Point{noSource}, 3), storage.ErrInvalidPoint)

	noID := &storage.Point{Vector: []float64{1, 2, 3}, Payload: good.Payload}
	assert.ErrorIs(t, storage.ValidatePoints([]*storage.Point{noID}, 3), storage.ErrInvalidPoint)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, storage.CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, storage.CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, storage.CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, storage.CosineSimilarity([]float64{1}, []float64{1, 0}))
	assert.Equal(t, 0.0, storage.CosineSimilarity([]float64{0, 0}, []float64{1, 0}))
	assert.False(t, math.IsNaN(storage.CosineSimilarity(nil, nil)))
}

func TestUnavailable(t *testing.T) {
	assert.NoError(t, storage.Unavailable("Upsert", "c", nil))

	driverErr := errors.New("connection refused")
	err := storage.Unavailable("Upsert", "orion_memory", driverErr)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.ErrorIs(t, err, driverErr)
	assert.Equal(t, "Upsert orion_memory: vector store unavailable: connection refused", err.Error())

	// Errors that already carry a kind pass through unchanged.
	mismatch := fmt.Errorf("%w: 3 vs 4", storage.ErrDimensionMismatch)
	assert.Same(t, mismatch, storage.Unavailable("Upsert", "c", mismatch))

	var opErr *storage.OpError
	assert.True(t, errors.As(err, &opErr))
	assert.Equal(t, "orion_memory", opErr.Collection)
}
