// Package embed provides embedding generation: the Embedder capability
// set, a deterministic stub embedder for tests and degraded
// operation, an Ollama-backed network embedder, a query-cache wrapper,
// and the model registry with per-query-kind templates.
//
// Model download and GPU runtime bootstrap are external concerns; this
// package only talks to an already-running endpoint or computes stub
// vectors in-process.
package embed

import (
	"context"
	"math"
	"time"
)

// Batch bounds.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32
)

// DefaultTimeout bounds a single embedding request.
const DefaultTimeout = 60 * time.Second

// StaticDimensions is the stub embedder's vector dimension.
const StaticDimensions = 256

// Embedder generates unit-length vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. Zero vectors pass through
// unchanged.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
