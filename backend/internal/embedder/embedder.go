// Package embedder turns text into fixed-length vectors. The expensive model
// handle behind an Embedder is loaded lazily, once per process, and shared by
// all concurrent callers.
package embedder

import (
	"context"
	"errors"
	"math"
)

// ErrEmbeddingUnavailable is returned when the model cannot be loaded or a
// call to it fails. Callers treat it as a degraded-mode signal.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Embedder generates embedding vectors from text content.
// Implementations must be safe for concurrent use and must be deterministic
// for a fixed model version.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Dimensions returns the dimensionality of embedding vectors.
	Dimensions() int

	// Model returns the name of the embedding model being used.
	Model() string
}

// Model is a loaded embedding model handle
type Model interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Loader loads a model handle. It may be slow and is called at most once
// per successful load.
type Loader func(ctx context.Context) (Model, error)

// Loaded reports whether e has finished loading its model. Embedders without
// a lazy load step always report true.
func Loaded(e Embedder) bool {
	if l, ok := e.(interface{ Loaded() bool }); ok {
		return l.Loaded()
	}
	return true
}

func normalizeVector(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] /= norm
	}
	return v
}
