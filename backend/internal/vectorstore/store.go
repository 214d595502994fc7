// Package vectorstore holds embedded attack examples and answers
// nearest-neighbour queries by cosine similarity.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Metric is the distance function of a collection
type Metric string

// Cosine is the only metric the guardrail uses
const Cosine Metric = "cosine"

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
)

// Point is one stored vector with its source text and metadata
type Point struct {
	ID       string
	Vector   []float64
	Text     string
	Metadata map[string]any
}

// Match is one query result. Score is cosine similarity.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Store is a vector database client. Implementations must be safe for
// concurrent use; writes may run alongside queries.
type Store interface {
	// EnsureCollection creates the collection if it is missing. Calling it
	// again with the same arguments is a no-op.
	EnsureCollection(ctx context.Context, name string, dims int, metric Metric) error

	// Upsert stores points, replacing any with the same id.
	Upsert(ctx context.Context, collection string, points []Point) error

	// Query returns up to k matches ordered by descending score.
	Query(ctx context.Context, collection string, vector []float64, k int) ([]Match, error)

	// Delete removes points by id. Unknown ids are ignored.
	Delete(ctx context.Context, collection string, ids []string) error

	// Count returns the number of stored points.
	Count(ctx context.Context, collection string) (int, error)

	// Backend names the implementation for status reporting.
	Backend() string

	Close() error
}

// Config selects a backend
type Config struct {
	Backend    string
	SQLitePath string
	QdrantURL  string
	QdrantKey  string
}

// New opens the configured backend
func New(cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "qdrant":
		q, err := NewQdrantStore(cfg.QdrantURL, cfg.QdrantKey)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

func validatePoint(p Point, dims int) error {
	if p.ID == "" {
		return fmt.Errorf("point id cannot be empty")
	}
	if len(p.Vector) != dims {
		return fmt.Errorf("%w: point %s has %d, collection expects %d", ErrDimensionMismatch, p.ID, len(p.Vector), dims)
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is a zero vector or the lengths differ.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topK sorts matches by descending score, ties broken by id, and truncates
func topK(matches []Match, k int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func copyMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
