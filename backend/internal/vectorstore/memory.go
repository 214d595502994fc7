package vectorstore

import (
	"context"
	"fmt"
	"sync"
)

type memCollection struct {
	dims   int
	points map[string]Point
}

// MemoryStore is an in-process store using brute-force search. Contents
// are lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) Backend() string { return "memory" }

func (s *MemoryStore) EnsureCollection(ctx context.Context, name string, dims int, metric Metric) error {
	if metric != Cosine {
		return fmt.Errorf("unsupported metric %q", metric)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		if c.dims != dims {
			return fmt.Errorf("%w: collection %s has %d, requested %d", ErrDimensionMismatch, name, c.dims, dims)
		}
		return nil
	}
	s.collections[name] = &memCollection{dims: dims, points: make(map[string]Point)}
	return nil
}

func (s *MemoryStore) Upsert(ctx context.Context, collection string, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	for _, p := range points {
		if err := validatePoint(p, c.dims); err != nil {
			return err
		}
	}
	for _, p := range points {
		p.Vector = append([]float64(nil), p.Vector...)
		p.Metadata = copyMetadata(p.Metadata)
		c.points[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, vector []float64, k int) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if len(vector) != c.dims {
		return nil, fmt.Errorf("%w: query has %d, collection expects %d", ErrDimensionMismatch, len(vector), c.dims)
	}

	matches := make([]Match, 0, len(c.points))
	for _, p := range c.points {
		matches = append(matches, Match{
			ID:       p.ID,
			Score:    CosineSimilarity(vector, p.Vector),
			Text:     p.Text,
			Metadata: copyMetadata(p.Metadata),
		})
	}
	return topK(matches, k), nil
}

func (s *MemoryStore) Delete(ctx context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	for _, id := range ids {
		delete(c.points, id)
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	return len(c.points), nil
}

func (s *MemoryStore) Close() error { return nil }
