package embedder

import (
	"context"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/cache"
)

// Cached memoises an Embedder by exact text
type Cached struct {
	Embedder
	cache *cache.EmbeddingCache
}

// NewCached wraps e with c
func NewCached(e Embedder, c *cache.EmbeddingCache) *Cached {
	return &Cached{Embedder: e, cache: c}
}

// Embed returns the cached vector or computes and stores it
func (c *Cached) Embed(ctx context.Context, text string) ([]float64, error) {
	if v, ok := c.cache.Get(c.Model(), text); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(c.Model(), text, v)
	return v, nil
}

// Loaded forwards to the wrapped embedder
func (c *Cached) Loaded() bool { return Loaded(c.Embedder) }

// Stats exposes cache statistics
func (c *Cached) Stats() map[string]interface{} { return c.cache.Stats() }
