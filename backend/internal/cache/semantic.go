package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// EmbeddingCache keeps recently computed vectors keyed by model and text.
// Exact-match only: two texts share an entry only if they are identical.
type EmbeddingCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
	maxSize int
	ttl     time.Duration
	hits    int
	misses  int
}

// CacheEntry represents a cached vector
type CacheEntry struct {
	Key       string
	Vector    []float64
	CreatedAt time.Time
	Hits      int
}

// NewEmbeddingCache creates a new cache with given max size and TTL
func NewEmbeddingCache(maxSize int, ttl time.Duration) *EmbeddingCache {
	return &EmbeddingCache{
		entries: make(map[string]*CacheEntry),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// HashKey generates a deterministic key for a model/text pair
func HashKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a copy of the cached vector if present and not expired
func (c *EmbeddingCache) Get(model, text string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := HashKey(model, text)
	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return nil, false
	}

	if c.ttl > 0 && time.Since(entry.CreatedAt) > c.ttl {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	entry.Hits++
	c.hits++
	return append([]float64(nil), entry.Vector...), true
}

// Set stores a copy of vector in the cache
func (c *EmbeddingCache) Set(model, text string, vector []float64) {
	if c.maxSize <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := HashKey(model, text)

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = &CacheEntry{
		Key:       key,
		Vector:    append([]float64(nil), vector...),
		CreatedAt: time.Now(),
	}
}

// evictOldest removes the oldest entry
func (c *EmbeddingCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Stats returns cache statistics
func (c *EmbeddingCache) Stats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	return map[string]interface{}{
		"size":     len(c.entries),
		"max_size": c.maxSize,
		"hits":     c.hits,
		"misses":   c.misses,
		"ttl_sec":  c.ttl.Seconds(),
	}
}

// Clear empties the cache
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CacheEntry)
}
