// Package cache provides a bounded LRU memoization layer in front of an
// embedding provider. Embeddings are deterministic for a fixed model and
// text, so entries never expire; memory is bounded by capacity alone.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/natefox/mnemo/internal/llm"
)

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Size     int
	Capacity int
}

// EmbeddingCache memoizes provider calls keyed by a content digest. The
// underlying LRU updates the lookup map and recency ordering under a single
// lock, so concurrent callers never observe a torn state.
type EmbeddingCache struct {
	provider llm.EmbeddingGenerator
	cache    *lru.Cache[string, []float32]
	capacity int

	mu     sync.Mutex
	hits   uint64
	misses uint64
}

// NewEmbeddingCache wraps provider with an LRU of the given capacity.
func NewEmbeddingCache(provider llm.EmbeddingGenerator, capacity int) (*EmbeddingCache, error) {
	c, err := lru.New[string, []float32](capacity)
	if err != nil {
		return nil, err
	}
	return &EmbeddingCache{
		provider: provider,
		cache:    c,
		capacity: capacity,
	}, nil
}

// Embed returns the cached vector for text when present, updating its
// recency. On a miss the provider is invoked; a successful result is
// inserted (evicting the least-recently-used entry at capacity) and a
// failure caches nothing. Returned slices are private copies, so callers
// can't corrupt cached entries.
func (c *EmbeddingCache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.provider.GetModel(), text)

	if vec, ok := c.cache.Get(key); ok {
		c.recordHit()
		return append([]float32(nil), vec...), nil
	}

	vec, err := c.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.recordMiss()
	c.cache.Add(key, append([]float32(nil), vec...))
	return vec, nil
}

// GetModel returns the wrapped provider's model name.
func (c *EmbeddingCache) GetModel() string {
	return c.provider.GetModel()
}

// Stats returns a snapshot of the cache counters.
func (c *EmbeddingCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     c.cache.Len(),
		Capacity: c.capacity,
	}
}

// HitRate returns hits/(hits+misses), or 0 before any lookups.
func (c *EmbeddingCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

func (c *EmbeddingCache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *EmbeddingCache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// cacheKey derives the lookup key from the model and text. The NUL separator
// keeps distinct (model, text) pairs from colliding by concatenation; the
// digest makes key size independent of content size.
func cacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

var _ llm.EmbeddingGenerator = (*EmbeddingCache)(nil)
