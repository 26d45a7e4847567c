package embedder

import (
	"sync"
	"sync/atomic"
)

// cacheKey identifies one cached vector. A change in either half is a miss.
type cacheKey struct {
	id    string
	model string
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Size   int
}

// Cache holds embedding vectors keyed by (id, model). Readers proceed
// concurrently; writers take the lock briefly and the last write wins.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey][]float32

	hits   atomic.Uint64
	misses atomic.Uint64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey][]float32)}
}

// Get returns the vector cached for (id, model).
func (c *Cache) Get(id, model string) ([]float32, bool) {
	c.mu.RLock()
	v, ok := c.entries[cacheKey{id: id, model: model}]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Put stores vec under (id, model).
func (c *Cache) Put(id, model string, vec []float32) {
	c.mu.Lock()
	c.entries[cacheKey{id: id, model: model}] = vec
	c.mu.Unlock()
}

// Invalidate drops every model's entry for id.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.id == id {
			delete(c.entries, k)
		}
	}
}

// Stats returns hit/miss counters and the current entry count.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: size}
}
