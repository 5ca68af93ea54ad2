package dashboard

import "github.com/fwintner/marketpulse/internal/domain"

// Cache maps entity keys to the last-known sentiment result. Entries are
// only ever overwritten by a newer successful fetch for the same key, never
// deleted; the cache lives for the engine's lifetime.
//
// All methods are called from the engine goroutine (no concurrent access).
type Cache struct {
	entries map[domain.EntityKey]*domain.SentimentResult
}

func NewCache() *Cache {
	return &Cache{entries: make(map[domain.EntityKey]*domain.SentimentResult)}
}

// Get returns the cached result for the given key, or (nil, false) on miss.
func (c *Cache) Get(key domain.EntityKey) (*domain.SentimentResult, bool) {
	result, ok := c.entries[key]
	return result, ok
}

// Put stores a result under key, replacing any existing entry
// (last-write-wins, no merging of partial fields).
func (c *Cache) Put(key domain.EntityKey, result *domain.SentimentResult) {
	c.entries[key] = result
}

// Len returns the current number of cached entries.
func (c *Cache) Len() int {
	return len(c.entries)
}
