package mcp

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value   interface{}
	expires time.Time
}

// Cache is a small in-memory TTL cache used to avoid re-aggregating run
// statistics on every monitoring or report call. Safe for concurrent use so
// the HTTP transport can share it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache constructs an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Set stores a value under key for the given time-to-live.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expires: time.Now().Add(ttl)}
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}
