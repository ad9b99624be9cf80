package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// defaultMaxEntries bounds the in-process tier; a digest run makes a few
// hundred calls at most
const defaultMaxEntries = 10000

// MemoryCache is the in-process tier, scoped to one process lifetime.
// When full it drops expired entries and then stops admitting new ones
// until something expires.
type MemoryCache struct {
	items      *gocache.Cache
	maxEntries int
}

// NewMemoryCache creates a memory tier whose entries live for defaultTTL
func NewMemoryCache(defaultTTL time.Duration, cleanupInterval time.Duration) *MemoryCache {
	return &MemoryCache{
		items:      gocache.New(defaultTTL, cleanupInterval),
		maxEntries: defaultMaxEntries,
	}
}

// Get returns the stored response bytes
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	val, found := c.items.Get(key)
	if !found {
		return nil, false
	}
	b, ok := val.([]byte)
	return b, ok
}

// Set stores a copy of value with the given TTL (0 uses the default)
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if _, exists := c.items.Get(key); !exists && c.items.ItemCount() >= c.maxEntries {
		c.items.DeleteExpired()
		if c.items.ItemCount() >= c.maxEntries {
			return nil
		}
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	c.items.Set(key, stored, ttl)
	return nil
}

// Delete drops one entry
func (c *MemoryCache) Delete(key string) error {
	c.items.Delete(key)
	return nil
}

// Clear drops every entry
func (c *MemoryCache) Clear() error {
	c.items.Flush()
	return nil
}

// Len returns the number of entries, including expired ones not yet collected
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}
