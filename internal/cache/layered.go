package cache

import (
	"io"
	"time"
)

// LayeredCache reads through a fast front tier to a durable back tier
type LayeredCache struct {
	front Cache
	back  Cache
}

// NewLayeredCache stacks front (usually memory) over back (disk or redis)
func NewLayeredCache(front, back Cache) *LayeredCache {
	return &LayeredCache{front: front, back: back}
}

// Get checks the front tier first and promotes back-tier hits
func (c *LayeredCache) Get(key string) ([]byte, bool) {
	if val, found := c.front.Get(key); found {
		return val, true
	}
	if val, found := c.back.Get(key); found {
		_ = c.front.Set(key, val, 0)
		return val, true
	}
	return nil, false
}

// Set stores the value in both tiers
func (c *LayeredCache) Set(key string, value []byte, ttl time.Duration) error {
	if err := c.front.Set(key, value, ttl); err != nil {
		return err
	}
	return c.back.Set(key, value, ttl)
}

// Delete removes the value from both tiers
func (c *LayeredCache) Delete(key string) error {
	_ = c.front.Delete(key)
	return c.back.Delete(key)
}

// Clear empties both tiers
func (c *LayeredCache) Clear() error {
	_ = c.front.Clear()
	return c.back.Clear()
}

// Close releases the back tier's connection when it holds one
func (c *LayeredCache) Close() error {
	if closer, ok := c.back.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
