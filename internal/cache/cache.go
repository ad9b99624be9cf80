package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/ppiankov/newsdigest/internal/model"
)

// keyPrefix namespaces every entry; bump the version when the cached payload changes shape
const keyPrefix = "newsdigest:v1:"

// Cache stores validated model responses between runs
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// CacheKey hashes the parts that determine a model response
func CacheKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// New builds the cache described by cfg, or nil when caching is disabled.
// A Redis address replaces the disk tier.
func New(cfg model.CacheConfig) (Cache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	memory := NewMemoryCache(cfg.MemoryTTL, 10*time.Minute)
	if cfg.RedisAddr != "" {
		redis, err := NewRedisCache(RedisOptions{Addr: cfg.RedisAddr, DB: cfg.RedisDB, TTL: cfg.DiskTTL})
		if err != nil {
			return nil, err
		}
		return NewLayeredCache(memory, redis), nil
	}
	return NewLayeredCache(memory, NewDiskCache(cfg.Dir, cfg.DiskTTL)), nil
}
