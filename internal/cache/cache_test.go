package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/newsdigest/internal/model"
	"github.com/redis/go-redis/v9"
)

func TestCacheKey(t *testing.T) {
	a := CacheKey("openai", "classification", "system", "prompt")
	b := CacheKey("openai", "classification", "system", "prompt")
	if a != b {
		t.Error("same parts must give the same key")
	}
	if !strings.HasPrefix(a, keyPrefix) {
		t.Errorf("key %s lacks prefix", a)
	}
	// Part boundaries matter
	if CacheKey("ab", "c") == CacheKey("a", "bc") {
		t.Error("different part splits must not collide")
	}
}

func TestMemoryCache(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := c.Set("k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if v, ok := c.Get("k"); !ok || string(v) != "v" {
		t.Errorf("got %q %v", v, ok)
	}
	_ = c.Delete("k")
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d", c.Len())
	}
}

func TestMemoryCache_AdmissionBound(t *testing.T) {
	c := NewMemoryCache(time.Minute, time.Minute)
	c.maxEntries = 2

	_ = c.Set("a", []byte("1"), 0)
	_ = c.Set("b", []byte("2"), 0)
	_ = c.Set("c", []byte("3"), 0)
	if _, ok := c.Get("c"); ok {
		t.Error("full cache must not admit new keys")
	}
	_ = c.Set("a", []byte("updated"), 0)
	if v, _ := c.Get("a"); string(v) != "updated" {
		t.Errorf("existing keys can still be replaced, got %q", v)
	}

	_ = c.Delete("b")
	_ = c.Set("c", []byte("3"), time.Nanosecond)
	time.Sleep(time.Millisecond)
	_ = c.Set("d", []byte("4"), 0)
	if _, ok := c.Get("d"); !ok {
		t.Error("expired entries must make room")
	}
}

func TestDiskCache_Expiry(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewDiskCache(dir, time.Hour)
	c.now = func() time.Time { return now }

	key := CacheKey("x")
	if err := c.Set(key, []byte(`{"ok":true}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if v, ok := c.Get(key); !ok || string(v) != `{"ok":true}` {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	now = now.Add(2 * time.Hour)
	if _, ok := c.Get(key); ok {
		t.Error("expected expired entry to miss")
	}
	if _, err := os.Stat(c.path(key)); !os.IsNotExist(err) {
		t.Error("expired entry file should be removed")
	}
}

func TestDiskCache_ClearKeepsForeignFiles(t *testing.T) {
	dir := t.TempDir()
	foreign := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(foreign, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewDiskCache(dir, time.Hour)
	_ = c.Set("a", []byte("1"), 0)
	_ = c.Set("b", []byte("2"), 0)

	if err := c.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok := c.Get("a"); ok {
		t.Error("entry survived Clear")
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Error("Clear removed a foreign file")
	}
}

func TestDiskCache_CorruptEntryIsMiss(t *testing.T) {
	c := NewDiskCache(t.TempDir(), time.Hour)
	if err := os.WriteFile(c.path("k"), []byte("{broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("corrupt entry should be a miss")
	}
}

func TestLayeredCache_PromotesBackHits(t *testing.T) {
	front := NewMemoryCache(time.Minute, time.Minute)
	back := NewDiskCache(t.TempDir(), time.Hour)
	c := NewLayeredCache(front, back)

	_ = back.Set("k", []byte("v"), 0)
	if v, ok := c.Get("k"); !ok || string(v) != "v" {
		t.Fatalf("expected back-tier hit, got %q %v", v, ok)
	}
	if _, ok := front.Get("k"); !ok {
		t.Error("back-tier hit should be promoted to the front")
	}

	_ = c.Delete("k")
	if _, ok := back.Get("k"); ok {
		t.Error("Delete should reach the back tier")
	}
}

func TestRedisCache_UnreachableIsMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	c := NewRedisCacheWithClient(client, time.Minute)
	c.timeout = 200 * time.Millisecond
	defer func() { _ = c.Close() }()

	if _, ok := c.Get("k"); ok {
		t.Error("unreachable redis must read as a miss")
	}
	if err := c.Set("k", []byte("v"), 0); err == nil {
		t.Error("expected write error from unreachable redis")
	}
}

func TestNew(t *testing.T) {
	c, err := New(model.CacheConfig{})
	if err != nil || c != nil {
		t.Errorf("disabled cache should be nil, got %v %v", c, err)
	}

	c, err = New(model.CacheConfig{Enabled: true, MemoryTTL: time.Minute, Dir: t.TempDir(), DiskTTL: time.Hour})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := c.(*LayeredCache); !ok {
		t.Errorf("expected layered cache, got %T", c)
	}

	if _, err := New(model.CacheConfig{Enabled: true, RedisAddr: "127.0.0.1:1"}); err == nil {
		t.Error("expected connect error for unreachable redis")
	}
}
