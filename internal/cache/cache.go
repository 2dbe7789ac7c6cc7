// Package cache is a TTL read-through cache stored in the local database.
//
// The cache is an optimization only. Storage and decoding errors are logged
// and reported as misses; writes never fail the caller.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/metrics"
)

// Well-known keys and their default TTLs.
const (
	KeyHomeSections = "home_sections"
	KeyCategories   = "categories"
	KeyTracks       = "tracks"
)

// Config holds per-key TTLs. Keys without an entry use DefaultTTL.
type Config struct {
	DefaultTTL time.Duration
	TTLs       map[string]time.Duration
}

// DefaultConfig returns the TTLs used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		DefaultTTL: 30 * time.Minute,
		TTLs: map[string]time.Duration{
			KeyHomeSections: 15 * time.Minute,
			KeyCategories:   60 * time.Minute,
			KeyTracks:       30 * time.Minute,
		},
	}
}

// Cache implements get/getStale/set over a domain.CacheStore.
type Cache struct {
	store      domain.CacheStore
	defaultTTL time.Duration
	ttls       map[string]time.Duration
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a cache. m may be nil.
func New(store domain.CacheStore, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	ttls := make(map[string]time.Duration, len(cfg.TTLs))
	for k, v := range cfg.TTLs {
		if v > 0 {
			ttls[k] = v
		}
	}
	return &Cache{
		store:      store,
		defaultTTL: cfg.DefaultTTL,
		ttls:       ttls,
		now:        time.Now,
		metrics:    m,
		logger:     logger,
	}
}

// SetClock replaces the time source (tests).
func (c *Cache) SetClock(now func() time.Time) {
	c.now = now
}

// TTL returns the default TTL for key.
func (c *Cache) TTL(key string) time.Duration {
	if ttl, ok := c.ttls[key]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Set stores value under key. ttl <= 0 uses the key's default TTL.
// Both cached_at and expires_at are refreshed on every write.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	c.SetWithETag(ctx, key, value, "", ttl)
}

// SetWithETag is Set that also remembers the validator the payload came with.
func (c *Cache) SetWithETag(ctx context.Context, key string, value any, etag string, ttl time.Duration) {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Error("cache encode failed", "key", key, "error", err)
		return
	}
	c.put(ctx, key, payload, etag, ttl)
}

// Touch re-arms the TTL of an existing entry without changing its payload.
// It reports false when there is nothing to refresh.
func (c *Cache) Touch(ctx context.Context, key string, ttl time.Duration) bool {
	entry, ok := c.entry(ctx, key)
	if !ok {
		return false
	}
	return c.put(ctx, key, entry.Payload, entry.ETag, ttl)
}

func (c *Cache) put(ctx context.Context, key string, payload []byte, etag string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.TTL(key)
	}
	now := c.now()
	err := c.store.PutCacheEntry(ctx, domain.CacheEntry{
		Key:       key,
		Payload:   payload,
		ETag:      etag,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	})
	if err != nil {
		c.logger.Error("cache write failed", "key", key, "error", err)
		return false
	}
	return true
}

// Has reports whether key holds a fresh entry.
func (c *Cache) Has(ctx context.Context, key string) bool {
	entry, ok := c.entry(ctx, key)
	return ok && !entry.Expired(c.now())
}

// ETag returns the validator stored with key, fresh or not.
func (c *Cache) ETag(ctx context.Context, key string) string {
	entry, ok := c.entry(ctx, key)
	if !ok {
		return ""
	}
	return entry.ETag
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) {
	if err := c.store.DeleteCacheEntry(ctx, key); err != nil {
		c.logger.Error("cache delete failed", "key", key, "error", err)
	}
}

// ClearExpired removes every expired entry and returns how many were removed.
func (c *Cache) ClearExpired(ctx context.Context) int {
	n, err := c.store.DeleteExpiredCacheEntries(ctx, c.now())
	if err != nil {
		c.logger.Error("cache clear expired failed", "error", err)
		return 0
	}
	if n > 0 {
		c.logger.Debug("cleared expired cache entries", "count", n)
	}
	return n
}

// ClearAll removes every entry.
func (c *Cache) ClearAll(ctx context.Context) {
	if err := c.store.DeleteAllCacheEntries(ctx); err != nil {
		c.logger.Error("cache clear failed", "error", err)
		return
	}
	c.logger.Info("cleared cache")
}

func (c *Cache) entry(ctx context.Context, key string) (domain.CacheEntry, bool) {
	entry, err := c.store.GetCacheEntry(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger.Error("cache read failed", "key", key, "error", err)
		}
		return domain.CacheEntry{}, false
	}
	return entry, true
}

// Get returns the value under key if present and not expired.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	entry, ok := c.entry(ctx, key)
	if !ok {
		c.metrics.CacheLookup(key, "miss")
		return zero, false
	}
	if entry.Expired(c.now()) {
		c.metrics.CacheLookup(key, "miss")
		return zero, false
	}
	v, ok := decode[T](c, entry)
	if ok {
		c.metrics.CacheLookup(key, "hit")
	} else {
		c.metrics.CacheLookup(key, "miss")
	}
	return v, ok
}

// GetStale returns the value under key ignoring expiry.
// Use it only as a fallback when the authoritative source is unreachable.
func GetStale[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var zero T
	entry, ok := c.entry(ctx, key)
	if !ok {
		c.metrics.CacheLookup(key, "miss")
		return zero, false
	}
	v, ok := decode[T](c, entry)
	if !ok {
		c.metrics.CacheLookup(key, "miss")
		return zero, false
	}
	if entry.Expired(c.now()) {
		c.metrics.CacheLookup(key, "stale")
	} else {
		c.metrics.CacheLookup(key, "hit")
	}
	return v, true
}

func decode[T any](c *Cache, entry domain.CacheEntry) (T, bool) {
	var v T
	if err := json.Unmarshal(entry.Payload, &v); err != nil {
		c.logger.Error("cache decode failed", "key", entry.Key, "error", err)
		return v, false
	}
	return v, true
}
