package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmcdole/lull/internal/domain"
)

// GetCacheEntry returns the raw entry for key, expired or not, or domain.ErrNotFound.
func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) (domain.CacheEntry, error) {
	var e domain.CacheEntry
	var cachedAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT key, payload, etag, cached_at, expires_at FROM cache_entries WHERE key = ?", key,
	).Scan(&e.Key, &e.Payload, &e.ETag, &cachedAt, &expiresAt)
	if err != nil {
		return domain.CacheEntry{}, notFound(err)
	}
	e.CachedAt = fromMillis(cachedAt)
	e.ExpiresAt = fromMillis(expiresAt)
	return e, nil
}

// PutCacheEntry inserts or replaces the entry for entry.Key.
func (s *SQLiteStore) PutCacheEntry(ctx context.Context, entry domain.CacheEntry) error {
	payload := entry.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := s.exec(ctx, `
		INSERT INTO cache_entries (key, payload, etag, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			etag = excluded.etag,
			cached_at = excluded.cached_at,
			expires_at = excluded.expires_at`,
		entry.Key, payload, entry.ETag, toMillis(entry.CachedAt), toMillis(entry.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put cache entry %s: %w", entry.Key, err)
	}
	return nil
}

// DeleteCacheEntry removes key. Removing a missing key is not an error.
func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, key string) error {
	if _, err := s.exec(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete cache entry %s: %w", key, err)
	}
	return nil
}

// DeleteExpiredCacheEntries removes every entry whose expiry is at or before now.
func (s *SQLiteStore) DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int, error) {
	res, err := s.exec(ctx, "DELETE FROM cache_entries WHERE expires_at <= ?", toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired cache entries: %w", err)
	}
	return rowsAffected(res), nil
}

// DeleteAllCacheEntries empties the cache table.
func (s *SQLiteStore) DeleteAllCacheEntries(ctx context.Context) error {
	if _, err := s.exec(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("clear cache entries: %w", err)
	}
	return nil
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
