package domain

import (
	"context"
	"time"
)

// CacheEntry is one row of the key/value cache table
type CacheEntry struct {
	Key       string
	Payload   []byte
	ETag      string
	CachedAt  time.Time
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its TTL at now.
func (e CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CatalogTx is the write view of the catalog inside one atomic transaction.
type CatalogTx interface {
	CategoryHashes(ctx context.Context) (map[string]string, error)
	UpsertCategories(ctx context.Context, categories []Category) error
	DeleteCategories(ctx context.Context, ids []string) error

	TrackHashes(ctx context.Context) (map[string]string, error)
	UpsertTracks(ctx context.Context, tracks []Track) error
	DeleteTracks(ctx context.Context, ids []string) error
}

// CatalogStore holds the synchronized catalog.
// Only the sync engine calls UpdateCatalog.
type CatalogStore interface {
	UpdateCatalog(ctx context.Context, fn func(tx CatalogTx) error) error

	Categories(ctx context.Context) ([]Category, error)
	Tracks(ctx context.Context) ([]Track, error)
	TracksByCategory(ctx context.Context, categoryID string) ([]Track, error)
	Track(ctx context.Context, id string) (Track, error)
}

// CacheStore holds cache rows. Only the cache layer uses it.
type CacheStore interface {
	GetCacheEntry(ctx context.Context, key string) (CacheEntry, error)
	PutCacheEntry(ctx context.Context, entry CacheEntry) error
	DeleteCacheEntry(ctx context.Context, key string) error
	DeleteExpiredCacheEntries(ctx context.Context, now time.Time) (int, error)
	DeleteAllCacheEntries(ctx context.Context) error
}

// DownloadStore holds download records. Only the download engine uses it.
type DownloadStore interface {
	GetDownload(ctx context.Context, trackID string) (DownloadRecord, error)
	ListDownloads(ctx context.Context) ([]DownloadRecord, error)
	PutDownload(ctx context.Context, rec DownloadRecord) error
	UpdateDownloadProgress(ctx context.Context, trackID string, progress int, downloaded, total int64) error
	DeleteDownload(ctx context.Context, trackID string) error
}

// Store is the full local store.
type Store interface {
	CatalogStore
	CacheStore
	DownloadStore
	Close() error
}
