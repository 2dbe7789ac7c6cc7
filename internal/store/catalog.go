package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmcdole/lull/internal/domain"
)

// UpdateCatalog runs fn inside one write transaction. If fn returns an error
// nothing it wrote becomes visible.
//
// fn must only use tx; calling other store methods from inside fn deadlocks.
func (s *SQLiteStore) UpdateCatalog(ctx context.Context, fn func(tx domain.CatalogTx) error) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		return fn(&catalogTx{tx: tx, syncedAt: s.now()})
	})
}

type catalogTx struct {
	tx       *sql.Tx
	syncedAt time.Time
}

func (c *catalogTx) hashes(ctx context.Context, table string) (map[string]string, error) {
	rows, err := c.tx.QueryContext(ctx, "SELECT id, content_hash FROM "+table)
	if err != nil {
		return nil, fmt.Errorf("load %s hashes: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("scan %s hash: %w", table, err)
		}
		out[id] = hash
	}
	return out, rows.Err()
}

func (c *catalogTx) deleteIDs(ctx context.Context, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := c.tx.PrepareContext(ctx, "DELETE FROM "+table+" WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare %s delete: %w", table, err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete %s %s: %w", table, id, err)
		}
	}
	return nil
}

func (c *catalogTx) CategoryHashes(ctx context.Context) (map[string]string, error) {
	return c.hashes(ctx, "categories")
}

func (c *catalogTx) TrackHashes(ctx context.Context) (map[string]string, error) {
	return c.hashes(ctx, "tracks")
}

func (c *catalogTx) DeleteCategories(ctx context.Context, ids []string) error {
	return c.deleteIDs(ctx, "categories", ids)
}

func (c *catalogTx) DeleteTracks(ctx context.Context, ids []string) error {
	return c.deleteIDs(ctx, "tracks", ids)
}

func (c *catalogTx) UpsertCategories(ctx context.Context, categories []domain.Category) error {
	if len(categories) == 0 {
		return nil
	}
	stmt, err := c.tx.PrepareContext(ctx, `
		INSERT INTO categories (id, title, slug, artwork_url, sort_order, track_count, is_free, description, content_hash, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			slug = excluded.slug,
			artwork_url = excluded.artwork_url,
			sort_order = excluded.sort_order,
			track_count = excluded.track_count,
			is_free = excluded.is_free,
			description = excluded.description,
			content_hash = excluded.content_hash,
			synced_at = excluded.synced_at`)
	if err != nil {
		return fmt.Errorf("prepare category upsert: %w", err)
	}
	defer stmt.Close()

	syncedAt := toMillis(c.syncedAt)
	for _, cat := range categories {
		_, err := stmt.ExecContext(ctx,
			cat.ID, cat.Title, cat.Slug, cat.ArtworkURL, cat.SortOrder, cat.TrackCount,
			boolToInt(cat.IsFree), cat.Description, cat.ContentHash(), syncedAt)
		if err != nil {
			return fmt.Errorf("upsert category %s: %w", cat.ID, err)
		}
	}
	return nil
}

func (c *catalogTx) UpsertTracks(ctx context.Context, tracks []domain.Track) error {
	if len(tracks) == 0 {
		return nil
	}
	stmt, err := c.tx.PrepareContext(ctx, `
		INSERT INTO tracks (id, title, artist, composer, category_id, duration_ms, media_url, artwork_url,
			is_free, sort_order, play_count, like_count, description, content_hash, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			artist = excluded.artist,
			composer = excluded.composer,
			category_id = excluded.category_id,
			duration_ms = excluded.duration_ms,
			media_url = excluded.media_url,
			artwork_url = excluded.artwork_url,
			is_free = excluded.is_free,
			sort_order = excluded.sort_order,
			play_count = excluded.play_count,
			like_count = excluded.like_count,
			description = excluded.description,
			content_hash = excluded.content_hash,
			synced_at = excluded.synced_at`)
	if err != nil {
		return fmt.Errorf("prepare track upsert: %w", err)
	}
	defer stmt.Close()

	syncedAt := toMillis(c.syncedAt)
	for _, t := range tracks {
		_, err := stmt.ExecContext(ctx,
			t.ID, t.Title, t.Artist, t.Composer, t.CategoryID, t.Duration.Milliseconds(),
			t.MediaURL, t.ArtworkURL, boolToInt(t.IsFree), t.SortOrder, t.PlayCount, t.LikeCount,
			t.Description, t.ContentHash(), syncedAt)
		if err != nil {
			return fmt.Errorf("upsert track %s: %w", t.ID, err)
		}
	}
	return nil
}

// === Reads ===

const categoryColumns = `id, title, slug, artwork_url, sort_order, track_count, is_free, description`

const trackColumns = `id, title, artist, composer, category_id, duration_ms, media_url, artwork_url,
	is_free, sort_order, play_count, like_count, description`

type scanner interface {
	Scan(dest ...any) error
}

func scanCategory(row scanner) (domain.Category, error) {
	var c domain.Category
	var isFree int
	err := row.Scan(&c.ID, &c.Title, &c.Slug, &c.ArtworkURL, &c.SortOrder, &c.TrackCount, &isFree, &c.Description)
	c.IsFree = isFree != 0
	return c, err
}

func scanTrack(row scanner) (domain.Track, error) {
	var t domain.Track
	var durationMS int64
	var isFree int
	err := row.Scan(&t.ID, &t.Title, &t.Artist, &t.Composer, &t.CategoryID, &durationMS,
		&t.MediaURL, &t.ArtworkURL, &isFree, &t.SortOrder, &t.PlayCount, &t.LikeCount, &t.Description)
	t.Duration = time.Duration(durationMS) * time.Millisecond
	t.IsFree = isFree != 0
	return t, err
}

// Categories returns all stored categories in display order.
func (s *SQLiteStore) Categories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+categoryColumns+" FROM categories ORDER BY sort_order, title, id")
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Tracks returns all stored tracks in display order.
func (s *SQLiteStore) Tracks(ctx context.Context) ([]domain.Track, error) {
	return s.queryTracks(ctx,
		"SELECT "+trackColumns+" FROM tracks ORDER BY sort_order, title, id")
}

// TracksByCategory returns the tracks of one category in display order.
func (s *SQLiteStore) TracksByCategory(ctx context.Context, categoryID string) ([]domain.Track, error) {
	return s.queryTracks(ctx,
		"SELECT "+trackColumns+" FROM tracks WHERE category_id = ? ORDER BY sort_order, title, id",
		categoryID)
}

// Track returns one track or domain.ErrNotFound.
func (s *SQLiteStore) Track(ctx context.Context, id string) (domain.Track, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id)
	t, err := scanTrack(row)
	if err != nil {
		return domain.Track{}, notFound(err)
	}
	return t, nil
}

func (s *SQLiteStore) queryTracks(ctx context.Context, query string, args ...any) ([]domain.Track, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var out []domain.Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
