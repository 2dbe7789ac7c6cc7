package library

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmcdole/lull/internal/cache"
	"github.com/mmcdole/lull/internal/domain"
)

// Queries provides cache-first reads of the catalog.
// Implements domain.LibraryQueries.
//
// Read order: fresh cache, a sync pass, stale cache, store rows. A read only
// fails when none of those has anything.
type Queries struct {
	Deps
	commands *Commands
}

var _ domain.LibraryQueries = (*Queries)(nil)

// NewQueries creates a reader that refreshes through commands when the cache is cold.
func NewQueries(deps Deps, commands *Commands) *Queries {
	return &Queries{Deps: deps.withDefaults(), commands: commands}
}

func (q *Queries) Categories(ctx context.Context) ([]domain.Category, error) {
	return readThrough(ctx, q, cache.KeyCategories, q.commands.SyncCategories, q.Store.Categories)
}

func (q *Queries) Tracks(ctx context.Context) ([]domain.Track, error) {
	return readThrough(ctx, q, cache.KeyTracks, q.commands.SyncTracks, q.Store.Tracks)
}

func (q *Queries) TracksByCategory(ctx context.Context, categoryID string) ([]domain.Track, error) {
	tracks, err := q.Tracks(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Track
	for _, t := range tracks {
		if t.CategoryID == categoryID {
			out = append(out, t)
		}
	}
	return out, nil
}

// Track looks the id up in the store, then in the read-through track list,
// which syncs when the cache is cold.
func (q *Queries) Track(ctx context.Context, id string) (domain.Track, error) {
	t, err := q.Store.Track(ctx, id)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		q.Logger.Error("track lookup failed", "trackID", id, "error", err)
	}
	tracks, err := q.Tracks(ctx)
	if err != nil {
		return domain.Track{}, fmt.Errorf("track %s: %w (%w)", id, domain.ErrNotFound, err)
	}
	for _, t := range tracks {
		if t.ID == id {
			return t, nil
		}
	}
	return domain.Track{}, fmt.Errorf("track %s: %w", id, domain.ErrNotFound)
}

func (q *Queries) HomeSections(ctx context.Context) ([]domain.HomeSection, error) {
	return readThrough(ctx, q, cache.KeyHomeSections, q.commands.SyncHomeSections, nil)
}

func readThrough[T any](
	ctx context.Context,
	q *Queries,
	key string,
	sync func(context.Context) (domain.SyncResult, error),
	rows func(context.Context) ([]T, error),
) ([]T, error) {
	if v, ok := cache.Get[[]T](ctx, q.Cache, key); ok {
		return v, nil
	}

	_, syncErr := sync(ctx)
	if syncErr == nil {
		if v, ok := cache.Get[[]T](ctx, q.Cache, key); ok {
			return v, nil
		}
	}

	if v, ok := cache.GetStale[[]T](ctx, q.Cache, key); ok {
		q.Logger.Debug("serving stale cache", "key", key)
		return v, nil
	}

	if rows != nil {
		v, err := rows(ctx)
		if err != nil {
			q.Logger.Error("catalog read failed", "key", key, "error", err)
		} else if len(v) > 0 || syncErr == nil {
			return v, nil
		}
	}

	if syncErr != nil {
		return nil, fmt.Errorf("%s: %w: %w", key, domain.ErrNoCachedData, syncErr)
	}
	return nil, fmt.Errorf("%s: %w", key, domain.ErrNoCachedData)
}
