package library

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mmcdole/lull/internal/cache"
	"github.com/mmcdole/lull/internal/domain"
)

// Commands runs sync passes that hit the network and mutate the local catalog.
// Implements domain.LibraryCommands.
//
// Passes for the same entity never overlap: a request that arrives while a
// pass is in flight shares that pass's result.
type Commands struct {
	Deps
	cfg    Config
	flight singleflight.Group

	categories entity[domain.Category]
	tracks     entity[domain.Track]
}

var _ domain.LibraryCommands = (*Commands)(nil)

// NewCommands creates the sync engine.
func NewCommands(deps Deps, cfg Config) *Commands {
	deps = deps.withDefaults()
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Commands{Deps: deps, cfg: cfg}
	c.categories = entity[domain.Category]{
		name:     domain.EntityCategories,
		cacheKey: cache.KeyCategories,
		fetch:    deps.Client.FetchCategories,
		hashes: func(ctx context.Context, tx domain.CatalogTx) (map[string]string, error) {
			return tx.CategoryHashes(ctx)
		},
		upsert: func(ctx context.Context, tx domain.CatalogTx, items []domain.Category) error {
			return tx.UpsertCategories(ctx, items)
		},
		remove: func(ctx context.Context, tx domain.CatalogTx, ids []string) error {
			return tx.DeleteCategories(ctx, ids)
		},
		list: deps.Store.Categories,
	}
	c.tracks = entity[domain.Track]{
		name:     domain.EntityTracks,
		cacheKey: cache.KeyTracks,
		fetch:    deps.Client.FetchTracks,
		hashes: func(ctx context.Context, tx domain.CatalogTx) (map[string]string, error) {
			return tx.TrackHashes(ctx)
		},
		upsert: func(ctx context.Context, tx domain.CatalogTx, items []domain.Track) error {
			return tx.UpsertTracks(ctx, items)
		},
		remove: func(ctx context.Context, tx domain.CatalogTx, ids []string) error {
			return tx.DeleteTracks(ctx, ids)
		},
		list: deps.Store.Tracks,
	}
	return c
}

// SyncCategories reconciles the remote category listing into the store.
func (c *Commands) SyncCategories(ctx context.Context) (domain.SyncResult, error) {
	return c.coalesce(ctx, domain.EntityCategories, func(ctx context.Context) (domain.SyncResult, error) {
		return syncEntity(ctx, c, c.categories)
	})
}

// SyncTracks reconciles the remote track listing into the store.
func (c *Commands) SyncTracks(ctx context.Context) (domain.SyncResult, error) {
	return c.coalesce(ctx, domain.EntityTracks, func(ctx context.Context) (domain.SyncResult, error) {
		return syncEntity(ctx, c, c.tracks)
	})
}

// SyncHomeSections refreshes the cached home sections. They have no table.
func (c *Commands) SyncHomeSections(ctx context.Context) (domain.SyncResult, error) {
	return c.coalesce(ctx, domain.EntityHomeSections, c.syncHomeSections)
}

// SyncAll syncs every entity concurrently. A failed entity does not stop the
// others; its error is joined into the returned error and its result has
// FromCache set.
func (c *Commands) SyncAll(ctx context.Context) ([]domain.SyncResult, error) {
	passes := []func(context.Context) (domain.SyncResult, error){
		c.SyncCategories,
		c.SyncTracks,
		c.SyncHomeSections,
	}
	results := make([]domain.SyncResult, len(passes))
	errs := make([]error, len(passes))

	var g errgroup.Group
	for i, pass := range passes {
		g.Go(func() error {
			results[i], errs[i] = pass(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return results, errors.Join(errs...)
}

// coalesce runs fn at most once at a time per entity. The pass itself is
// detached from the caller's cancellation and bounded by the sync timeout, so a
// caller that gives up does not abort a transaction other callers are waiting on.
func (c *Commands) coalesce(ctx context.Context, name domain.Entity, fn func(context.Context) (domain.SyncResult, error)) (domain.SyncResult, error) {
	ch := c.flight.DoChan(string(name), func() (any, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
		defer cancel()
		return fn(passCtx)
	})
	select {
	case r := <-ch:
		res, _ := r.Val.(domain.SyncResult)
		return res, r.Err
	case <-ctx.Done():
		return domain.SyncResult{Entity: name}, ctx.Err()
	}
}

func syncEntity[T domain.CatalogItem](ctx context.Context, c *Commands, e entity[T]) (domain.SyncResult, error) {
	start := time.Now()
	c.Observer.OnProgress(domain.SyncProgress{Entity: e.name, Started: true})

	etag := c.Cache.ETag(ctx, e.cacheKey)
	snap, err := e.fetch(ctx, etag)
	if err != nil {
		if errors.Is(err, domain.ErrNotModified) {
			return c.notModified(ctx, e.name, e.cacheKey, start), nil
		}
		return c.fallback(e.name, start, err)
	}

	var p plan[T]
	err = c.Store.UpdateCatalog(ctx, func(tx domain.CatalogTx) error {
		local, err := e.hashes(ctx, tx)
		if err != nil {
			return err
		}
		p = reconcile(snap, local, c.cfg.Strategy, c.cfg.MinSnapshotRatio)
		if len(p.remove) > 0 {
			if err := e.remove(ctx, tx, p.remove); err != nil {
				return err
			}
		}
		return e.upsert(ctx, tx, p.write)
	})
	if err != nil {
		c.Logger.Error("catalog update failed", "entity", e.name, "error", err)
		c.Observer.OnProgress(domain.SyncProgress{Entity: e.name, Done: true, Error: err})
		return domain.SyncResult{Entity: e.name}, fmt.Errorf("sync %s: %w", e.name, err)
	}

	if p.updateOnly {
		c.Logger.Warn("snapshot looked partial, skipped deletes",
			"entity", e.name, "remote", len(snap.Items), "complete", snap.Complete)
		// The list view must reflect the store, not the partial snapshot.
		rows, err := e.list(ctx)
		if err != nil {
			c.Logger.Error("reload catalog for cache failed", "entity", e.name, "error", err)
			c.Cache.Delete(ctx, e.cacheKey)
		} else {
			c.Cache.Set(ctx, e.cacheKey, rows, 0)
		}
	} else {
		c.Cache.SetWithETag(ctx, e.cacheKey, p.items, snap.ETag, 0)
	}

	res := p.result
	res.Entity = e.name
	c.Metrics.SyncPass(string(e.name), "synced", time.Since(start).Seconds(), res.Added, res.Updated, res.Deleted)
	c.Logger.Info("synced catalog", "entity", e.name,
		"added", res.Added, "updated", res.Updated, "unchanged", res.Unchanged, "deleted", res.Deleted,
		"strategy", c.cfg.Strategy.String())
	c.Observer.OnProgress(domain.SyncProgress{Entity: e.name, Done: true, Result: res})
	return res, nil
}

func (c *Commands) syncHomeSections(ctx context.Context) (domain.SyncResult, error) {
	const name = domain.EntityHomeSections
	start := time.Now()
	c.Observer.OnProgress(domain.SyncProgress{Entity: name, Started: true})

	etag := c.Cache.ETag(ctx, cache.KeyHomeSections)
	sections, newETag, err := c.Client.FetchHomeSections(ctx, etag)
	if err != nil {
		if errors.Is(err, domain.ErrNotModified) {
			return c.notModified(ctx, name, cache.KeyHomeSections, start), nil
		}
		return c.fallback(name, start, err)
	}
	if sections == nil {
		sections = []domain.HomeSection{}
	}
	c.Cache.SetWithETag(ctx, cache.KeyHomeSections, sections, newETag, 0)

	// Sections replace the cached list wholesale.
	res := domain.SyncResult{Entity: name, Updated: len(sections)}
	c.Metrics.SyncPass(string(name), "synced", time.Since(start).Seconds(), 0, res.Updated, 0)
	c.Logger.Info("synced home sections", "count", len(sections))
	c.Observer.OnProgress(domain.SyncProgress{Entity: name, Done: true, Result: res})
	return res, nil
}

func (c *Commands) notModified(ctx context.Context, name domain.Entity, key string, start time.Time) domain.SyncResult {
	c.Cache.Touch(ctx, key, 0)
	res := domain.SyncResult{Entity: name, NotModified: true}
	c.Metrics.SyncPass(string(name), "not_modified", time.Since(start).Seconds(), 0, 0, 0)
	c.Logger.Debug("catalog not modified", "entity", name)
	c.Observer.OnProgress(domain.SyncProgress{Entity: name, Done: true, Result: res})
	return res
}

// fallback reports a failed fetch. Nothing was written; readers fall back to
// the cache.
func (c *Commands) fallback(name domain.Entity, start time.Time, err error) (domain.SyncResult, error) {
	res := domain.SyncResult{Entity: name, FromCache: true}
	c.Metrics.SyncPass(string(name), "fallback", time.Since(start).Seconds(), 0, 0, 0)
	c.Logger.Warn("remote fetch failed, using cached data", "entity", name, "error", err)
	c.Observer.OnProgress(domain.SyncProgress{Entity: name, Done: true, FromCache: true, Result: res, Error: err})
	return res, fmt.Errorf("fetch %s: %w", name, err)
}
