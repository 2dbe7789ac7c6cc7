package library

import (
	"context"
	"sort"

	"github.com/mmcdole/lull/internal/domain"
)

// entity describes how one catalog collection is fetched, stored and listed.
type entity[T domain.CatalogItem] struct {
	name     domain.Entity
	cacheKey string
	fetch    func(ctx context.Context, etag string) (domain.Snapshot[T], error)
	hashes   func(ctx context.Context, tx domain.CatalogTx) (map[string]string, error)
	upsert   func(ctx context.Context, tx domain.CatalogTx, items []T) error
	remove   func(ctx context.Context, tx domain.CatalogTx, ids []string) error
	list     func(ctx context.Context) ([]T, error)
}

// plan is the set of writes that makes the local rows match a snapshot.
type plan[T domain.CatalogItem] struct {
	items      []T // the snapshot with duplicate ids collapsed, in first-seen order
	write      []T
	remove     []string
	result     domain.SyncResult
	updateOnly bool
}

// reconcile compares the remote snapshot with the local id -> hash map.
// Identity is the server id; the snapshot's last occurrence of an id wins.
func reconcile[T domain.CatalogItem](snap domain.Snapshot[T], local map[string]string, strategy Strategy, minRatio float64) plan[T] {
	var p plan[T]

	seen := make(map[string]int, len(snap.Items))
	unique := make([]T, 0, len(snap.Items))
	for _, item := range snap.Items {
		if i, ok := seen[item.GetID()]; ok {
			unique[i] = item
			continue
		}
		seen[item.GetID()] = len(unique)
		unique = append(unique, item)
	}
	p.items = unique

	for _, item := range unique {
		hash, exists := local[item.GetID()]
		switch {
		case !exists:
			p.result.Added++
			p.write = append(p.write, item)
		case strategy == StrategyHashDiff && hash == item.ContentHash():
			p.result.Unchanged++
		default:
			p.result.Updated++
			p.write = append(p.write, item)
		}
	}

	p.updateOnly = !snap.Complete ||
		(minRatio > 0 && len(local) > 0 && float64(len(unique)) < minRatio*float64(len(local)))
	p.result.UpdateOnly = p.updateOnly
	if p.updateOnly {
		return p
	}

	for id := range local {
		if _, ok := seen[id]; !ok {
			p.remove = append(p.remove, id)
		}
	}
	sort.Strings(p.remove)
	p.result.Deleted = len(p.remove)
	return p
}
