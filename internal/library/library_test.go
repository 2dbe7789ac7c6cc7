package library

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/lull/internal/cache"
	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/store"
)

// fakeClient serves whatever snapshots the test sets.
type fakeClient struct {
	mu         sync.Mutex
	categories domain.Snapshot[domain.Category]
	tracks     domain.Snapshot[domain.Track]
	sections   []domain.HomeSection
	err        error
	sectionErr error
	block      chan struct{} // when non-nil, FetchTracks waits on it
	trackCalls atomic.Int32
}

func (f *fakeClient) FetchCategories(ctx context.Context, etag string) (domain.Snapshot[domain.Category], error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Snapshot[domain.Category]{}, f.err
	}
	if etag != "" && etag == f.categories.ETag {
		return domain.Snapshot[domain.Category]{}, domain.ErrNotModified
	}
	return f.categories, nil
}

func (f *fakeClient) FetchTracks(ctx context.Context, etag string) (domain.Snapshot[domain.Track], error) {
	f.trackCalls.Add(1)
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return domain.Snapshot[domain.Track]{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.Snapshot[domain.Track]{}, f.err
	}
	if etag != "" && etag == f.tracks.ETag {
		return domain.Snapshot[domain.Track]{}, domain.ErrNotModified
	}
	return f.tracks, nil
}

func (f *fakeClient) FetchHomeSections(ctx context.Context, etag string) ([]domain.HomeSection, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sectionErr != nil {
		return nil, "", f.sectionErr
	}
	if f.err != nil {
		return nil, "", f.err
	}
	return f.sections, "", nil
}

func (f *fakeClient) setTracks(snap domain.Snapshot[domain.Track]) {
	f.mu.Lock()
	f.tracks = snap
	f.mu.Unlock()
}

func (f *fakeClient) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type fixture struct {
	client   *fakeClient
	store    *store.SQLiteStore
	cache    *cache.Cache
	commands *Commands
	queries  *Queries
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	s, err := store.Open(store.MemoryPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	client := &fakeClient{}
	c := cache.New(s, cache.DefaultConfig(), nil, nil)
	deps := Deps{Client: client, Store: s, Cache: c}
	commands := NewCommands(deps, cfg)
	return &fixture{
		client:   client,
		store:    s,
		cache:    c,
		commands: commands,
		queries:  NewQueries(deps, commands),
	}
}

func tracks(pairs ...string) []domain.Track {
	var out []domain.Track
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.Track{ID: pairs[i], Title: pairs[i+1]})
	}
	return out
}

func assertResult(t *testing.T, got domain.SyncResult, added, updated, deleted int) {
	t.Helper()
	if got.Added != added || got.Updated != updated || got.Deleted != deleted {
		t.Fatalf("result = {added:%d updated:%d deleted:%d}, want {added:%d updated:%d deleted:%d}",
			got.Added, got.Updated, got.Deleted, added, updated, deleted)
	}
}

func TestSyncTracksScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	f.client.setTracks(domain.CompleteSnapshot(tracks("t1", "A", "t2", "B")))
	res, err := f.commands.SyncTracks(ctx)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	assertResult(t, res, 2, 0, 0)

	f.client.setTracks(domain.CompleteSnapshot(tracks("t1", "A2")))
	res, err = f.commands.SyncTracks(ctx)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	assertResult(t, res, 0, 1, 1)

	rows, err := f.store.Tracks(ctx)
	if err != nil {
		t.Fatalf("tracks: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "t1" || rows[0].Title != "A2" {
		t.Fatalf("rows = %+v, want only t1/A2", rows)
	}

	cached, ok := cache.Get[[]domain.Track](ctx, f.cache, cache.KeyTracks)
	if !ok || len(cached) != 1 || cached[0].Title != "A2" {
		t.Fatalf("cached list = %+v, %v", cached, ok)
	}
}

func TestSyncLeavesExactlyRemoteIdentities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	snapshots := [][]domain.Track{
		tracks("a", "1", "b", "2", "c", "3"),
		tracks("b", "2", "d", "4"),
		tracks("d", "4", "d", "4b", "e", "5"), // duplicate id counts once
		nil,
	}
	for i, snap := range snapshots {
		before, _ := f.store.Tracks(ctx)
		f.client.setTracks(domain.CompleteSnapshot(snap))
		res, err := f.commands.SyncTracks(ctx)
		if err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
		after, _ := f.store.Tracks(ctx)

		want := map[string]bool{}
		for _, tr := range snap {
			want[tr.ID] = true
		}
		if len(after) != len(want) {
			t.Fatalf("pass %d: %d rows, want %d", i, len(after), len(want))
		}
		for _, tr := range after {
			if !want[tr.ID] {
				t.Fatalf("pass %d: orphan row %s", i, tr.ID)
			}
		}
		if res.Added+res.Updated != len(want) {
			t.Fatalf("pass %d: added+updated = %d, want %d", i, res.Added+res.Updated, len(want))
		}
		if len(before)-res.Deleted+res.Added != len(after) {
			t.Fatalf("pass %d: counts inconsistent: before=%d %+v after=%d", i, len(before), res, len(after))
		}

		cached, err := f.queries.Tracks(ctx)
		if err != nil {
			t.Fatalf("pass %d: read: %v", i, err)
		}
		if len(cached) != len(after) {
			t.Fatalf("pass %d: cached list has %d tracks, store has %d", i, len(cached), len(after))
		}
		for _, tr := range cached {
			if tr.ID == "d" && i == 2 && tr.Title != "4b" {
				t.Fatalf("pass %d: cached duplicate kept %q, want last occurrence", i, tr.Title)
			}
		}
	}
}

func TestSyncCategoriesIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.client.categories = domain.CompleteSnapshot([]domain.Category{
		{ID: "c1", Title: "Sleep"}, {ID: "c2", Title: "Focus"}, {ID: "c3", Title: "Nature"},
	})

	if _, err := f.commands.SyncCategories(ctx); err != nil {
		t.Fatalf("first: %v", err)
	}
	first, _ := f.store.Categories(ctx)

	res, err := f.commands.SyncCategories(ctx)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	assertResult(t, res, 0, 3, 0)
	second, _ := f.store.Categories(ctx)

	if len(first) != len(second) {
		t.Fatalf("row count changed: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("row %d changed: %+v -> %+v", i, first[i], second[i])
		}
	}
}

func TestHashDiffStrategySkipsUnchangedRows(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Strategy = StrategyHashDiff
	f := newFixture(t, cfg)

	f.client.setTracks(domain.CompleteSnapshot(tracks("t1", "A", "t2", "B")))
	if _, err := f.commands.SyncTracks(ctx); err != nil {
		t.Fatalf("first: %v", err)
	}

	f.client.setTracks(domain.CompleteSnapshot(tracks("t1", "A", "t2", "B2")))
	res, err := f.commands.SyncTracks(ctx)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if res.Unchanged != 1 || res.Updated != 1 || res.Added != 0 {
		t.Fatalf("result = %+v, want 1 unchanged 1 updated", res)
	}
	got, _ := f.store.Track(ctx, "t2")
	if got.Title != "B2" {
		t.Fatalf("t2 title = %q, want B2", got.Title)
	}
}

func TestIncompleteSnapshotSkipsDeletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	f.client.setTracks(domain.CompleteSnapshot(tracks("t1", "A", "t2", "B")))
	if _, err := f.commands.SyncTracks(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.client.setTracks(domain.Snapshot[domain.Track]{Items: tracks("t1", "A2")})
	res, err := f.commands.SyncTracks(ctx)
	if err != nil {
		t.Fatalf("partial: %v", err)
	}
	if !res.UpdateOnly || res.Deleted != 0 {
		t.Fatalf("result = %+v, want update-only", res)
	}
	rows, _ := f.store.Tracks(ctx)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	cached, ok := cache.Get[[]domain.Track](ctx, f.cache, cache.KeyTracks)
	if !ok || len(cached) != 2 {
		t.Fatalf("cached list should mirror the store, got %d rows", len(cached))
	}
}

func TestMinSnapshotRatioGuard(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MinSnapshotRatio = 0.5
	f := newFixture(t, cfg)

	f.client.setTracks(domain.CompleteSnapshot(tracks("a", "1", "b", "2", "c", "3", "d", "4")))
	if _, err := f.commands.SyncTracks(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.client.setTracks(domain.CompleteSnapshot(tracks("a", "1")))
	res, err := f.commands.SyncTracks(ctx)
	if err != nil {
		t.Fatalf("small snapshot: %v", err)
	}
	if !res.UpdateOnly {
		t.Fatalf("result = %+v, want update-only", res)
	}

	f.client.setTracks(domain.CompleteSnapshot(tracks("a", "1", "b", "2")))
	res, err = f.commands.SyncTracks(ctx)
	if err != nil {
		t.Fatalf("half snapshot: %v", err)
	}
	if res.UpdateOnly || res.Deleted != 2 {
		t.Fatalf("result = %+v, want 2 deletes", res)
	}
}

func TestFetchFailureMutatesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	f.client.setTracks(domain.CompleteSnapshot(tracks("t1", "A")))
	if _, err := f.commands.SyncTracks(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	f.client.setTracks(domain.CompleteSnapshot[domain.Track](nil))
	f.client.setErr(domain.ErrServerOffline)
	res, err := f.commands.SyncTracks(ctx)
	if !errors.Is(err, domain.ErrServerOffline) {
		t.Fatalf("err = %v, want server offline", err)
	}
	if !res.FromCache {
		t.Fatalf("result = %+v, want FromCache", res)
	}
	rows, _ := f.store.Tracks(ctx)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
}

func TestNotModifiedRefreshesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	f.cache.SetClock(func() time.Time { return now })

	snap := domain.CompleteSnapshot(tracks("t1", "A"))
	snap.ETag = `"v1"`
	f.client.setTracks(snap)
	if _, err := f.commands.SyncTracks(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}

	now = now.Add(2 * f.cache.TTL(cache.KeyTracks))
	if f.cache.Has(ctx, cache.KeyTracks) {
		t.Fatal("expected cache to be expired")
	}

	res, err := f.commands.SyncTracks(ctx)
	if err != nil {
		t.Fatalf("conditional sync: %v", err)
	}
	if !res.NotModified {
		t.Fatalf("result = %+v, want NotModified", res)
	}
	if !f.cache.Has(ctx, cache.KeyTracks) {
		t.Fatal("not-modified pass should refresh the cache TTL")
	}
}

func TestConcurrentSyncsCoalesce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	release := make(chan struct{})
	f.client.block = release
	f.client.setTracks(domain.CompleteSnapshot(tracks("t1", "A")))

	const callers = 5
	var wg sync.WaitGroup
	results := make([]domain.SyncResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.commands.SyncTracks(ctx)
		}(i)
	}

	// Wait until the first pass is in flight before releasing it.
	deadline := time.Now().Add(2 * time.Second)
	for f.client.trackCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if calls := f.client.trackCalls.Load(); calls < 1 || calls > callers {
		t.Fatalf("fetch calls = %d", calls)
	}
	rows, _ := f.store.Tracks(ctx)
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
}

func TestSyncTimeoutIsSoftFailure(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Timeout = 30 * time.Millisecond
	f := newFixture(t, cfg)

	f.client.block = make(chan struct{}) // never released
	start := time.Now()
	res, err := f.commands.SyncTracks(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if !res.FromCache {
		t.Fatalf("result = %+v, want FromCache", res)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("sync blocked for %v", elapsed)
	}
}

func TestSyncAllContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	f.client.categories = domain.CompleteSnapshot([]domain.Category{{ID: "c1", Title: "Sleep"}})
	f.client.setTracks(domain.CompleteSnapshot(tracks("t1", "A")))
	f.client.sectionErr = domain.ErrServerOffline

	results, err := f.commands.SyncAll(ctx)
	if !errors.Is(err, domain.ErrServerOffline) {
		t.Fatalf("err = %v, want joined server offline", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Added != 1 || results[1].Added != 1 {
		t.Fatalf("results = %+v", results)
	}
	if !results[2].FromCache {
		t.Fatalf("home sections result = %+v, want FromCache", results[2])
	}
}

func TestQueriesFallBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	f.cache.SetClock(func() time.Time { return now })

	f.client.setTracks(domain.CompleteSnapshot([]domain.Track{
		{ID: "t1", Title: "A", CategoryID: "c1"},
		{ID: "t2", Title: "B", CategoryID: "c2"},
	}))
	got, err := f.queries.Tracks(ctx)
	if err != nil || len(got) != 2 {
		t.Fatalf("cold read = %d rows, %v", len(got), err)
	}

	// Offline with an expired cache: stale data is served.
	f.client.setErr(domain.ErrServerOffline)
	now = now.Add(24 * time.Hour)
	got, err = f.queries.Tracks(ctx)
	if err != nil || len(got) != 2 {
		t.Fatalf("stale read = %d rows, %v", len(got), err)
	}

	byCat, err := f.queries.TracksByCategory(ctx, "c2")
	if err != nil || len(byCat) != 1 || byCat[0].ID != "t2" {
		t.Fatalf("by category = %+v, %v", byCat, err)
	}

	// Offline with no cache at all: store rows are served.
	f.cache.ClearAll(ctx)
	got, err = f.queries.Tracks(ctx)
	if err != nil || len(got) != 2 {
		t.Fatalf("store read = %d rows, %v", len(got), err)
	}

	tr, err := f.queries.Track(ctx, "t1")
	if err != nil || tr.Title != "A" {
		t.Fatalf("track = %+v, %v", tr, err)
	}
	if _, err := f.queries.Track(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing track err = %v", err)
	}
}

func TestQueriesNoDataAnywhere(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.client.setErr(domain.ErrServerOffline)

	if _, err := f.queries.Categories(ctx); !errors.Is(err, domain.ErrNoCachedData) {
		t.Fatalf("categories err = %v, want no cached data", err)
	}
	if _, err := f.queries.HomeSections(ctx); !errors.Is(err, domain.ErrNoCachedData) {
		t.Fatalf("home sections err = %v, want no cached data", err)
	}
}

func TestHomeSectionsAreCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.client.sections = []domain.HomeSection{{ID: "h1", Title: "Featured", ItemIDs: []string{"t1"}}}

	got, err := f.queries.HomeSections(ctx)
	if err != nil || len(got) != 1 || got[0].ItemIDs[0] != "t1" {
		t.Fatalf("home sections = %+v, %v", got, err)
	}

	f.client.setErr(domain.ErrServerOffline)
	got, err = f.queries.HomeSections(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("cached home sections = %+v, %v", got, err)
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyFullReplace, false},
		{"full", StrategyFullReplace, false},
		{"HASH", StrategyHashDiff, false},
		{"diff", StrategyFullReplace, true},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseStrategy(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestTrackSyncsColdCatalog(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.client.setTracks(domain.CompleteSnapshot([]domain.Track{{ID: "t1", Title: "A"}}))

	tr, err := f.queries.Track(ctx, "t1")
	if err != nil || tr.Title != "A" {
		t.Fatalf("track = %+v, %v", tr, err)
	}
	if _, err := f.store.Track(ctx, "t1"); err != nil {
		t.Fatalf("lookup did not sync into the store: %v", err)
	}
}
