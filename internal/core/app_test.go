package core

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/lull/internal/config"
	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/log"
	"github.com/mmcdole/lull/internal/search"
)

var (
	audio     = bytes.Repeat([]byte{0xff, 0xfb}, 10000)
	fixedTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

func catalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/categories", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"c1","title":"Sleep","sortOrder":1}]`))
	})
	mux.HandleFunc("/v1/tracks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"tracks-1"`)
		w.Write([]byte(`[{"id":"t1","title":"Rain on Leaves","artist":"Mira","categoryId":"c1","duration":600,"mediaUrl":"/media/t1.mp3"}]`))
	})
	mux.HandleFunc("/v1/home", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"s1","title":"Tonight","itemIds":["t1"]}]`))
	})
	mux.HandleFunc("/media/t1.mp3", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "t1.mp3", fixedTime, bytes.NewReader(audio))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fakeLauncher struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeLauncher) Launch(url string) error {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	return nil
}

func newApp(t *testing.T, serverURL string) (*App, *fakeLauncher) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.URL = serverURL
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.DownloadDir = filepath.Join(cfg.Storage.DataDir, "downloads")

	launcher := &fakeLauncher{}
	app, err := New(context.Background(), cfg, Options{
		Logger:   log.NullLogger(),
		Launcher: launcher,
		InMemory: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app, launcher
}

func TestSyncDownloadPlay(t *testing.T) {
	srv := catalogServer(t)
	app, launcher := newApp(t, srv.URL)
	ctx := context.Background()

	results, err := app.Commands.SyncAll(ctx)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	for _, r := range results {
		if r.Entity == domain.EntityTracks && r.Added != 1 {
			t.Fatalf("tracks result = %+v", r)
		}
	}

	tracks, err := app.Queries.Tracks(ctx)
	if err != nil || len(tracks) != 1 {
		t.Fatalf("Tracks = %v, %v", tracks, err)
	}
	sections, err := app.Queries.HomeSections(ctx)
	if err != nil || len(sections) != 1 {
		t.Fatalf("HomeSections = %v, %v", sections, err)
	}

	url, err := app.Play(ctx, "t1")
	if err != nil {
		t.Fatalf("Play (stream): %v", err)
	}
	if url != srv.URL+"/media/t1.mp3" {
		t.Fatalf("stream url = %q", url)
	}

	if err := app.Download(ctx, "t1"); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !app.Downloads.IsDownloaded(ctx, "t1") {
		t.Fatal("IsDownloaded = false")
	}
	url, err = app.Play(ctx, "t1")
	if err != nil || !strings.HasPrefix(url, "file://") {
		t.Fatalf("Play (local) = %q, %v", url, err)
	}
	if len(launcher.urls) != 2 {
		t.Fatalf("launches = %v", launcher.urls)
	}

	results2, err := app.Search.Tracks(ctx, "rain", search.Options{})
	if err != nil || len(results2) != 1 {
		t.Fatalf("search = %v, %v", results2, err)
	}
}

func TestOfflineModeBlocksNetwork(t *testing.T) {
	srv := catalogServer(t)
	app, launcher := newApp(t, srv.URL)
	ctx := context.Background()

	if _, err := app.Commands.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}
	offline := domain.DefaultNetworkSettings()
	offline.Mode = domain.NetworkModeOffline
	if err := app.Settings.SaveNetworkSettings(offline); err != nil {
		t.Fatal(err)
	}

	err := app.Download(ctx, "t1")
	var pe *domain.PolicyError
	if !errors.As(err, &pe) || pe.Reason != domain.ReasonOfflineMode {
		t.Fatalf("Download err = %v, want offline policy error", err)
	}
	if _, err := app.Play(ctx, "t1"); !domain.IsPolicyRejection(err) {
		t.Fatalf("Play err = %v, want policy rejection", err)
	}
	if len(launcher.urls) != 0 {
		t.Fatalf("player launched: %v", launcher.urls)
	}
}

func TestReadsSurviveServerLoss(t *testing.T) {
	srv := catalogServer(t)
	app, _ := newApp(t, srv.URL)
	ctx := context.Background()

	if _, err := app.Commands.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}
	srv.Close()
	app.ClearCache(ctx, false)

	tracks, err := app.Queries.Tracks(ctx)
	if err != nil || len(tracks) != 1 {
		t.Fatalf("Tracks after server loss = %v, %v", tracks, err)
	}
	track, err := app.Queries.Track(ctx, "t1")
	if err != nil || track.Title != "Rain on Leaves" {
		t.Fatalf("Track = %+v, %v", track, err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Sync.Strategy = "newest"
	if _, err := New(context.Background(), cfg, Options{InMemory: true}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := New(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}
