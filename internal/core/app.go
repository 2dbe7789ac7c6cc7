// Package core wires every component into one App. Construction is explicit:
// each dependency is built here and handed to its consumers, nothing is global.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/mmcdole/lull/internal/cache"
	"github.com/mmcdole/lull/internal/config"
	"github.com/mmcdole/lull/internal/connectivity"
	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/download"
	"github.com/mmcdole/lull/internal/library"
	"github.com/mmcdole/lull/internal/mediaserver"
	"github.com/mmcdole/lull/internal/metrics"
	"github.com/mmcdole/lull/internal/netpolicy"
	"github.com/mmcdole/lull/internal/player"
	"github.com/mmcdole/lull/internal/search"
	"github.com/mmcdole/lull/internal/settings"
	"github.com/mmcdole/lull/internal/store"
	"github.com/mmcdole/lull/internal/transfer"
)

const settingsFile = "settings.db"

// Launcher starts playback of a URL
type Launcher interface {
	Launch(url string) error
}

// Options overrides collaborators. Zero values build the real ones.
type Options struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Observer domain.SyncObserver

	Catalog    domain.CatalogClient
	Transferer domain.Transferer
	Launcher   Launcher

	// InMemory keeps the catalog and settings out of the data directory.
	InMemory bool
}

// App is the assembled engine.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	Store        *store.SQLiteStore
	Settings     *settings.Store
	Cache        *cache.Cache
	Commands     *library.Commands
	Queries      *library.Queries
	Connectivity *connectivity.Monitor
	Prober       *connectivity.Prober // nil without network.probe_url
	Policy       *netpolicy.Policy
	Downloads    *download.Engine
	Search       *search.Service
	Player       Launcher
}

// New builds the App and repairs download records left by a previous run.
func New(ctx context.Context, cfg *config.Config, opts Options) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	a := &App{Config: cfg, Logger: logger, Metrics: m}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	settingsPath, storePath := "", store.MemoryPath
	if !opts.InMemory {
		settingsPath = filepath.Join(cfg.Storage.DataDir, settingsFile)
		storePath = store.PathFor(cfg.Storage.DataDir, cfg.Server.URL)
	}

	if a.Settings, err = settings.Open(settingsPath, logger); err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	if a.Store, err = store.Open(storePath); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	logger.Info("opened local store", "path", storePath)

	a.Cache = cache.New(a.Store, cache.Config{DefaultTTL: cfg.Cache.DefaultTTL, TTLs: cfg.Cache.TTLs}, m, logger)

	client := opts.Catalog
	if client == nil {
		clientID, err := a.Settings.ClientID()
		if err != nil {
			return nil, fmt.Errorf("client id: %w", err)
		}
		client = mediaserver.NewClient(cfg.Server.URL, cfg.Server.Token, clientID, logger)
	}

	strategy, err := library.ParseStrategy(cfg.Sync.Strategy)
	if err != nil {
		return nil, err
	}
	deps := library.Deps{
		Client:   client,
		Store:    a.Store,
		Cache:    a.Cache,
		Observer: opts.Observer,
		Metrics:  m,
		Logger:   logger,
	}
	a.Commands = library.NewCommands(deps, library.Config{
		Timeout:          cfg.Sync.Timeout,
		Strategy:         strategy,
		MinSnapshotRatio: cfg.Sync.MinSnapshotRatio,
	})
	a.Queries = library.NewQueries(deps, a.Commands)

	initial := domain.ConnectivityLocal
	if cfg.Network.AssumeMetered {
		initial = domain.ConnectivityMetered
	}
	a.Connectivity = connectivity.NewMonitor(initial, logger)
	if cfg.Network.ProbeURL != "" {
		a.Prober = connectivity.NewProber(cfg.Network.ProbeURL, cfg.Network.ProbeInterval, cfg.Network.AssumeMetered, a.Connectivity, logger)
	}
	a.Policy = netpolicy.New(a.Settings, a.Connectivity, m, logger)

	tr := opts.Transferer
	if tr == nil {
		tr = transfer.New(nil, transfer.DefaultRetryPolicy, logger)
	}
	a.Downloads, err = download.New(a.Store, tr, a.Policy, download.Config{
		Dir:              cfg.DownloadDir(),
		ProgressInterval: cfg.Download.ProgressInterval,
	}, m, logger)
	if err != nil {
		return nil, err
	}
	if _, err := a.Downloads.Restore(ctx); err != nil {
		logger.Warn("failed to restore downloads", "error", err)
	}

	a.Search = search.NewService(a.Store, logger)
	a.Player = opts.Launcher
	if a.Player == nil {
		a.Player = player.NewLauncher(cfg.Player.Command, cfg.Player.Args, logger)
	}
	return a, nil
}

// Close stops active downloads and closes storage.
func (a *App) Close() error {
	var errs []error
	if a.Downloads != nil {
		errs = append(errs, a.Downloads.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Settings != nil {
		errs = append(errs, a.Settings.Close())
	}
	return errors.Join(errs...)
}

// Run probes connectivity until ctx ends. It returns at once without a probe URL.
func (a *App) Run(ctx context.Context) {
	if a.Prober == nil {
		return
	}
	a.Prober.Run(ctx)
}

// Download resolves a track through the cache-first reads and downloads it.
func (a *App) Download(ctx context.Context, trackID string) error {
	track, err := a.Queries.Track(ctx, trackID)
	if err != nil {
		return fmt.Errorf("find track %s: %w", trackID, err)
	}
	return a.Downloads.DownloadTrack(ctx, track)
}

// Play launches a track: the local file when downloaded, otherwise the remote
// stream if the network policy allows streaming. It returns the URL handed to
// the player.
func (a *App) Play(ctx context.Context, trackID string) (string, error) {
	track, err := a.Queries.Track(ctx, trackID)
	if err != nil {
		return "", fmt.Errorf("find track %s: %w", trackID, err)
	}
	url := a.Downloads.PlayableURL(ctx, track)
	if url == track.MediaURL {
		if err := a.Policy.CanStream().Err("stream"); err != nil {
			return "", err
		}
	}
	if err := a.Player.Launch(url); err != nil {
		return "", err
	}
	a.Logger.Info("playback started", "trackID", trackID, "local", url != track.MediaURL)
	return url, nil
}

// ClearCache drops expired cache rows, or every row when expiredOnly is false.
// It returns the number of rows removed when known.
func (a *App) ClearCache(ctx context.Context, expiredOnly bool) int {
	if expiredOnly {
		return a.Cache.ClearExpired(ctx)
	}
	a.Cache.ClearAll(ctx)
	return -1
}
