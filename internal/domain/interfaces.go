package domain

import "context"

// LibraryQueries: cache-first reads of the catalog.
// They may hit the network when the cache is stale but never fail while any
// local copy exists.
type LibraryQueries interface {
	Categories(ctx context.Context) ([]Category, error)
	Tracks(ctx context.Context) ([]Track, error)
	TracksByCategory(ctx context.Context, categoryID string) ([]Track, error)
	Track(ctx context.Context, id string) (Track, error)
	HomeSections(ctx context.Context) ([]HomeSection, error)
}

// LibraryCommands: sync passes that mutate the local catalog.
type LibraryCommands interface {
	SyncCategories(ctx context.Context) (SyncResult, error)
	SyncTracks(ctx context.Context) (SyncResult, error)
	SyncHomeSections(ctx context.Context) (SyncResult, error)
	SyncAll(ctx context.Context) ([]SyncResult, error)
}

// ConnectivitySource reports the last known connectivity class.
type ConnectivitySource interface {
	Current() Connectivity
}

// SettingsSource reads the persisted network settings.
type SettingsSource interface {
	NetworkSettings() NetworkSettings
}

// DownloadAdmitter decides whether a download may start now.
type DownloadAdmitter interface {
	CanDownload() Decision
}
