package domain

import "context"

// CatalogClient fetches full remote snapshots (implemented by mediaserver.Client).
// A non-empty etag is sent as If-None-Match; a matching server answers with ErrNotModified.
type CatalogClient interface {
	FetchCategories(ctx context.Context, etag string) (Snapshot[Category], error)
	FetchTracks(ctx context.Context, etag string) (Snapshot[Track], error)
	FetchHomeSections(ctx context.Context, etag string) ([]HomeSection, string, error)
}

// TransferFunc receives (bytesWritten, totalBytes) during a transfer.
// totalBytes is -1 when the server did not announce a length.
type TransferFunc func(written, total int64)

// Transferer streams a remote URL to a local file.
// When offset > 0 the transfer appends to dest from that byte; implementations
// that cannot resume must truncate dest and start over, reporting written from 0.
// Cancellation is cooperative through ctx.
type Transferer interface {
	Transfer(ctx context.Context, url, dest string, offset int64, progress TransferFunc) (int64, error)
}

