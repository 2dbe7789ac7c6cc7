// Package download manages per-track media downloads: the status state
// machine, progress events, pause/resume, cancellation and self-healing of
// records whose files went missing.
//
// The engine owns its download directory. Nothing else creates, renames or
// deletes files there.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/metrics"
)

// DefaultProgressInterval is the spacing of progress events per track. It is
// also the smallest spacing New accepts.
const DefaultProgressInterval = time.Second

var (
	// ErrPaused is returned by DownloadTrack when the transfer was paused.
	ErrPaused = errors.New("download paused")
	// ErrCanceled is returned by DownloadTrack when the transfer was canceled.
	ErrCanceled = errors.New("download canceled")
	// ErrClosed is returned once the engine has been closed.
	ErrClosed = errors.New("download engine closed")
)

const missingFileError = "downloaded file is missing"

// Config configures the engine.
type Config struct {
	Dir              string
	ProgressInterval time.Duration
}

type job struct {
	cancel context.CancelCauseFunc
	done   chan struct{}
}

// Engine runs downloads. At most one transfer per track is active at a time.
type Engine struct {
	store    domain.DownloadStore
	transfer domain.Transferer
	policy   domain.DownloadAdmitter
	cfg      Config
	hub      *hub
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*job
	closed bool
}

// New creates an engine writing under cfg.Dir. m may be nil.
func New(
	store domain.DownloadStore,
	transfer domain.Transferer,
	policy domain.DownloadAdmitter,
	cfg Config,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("download directory is required")
	}
	if cfg.ProgressInterval < DefaultProgressInterval {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}
	return &Engine{
		store:    store,
		transfer: transfer,
		policy:   policy,
		cfg:      cfg,
		hub:      newHub(logger),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		active:   make(map[string]*job),
	}, nil
}

// AddProgressListener subscribes fn to progress events and returns the
// function that unsubscribes it.
func (e *Engine) AddProgressListener(fn domain.ProgressListener) func() {
	return e.hub.add(fn)
}

// DownloadTrack downloads track and blocks until the transfer reaches a
// terminal state. It fails fast with domain.ErrAlreadyDownloading or
// domain.ErrAlreadyDownloaded, and with a *domain.PolicyError when the network
// policy refuses. A paused record resumes from its partial file.
//
// Canceling ctx pauses the download.
func (e *Engine) DownloadTrack(ctx context.Context, track domain.Track) error {
	if track.ID == "" {
		return errors.New("track id is required")
	}
	if track.MediaURL == "" {
		return fmt.Errorf("track %s has no media url", track.ID)
	}

	j, jobCtx, err := e.reserve(ctx, track.ID)
	if err != nil {
		return err
	}
	defer e.release(track.ID, j)

	// Record writes must land even after jobCtx is canceled.
	wctx := context.WithoutCancel(ctx)

	rec, exists, err := e.load(wctx, track.ID)
	if err != nil {
		return err
	}
	if exists && rec.Status == domain.StatusCompleted {
		if fileExists(rec.LocalPath) {
			return domain.ErrAlreadyDownloaded
		}
		rec = e.heal(wctx, rec)
	}

	if d := e.policy.CanDownload(); !d.Allowed {
		e.logger.Debug("download refused by network policy", "trackID", track.ID, "reason", d.Reason)
		return d.Err("download")
	}

	partial := PartialPath(e.cfg.Dir, track.ID)
	var offset int64
	switch {
	case !exists:
		rec = domain.DownloadRecord{TrackID: track.ID, Status: domain.StatusPending, CreatedAt: e.now()}
		if err := e.store.PutDownload(wctx, rec); err != nil {
			e.logger.Error("failed to create download record", "trackID", track.ID, "error", err)
			return fmt.Errorf("create download record: %w", err)
		}
		e.emit(rec)
		os.Remove(partial)
	case rec.Status == domain.StatusFailed:
		os.Remove(partial)
		rec.Progress, rec.DownloadedSize = 0, 0
	default:
		// paused, or pending/downloading left behind by a crash
		if fi, err := os.Stat(partial); err == nil {
			offset = fi.Size()
		} else {
			rec.Progress, rec.DownloadedSize = 0, 0
		}
	}
	if rec.Status != domain.StatusDownloading && !domain.CanTransition(rec.Status, domain.StatusDownloading) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, rec.Status, domain.StatusDownloading)
	}

	rec.Status = domain.StatusDownloading
	rec.DownloadedSize = offset
	rec.LocalPath = ""
	rec.CompletedAt = time.Time{}
	rec.Error = ""
	if err := e.store.PutDownload(wctx, rec); err != nil {
		os.Remove(partial)
		e.logger.Error("failed to record download start", "trackID", track.ID, "error", err)
		return fmt.Errorf("record download start: %w", err)
	}

	attempt := uuid.NewString()
	e.logger.Info("download started", "trackID", track.ID, "attempt", attempt, "offset", offset)
	e.metrics.DownloadStarted()

	tracker := &progressTracker{
		engine:  e,
		ctx:     wctx,
		cancel:  j.cancel,
		trackID: track.ID,
		limiter: rate.NewLimiter(rate.Every(e.cfg.ProgressInterval), 1),
		last:    rec.Progress,
		bytes:   offset,
	}
	tracker.limiter.Allow() // the start event below uses the first slot
	e.emit(rec)

	n, terr := e.transfer.Transfer(jobCtx, track.MediaURL, partial, offset, tracker.update)
	return e.finish(wctx, jobCtx, track, rec, tracker, attempt, n, terr)
}

func (e *Engine) finish(
	ctx, jobCtx context.Context,
	track domain.Track,
	rec domain.DownloadRecord,
	tracker *progressTracker,
	attempt string,
	written int64,
	terr error,
) error {
	partial := PartialPath(e.cfg.Dir, track.ID)

	if terr == nil && jobCtx.Err() == nil {
		final := FinalPath(e.cfg.Dir, track.ID, track.MediaURL)
		if err := os.Rename(partial, final); err != nil {
			return e.fail(ctx, rec, partial, attempt, fmt.Errorf("move download into place: %w", err))
		}
		fi, err := os.Stat(final)
		if err != nil {
			return e.fail(ctx, rec, final, attempt, fmt.Errorf("stat download: %w", err))
		}
		rec.Status = domain.StatusCompleted
		rec.Progress = 100
		rec.LocalPath = final
		rec.FileSize = fi.Size()
		rec.DownloadedSize = fi.Size()
		rec.CompletedAt = e.now()
		if err := e.store.PutDownload(ctx, rec); err != nil {
			e.logger.Error("failed to record completed download", "trackID", track.ID, "error", err)
			return e.fail(ctx, rec, final, attempt, fmt.Errorf("record completed download: %w", err))
		}
		e.metrics.DownloadFinished(string(domain.StatusCompleted))
		e.logger.Info("download completed", "trackID", track.ID, "attempt", attempt, "bytes", fi.Size())
		e.emit(rec)
		return nil
	}

	cause := context.Cause(jobCtx)
	switch {
	case errors.Is(cause, ErrCanceled):
		os.Remove(partial)
		e.metrics.DownloadFinished("canceled")
		e.logger.Info("download canceled", "trackID", track.ID, "attempt", attempt)
		return ErrCanceled

	case jobCtx.Err() != nil && isInterruption(cause):
		rec.Status = domain.StatusPaused
		rec.Progress = tracker.last
		if fi, err := os.Stat(partial); err == nil {
			rec.DownloadedSize = fi.Size()
		} else {
			rec.DownloadedSize, rec.Progress = 0, 0
		}
		if err := e.store.PutDownload(ctx, rec); err != nil {
			os.Remove(partial)
			e.logger.Error("failed to record paused download", "trackID", track.ID, "error", err)
			e.metrics.DownloadFinished(string(domain.StatusFailed))
			return fmt.Errorf("record paused download: %w", err)
		}
		e.metrics.DownloadFinished(string(domain.StatusPaused))
		e.logger.Info("download paused", "trackID", track.ID, "attempt", attempt, "bytes", rec.DownloadedSize)
		e.emit(rec)
		return ErrPaused

	case jobCtx.Err() != nil:
		return e.fail(ctx, rec, partial, attempt, cause)

	default:
		if terr == nil {
			terr = fmt.Errorf("transfer ended after %d bytes", written)
		}
		return e.fail(ctx, rec, partial, attempt, terr)
	}
}

// fail deletes the file at path and moves the record to failed.
func (e *Engine) fail(ctx context.Context, rec domain.DownloadRecord, path, attempt string, cause error) error {
	os.Remove(path)
	rec.Status = domain.StatusFailed
	rec.Progress = 0
	rec.DownloadedSize = 0
	rec.LocalPath = ""
	rec.CompletedAt = time.Time{}
	rec.Error = cause.Error()
	if err := e.store.PutDownload(ctx, rec); err != nil {
		e.logger.Error("failed to record failed download", "trackID", rec.TrackID, "error", err)
	}
	e.metrics.DownloadFinished(string(domain.StatusFailed))
	e.logger.Warn("download failed", "trackID", rec.TrackID, "attempt", attempt, "error", cause)
	e.emit(rec)
	return fmt.Errorf("download %s: %w", rec.TrackID, cause)
}

// isInterruption reports whether a cancel cause means "stop but keep the partial file".
func isInterruption(cause error) bool {
	return errors.Is(cause, ErrPaused) ||
		errors.Is(cause, ErrClosed) ||
		errors.Is(cause, context.Canceled) ||
		errors.Is(cause, context.DeadlineExceeded)
}

// PauseDownload stops an active transfer and keeps its partial file.
// It returns once the record is paused.
func (e *Engine) PauseDownload(ctx context.Context, trackID string) error {
	e.mu.Lock()
	j := e.active[trackID]
	e.mu.Unlock()
	if j == nil {
		return domain.ErrNotDownloading
	}
	j.cancel(ErrPaused)
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelDownload aborts any active transfer and removes the partial file, any
// completed file and the record. Files are gone when it returns.
func (e *Engine) CancelDownload(ctx context.Context, trackID string) error {
	if err := e.purge(ctx, trackID); err != nil {
		return err
	}
	e.logger.Info("download removed", "trackID", trackID, "op", "cancel")
	return nil
}

// DeleteDownload removes a downloaded file and its record.
func (e *Engine) DeleteDownload(ctx context.Context, trackID string) error {
	if err := e.purge(ctx, trackID); err != nil {
		return err
	}
	e.logger.Info("download removed", "trackID", trackID, "op", "delete")
	return nil
}

func (e *Engine) purge(ctx context.Context, trackID string) error {
	for {
		e.mu.Lock()
		j := e.active[trackID]
		if j == nil {
			err := e.removeLocked(ctx, trackID)
			e.mu.Unlock()
			return err
		}
		e.mu.Unlock()

		j.cancel(ErrCanceled)
		select {
		case <-j.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// removeLocked deletes files and record for a track with no active job.
func (e *Engine) removeLocked(ctx context.Context, trackID string) error {
	rec, exists, err := e.load(ctx, trackID)
	if err != nil {
		return err
	}
	os.Remove(PartialPath(e.cfg.Dir, trackID))
	if exists && rec.LocalPath != "" {
		if err := os.Remove(rec.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Error("failed to remove download file", "trackID", trackID, "path", rec.LocalPath, "error", err)
			return fmt.Errorf("remove %s: %w", rec.LocalPath, err)
		}
	}
	if !exists {
		return nil
	}
	if err := e.store.DeleteDownload(ctx, trackID); err != nil {
		e.logger.Error("failed to delete download record", "trackID", trackID, "error", err)
		return fmt.Errorf("delete download record: %w", err)
	}
	e.hub.publish(domain.DownloadProgress{TrackID: trackID, Removed: true})
	return nil
}

// IsDownloaded reports whether the track has a completed download whose file exists.
func (e *Engine) IsDownloaded(ctx context.Context, trackID string) bool {
	rec, err := e.Record(ctx, trackID)
	return err == nil && rec.Status == domain.StatusCompleted
}

// PlayableURL returns a file:// URI for a completed download, otherwise the
// remote media URL.
func (e *Engine) PlayableURL(ctx context.Context, track domain.Track) string {
	rec, err := e.Record(ctx, track.ID)
	if err == nil && rec.Status == domain.StatusCompleted {
		return fileURI(rec.LocalPath)
	}
	return track.MediaURL
}

// Record returns the download record for trackID, self-healing a completed
// record whose file is missing.
func (e *Engine) Record(ctx context.Context, trackID string) (domain.DownloadRecord, error) {
	rec, err := e.store.GetDownload(ctx, trackID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Error("failed to read download record", "trackID", trackID, "error", err)
		}
		return domain.DownloadRecord{}, err
	}
	return e.check(ctx, rec), nil
}

// Downloads lists every record, self-healing as it goes.
func (e *Engine) Downloads(ctx context.Context) ([]domain.DownloadRecord, error) {
	recs, err := e.store.ListDownloads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	for i := range recs {
		recs[i] = e.check(ctx, recs[i])
	}
	return recs, nil
}

// UsedBytes sums the size of completed downloads.
func (e *Engine) UsedBytes(ctx context.Context) (int64, error) {
	recs, err := e.Downloads(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range recs {
		if r.Status == domain.StatusCompleted {
			total += r.FileSize
		}
	}
	return total, nil
}

// Restore repairs records left behind by an unclean shutdown: rows still
// pending or downloading become paused, and completed rows with missing files
// become failed. It returns the number of rows changed.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	recs, err := e.store.ListDownloads(ctx)
	if err != nil {
		return 0, fmt.Errorf("list downloads: %w", err)
	}
	changed := 0
	for _, rec := range recs {
		switch {
		case !rec.Status.Terminal():
			e.mu.Lock()
			_, busy := e.active[rec.TrackID]
			e.mu.Unlock()
			if busy {
				continue
			}
			rec.Status = domain.StatusPaused
			if fi, err := os.Stat(PartialPath(e.cfg.Dir, rec.TrackID)); err == nil {
				rec.DownloadedSize = fi.Size()
			} else {
				rec.DownloadedSize, rec.Progress = 0, 0
			}
			if err := e.store.PutDownload(ctx, rec); err != nil {
				e.logger.Error("failed to restore download", "trackID", rec.TrackID, "error", err)
				continue
			}
			changed++
		case rec.Status == domain.StatusCompleted:
			if e.check(ctx, rec).Status != domain.StatusCompleted {
				changed++
			}
		}
	}
	if changed > 0 {
		e.logger.Info("restored interrupted downloads", "count", changed)
	}
	return changed, nil
}

// Close pauses every active transfer, waits for them and stops listener delivery.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	jobs := make([]*job, 0, len(e.active))
	for _, j := range e.active {
		jobs = append(jobs, j)
	}
	e.mu.Unlock()

	for _, j := range jobs {
		j.cancel(ErrClosed)
	}
	for _, j := range jobs {
		<-j.done
	}
	e.hub.close()
	return nil
}

func (e *Engine) reserve(ctx context.Context, trackID string) (*job, context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, nil, ErrClosed
	}
	if _, ok := e.active[trackID]; ok {
		return nil, nil, domain.ErrAlreadyDownloading
	}
	jobCtx, cancel := context.WithCancelCause(ctx)
	j := &job{cancel: cancel, done: make(chan struct{})}
	e.active[trackID] = j
	return j, jobCtx, nil
}

func (e *Engine) release(trackID string, j *job) {
	e.mu.Lock()
	delete(e.active, trackID)
	e.mu.Unlock()
	j.cancel(nil)
	close(j.done)
}

func (e *Engine) load(ctx context.Context, trackID string) (domain.DownloadRecord, bool, error) {
	rec, err := e.store.GetDownload(ctx, trackID)
	if err == nil {
		return rec, true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return domain.DownloadRecord{}, false, nil
	}
	e.logger.Error("failed to read download record", "trackID", trackID, "error", err)
	return domain.DownloadRecord{}, false, fmt.Errorf("read download record: %w", err)
}

// check demotes a completed record whose file is gone.
func (e *Engine) check(ctx context.Context, rec domain.DownloadRecord) domain.DownloadRecord {
	if rec.Status != domain.StatusCompleted || fileExists(rec.LocalPath) {
		return rec
	}
	return e.heal(ctx, rec)
}

func (e *Engine) heal(ctx context.Context, rec domain.DownloadRecord) domain.DownloadRecord {
	e.logger.Warn("completed download has no file, marking failed", "trackID", rec.TrackID, "path", rec.LocalPath)
	rec.Status = domain.StatusFailed
	rec.Progress = 0
	rec.DownloadedSize = 0
	rec.LocalPath = ""
	rec.CompletedAt = time.Time{}
	rec.Error = missingFileError
	if err := e.store.PutDownload(ctx, rec); err != nil {
		e.logger.Error("failed to record healed download", "trackID", rec.TrackID, "error", err)
	}
	e.emit(rec)
	return rec
}

func (e *Engine) emit(rec domain.DownloadRecord) {
	e.hub.publish(domain.DownloadProgress{
		TrackID:  rec.TrackID,
		Progress: rec.Progress,
		Status:   rec.Status,
		Error:    rec.Error,
	})
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// progressTracker turns transfer callbacks into throttled record updates and events.
type progressTracker struct {
	engine  *Engine
	ctx     context.Context
	cancel  context.CancelCauseFunc
	trackID string
	limiter *rate.Limiter
	last    int
	bytes   int64
	failed  bool
}

func (t *progressTracker) update(written, total int64) {
	e := t.engine
	if written > t.bytes {
		e.metrics.BytesTransferred(written - t.bytes)
	}
	t.bytes = written
	if t.failed {
		return
	}

	pct := domain.Percent(written, total)
	if pct < t.last {
		pct = t.last
	}
	if pct == 100 && t.last == 100 {
		return
	}
	if pct < 100 && !t.limiter.Allow() {
		return
	}
	t.last = pct

	size := total
	if size < 0 {
		size = 0
	}
	if err := e.store.UpdateDownloadProgress(t.ctx, t.trackID, pct, written, size); err != nil {
		e.logger.Error("failed to record download progress", "trackID", t.trackID, "error", err)
		t.failed = true
		t.cancel(fmt.Errorf("record progress: %w", err))
		return
	}
	e.hub.publish(domain.DownloadProgress{TrackID: t.trackID, Progress: pct, Status: domain.StatusDownloading})
}
