package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/download"
	"github.com/mmcdole/lull/internal/tui"
)

// maxParallelDownloads bounds concurrent transfers started by one command
const maxParallelDownloads = 3

func init() {
	register(command{name: "download", usage: "download <track-id>...", summary: "download tracks for offline use", needsApp: true, run: runDownload})
	register(command{name: "downloads", usage: "downloads", summary: "list downloads and disk usage", needsApp: true, run: runDownloads})
	register(command{name: "cancel", usage: "cancel <track-id>", summary: "discard an unfinished download", needsApp: true, run: runCancel})
	register(command{name: "delete", usage: "delete <track-id>", summary: "delete a downloaded track", needsApp: true, run: runDelete})
}

func runDownload(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: lull download <track-id>...")
	}
	tracks := make([]domain.Track, 0, len(args))
	for _, id := range args {
		t, err := e.app.Queries.Track(ctx, id)
		if err != nil {
			return fmt.Errorf("find track %s: %w", id, err)
		}
		tracks = append(tracks, t)
	}

	job := func(ctx context.Context) ([]domain.DownloadProgress, error) {
		return downloadAll(ctx, e, tracks)
	}

	if e.interactive {
		ch := make(chan domain.DownloadProgress, 64)
		unsubscribe := e.app.Downloads.AddProgressListener(tui.ChannelListener(ch))
		defer unsubscribe()
		return tui.Run(ctx, tui.Options{
			Title:     fmt.Sprintf("Downloading %d track(s)", len(tracks)),
			Job:       job,
			Downloads: ch,
			Tracks:    tracks,
			UsedBytes: func() int64 {
				n, _ := e.app.Downloads.UsedBytes(context.Background())
				return n
			},
		})
	}

	final, err := job(ctx)
	titles := make(map[string]string, len(tracks))
	for _, t := range tracks {
		titles[t.ID] = t.Title
	}
	for _, p := range final {
		line := fmt.Sprintf("%-10s %-12s %s", p.Status, p.TrackID, titles[p.TrackID])
		if p.Error != "" {
			line += ": " + p.Error
		}
		fmt.Fprintln(e.out, line)
	}
	return err
}

// downloadAll runs the downloads in parallel and returns each track's final
// state. Paused and already-downloaded tracks are not errors.
func downloadAll(ctx context.Context, e *env, tracks []domain.Track) ([]domain.DownloadProgress, error) {
	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	final := make([]domain.DownloadProgress, len(tracks))
	g.SetLimit(maxParallelDownloads)

	for i, t := range tracks {
		g.Go(func() error {
			err := e.app.Downloads.DownloadTrack(ctx, t)
			final[i] = finalState(e, t.ID, err)
			switch {
			case err == nil,
				errors.Is(err, domain.ErrAlreadyDownloaded),
				errors.Is(err, download.ErrPaused):
			default:
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", t.ID, describe(err)))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return final, errors.Join(errs...)
}

func finalState(e *env, trackID string, err error) domain.DownloadProgress {
	rec, rerr := e.app.Downloads.Record(context.Background(), trackID)
	if rerr != nil {
		p := domain.DownloadProgress{TrackID: trackID, Status: domain.StatusFailed}
		if errors.Is(err, download.ErrCanceled) {
			p.Removed = true
		} else if err != nil {
			p.Error = describe(err).Error()
		}
		return p
	}
	p := domain.DownloadProgress{
		TrackID:  trackID,
		Progress: rec.Progress,
		Status:   rec.Status,
		Error:    rec.Error,
	}
	if p.Error == "" && err != nil && domain.IsPolicyRejection(err) {
		p.Error = describe(err).Error()
	}
	return p
}

func runDownloads(ctx context.Context, e *env, _ []string) error {
	recs, err := e.app.Downloads.Downloads(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRACK\tSTATUS\tPROGRESS\tSIZE\tCOMPLETED")
	for _, r := range recs {
		size := humanize.Bytes(uint64(r.DownloadedSize))
		if r.FileSize > 0 {
			size = humanize.Bytes(uint64(r.FileSize))
		}
		completed := ""
		if !r.CompletedAt.IsZero() {
			completed = humanize.Time(r.CompletedAt)
		}
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\n", r.TrackID, r.Status, r.Progress, size, completed)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	used, err := e.app.Downloads.UsedBytes(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "\n%d download(s), %s on disk\n", len(recs), humanize.Bytes(uint64(used)))
	return nil
}

func runCancel(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lull cancel <track-id>")
	}
	if err := e.app.Downloads.CancelDownload(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Canceled %s\n", args[0])
	return nil
}

func runDelete(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lull delete <track-id>")
	}
	if err := e.app.Downloads.DeleteDownload(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Deleted %s\n", args[0])
	return nil
}

// describe turns a policy refusal into its display message
func describe(err error) error {
	var pe *domain.PolicyError
	if errors.As(err, &pe) {
		return fmt.Errorf("%s: %s", pe.Op, pe.Message())
	}
	return err
}
