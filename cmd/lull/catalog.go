package main

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/search"
	"github.com/mmcdole/lull/internal/tui"
)

func init() {
	register(command{name: "sync", usage: "sync", summary: "refresh the catalog from the server", needsApp: true, run: runSync})
	register(command{name: "categories", usage: "categories", summary: "list categories", needsApp: true, run: runCategories})
	register(command{name: "tracks", usage: "tracks [-category id] [-limit n] [query]", summary: "list or search tracks", needsApp: true, run: runTracks})
	register(command{name: "home", usage: "home", summary: "show home sections", needsApp: true, run: runHome})
	register(command{name: "play", usage: "play <track-id>", summary: "play a track, offline copy first", needsApp: true, run: runPlay})
}

func runSync(ctx context.Context, e *env, _ []string) error {
	if e.interactive {
		return tui.Run(ctx, tui.Options{
			Title: "Syncing " + e.cfg.Server.URL,
			Sync:  e.syncCh,
			Job: func(ctx context.Context) ([]domain.DownloadProgress, error) {
				_, err := e.app.Commands.SyncAll(ctx)
				return nil, err
			},
		})
	}

	results, err := e.app.Commands.SyncAll(ctx)
	for _, r := range results {
		switch {
		case r.FromCache:
			fmt.Fprintf(e.out, "%-14s unreachable, serving cache\n", r.Entity)
		case r.NotModified:
			fmt.Fprintf(e.out, "%-14s not modified\n", r.Entity)
		default:
			line := fmt.Sprintf("%-14s +%d ~%d -%d", r.Entity, r.Added, r.Updated, r.Deleted)
			if r.UpdateOnly {
				line += " (partial snapshot, deletes skipped)"
			}
			fmt.Fprintln(e.out, line)
		}
	}
	return err
}

func runCategories(ctx context.Context, e *env, _ []string) error {
	cats, err := e.app.Queries.Categories(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tDESCRIPTION")
	for _, c := range cats {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, c.Title, c.Description)
	}
	return w.Flush()
}

func runTracks(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("tracks", flag.ContinueOnError)
	category := fs.String("category", "", "only tracks in this category")
	limit := fs.Int("limit", 0, "maximum results (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := strings.Join(fs.Args(), " ")

	var tracks []domain.Track
	if query != "" {
		results, err := e.app.Search.Tracks(ctx, query, search.Options{CategoryID: *category, Limit: *limit})
		if err != nil {
			return err
		}
		for _, r := range results {
			tracks = append(tracks, r.Track)
		}
	} else {
		var err error
		if *category != "" {
			tracks, err = e.app.Queries.TracksByCategory(ctx, *category)
		} else {
			tracks, err = e.app.Queries.Tracks(ctx)
		}
		if err != nil {
			return err
		}
		if *limit > 0 && len(tracks) > *limit {
			tracks = tracks[:*limit]
		}
	}

	w := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tARTIST\tLENGTH\tOFFLINE")
	for _, t := range tracks {
		offline := ""
		if e.app.Downloads.IsDownloaded(ctx, t.ID) {
			offline = "✓"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Subtitle(), t.FormattedDuration(), offline)
	}
	return w.Flush()
}

func runHome(ctx context.Context, e *env, _ []string) error {
	sections, err := e.app.Queries.HomeSections(ctx)
	if err != nil {
		return err
	}
	for i, s := range sections {
		if i > 0 {
			fmt.Fprintln(e.out)
		}
		fmt.Fprintf(e.out, "%s\n", s.Title)
		for _, id := range s.ItemIDs {
			title := id
			if t, err := e.app.Queries.Track(ctx, id); err == nil {
				title = t.Title
			}
			fmt.Fprintf(e.out, "  %-12s %s\n", id, title)
		}
	}
	return nil
}

func runPlay(ctx context.Context, e *env, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: lull play <track-id>")
	}
	url, err := e.app.Play(ctx, args[0])
	if err != nil {
		return describe(err)
	}
	quality := e.app.Policy.RecommendedQuality()
	if strings.HasPrefix(url, "file://") {
		fmt.Fprintf(e.out, "Playing offline copy: %s\n", url)
	} else {
		fmt.Fprintf(e.out, "Streaming (%s quality): %s\n", quality, url)
	}
	return nil
}
