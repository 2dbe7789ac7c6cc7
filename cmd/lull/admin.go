package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/mmcdole/lull/internal/domain"
)

func init() {
	register(command{name: "settings", usage: "settings [-mode m] [-quality q] [-cellular]", summary: "show or change network settings", needsApp: true, run: runSettings})
	register(command{name: "cache", usage: "cache clear [-expired]", summary: "clear cached catalog responses", needsApp: true, run: runCache})
	register(command{name: "serve", usage: "serve [-addr a] [-sync-interval d]", summary: "serve metrics and download control, probe connectivity", needsApp: true, run: runServe})
	register(command{name: "pause", usage: "pause [-addr a] <track-id>", summary: "pause a download running in \"lull serve\"", run: runPause})
}

func runSettings(_ context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("settings", flag.ContinueOnError)
	mode := fs.String("mode", "", "network mode: streaming, wifi_only or offline")
	quality := fs.String("quality", "", "streaming quality: auto, high or low")
	cellular := fs.Bool("cellular", false, "allow downloads over metered connections")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ns := e.app.Settings.NetworkSettings()
	changed := false
	fs.Visit(func(f *flag.Flag) {
		changed = true
		switch f.Name {
		case "mode":
			ns.Mode = domain.NetworkMode(*mode)
		case "quality":
			ns.StreamingQuality = domain.StreamingQuality(*quality)
		case "cellular":
			ns.AllowCellularDownload = *cellular
		}
	})
	if changed {
		if err := e.app.Settings.SaveNetworkSettings(ns); err != nil {
			return err
		}
	}

	conn := e.app.Connectivity.Current()
	fmt.Fprintf(e.out, "mode:               %s\n", ns.Mode)
	fmt.Fprintf(e.out, "streaming quality:  %s\n", ns.StreamingQuality)
	fmt.Fprintf(e.out, "cellular downloads: %t\n", ns.AllowCellularDownload)
	fmt.Fprintf(e.out, "connectivity:       %s\n", conn)
	fmt.Fprintf(e.out, "can stream:         %s\n", decision(e.app.Policy.CanStream()))
	fmt.Fprintf(e.out, "can download:       %s\n", decision(e.app.Policy.CanDownload()))
	fmt.Fprintf(e.out, "recommended:        %s\n", e.app.Policy.RecommendedQuality())
	return nil
}

func decision(d domain.Decision) string {
	if d.Allowed {
		return "yes"
	}
	return "no (" + d.Reason.Message() + ")"
}

func runCache(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 || args[0] != "clear" {
		return fmt.Errorf("usage: lull cache clear [-expired]")
	}
	fs := flag.NewFlagSet("cache clear", flag.ContinueOnError)
	expired := fs.Bool("expired", false, "only remove expired entries")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	n := e.app.ClearCache(ctx, *expired)
	if n >= 0 {
		fmt.Fprintf(e.out, "Removed %d expired cache entries\n", n)
	} else {
		fmt.Fprintln(e.out, "Cleared the cache")
	}
	return nil
}

func runServe(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	interval := fs.Duration("sync-interval", 0, "resync the catalog this often (0 disables)")
	addr := fs.String("addr", e.cfg.Metrics.Addr, "metrics listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           newControlServer(ctx, e.app, e.logger).routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go e.app.Run(ctx)
	if *interval > 0 {
		go resyncLoop(ctx, e, *interval)
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("serving metrics", "addr", *addr)
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(e.out, "Serving on http://%s (metrics at /metrics, Ctrl+C to stop)\n", *addr)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func resyncLoop(ctx context.Context, e *env, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.app.Commands.SyncAll(ctx); err != nil {
				e.logger.Warn("periodic sync failed", "error", err)
			}
		}
	}
}

func runPause(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("pause", flag.ContinueOnError)
	addr := fs.String("addr", e.cfg.Metrics.Addr, "address of the running server")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: lull pause <track-id>")
	}
	if err := pauseRemote(ctx, *addr, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "Paused %s\n", fs.Arg(0))
	return nil
}
