package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/lull/internal/core"
	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/download"
)

// controlServer exposes metrics and download control for "lull serve".
// Downloads it starts run under ctx, so they pause when the server stops.
type controlServer struct {
	ctx    context.Context
	app    *core.App
	logger *slog.Logger
}

func newControlServer(ctx context.Context, app *core.App, logger *slog.Logger) *controlServer {
	return &controlServer{ctx: ctx, app: app, logger: logger}
}

func (s *controlServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", s.app.Metrics.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /downloads", s.handleList)
	mux.HandleFunc("POST /downloads/{id}", s.handleStart)
	mux.HandleFunc("POST /downloads/{id}/pause", s.handlePause)
	mux.HandleFunc("DELETE /downloads/{id}", s.handleDelete)
	return mux
}

func (s *controlServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "%s\n", s.app.Connectivity.Current())
}

type downloadJSON struct {
	TrackID        string `json:"trackId"`
	Status         string `json:"status"`
	Progress       int    `json:"progress"`
	FileSize       int64  `json:"fileSize,omitempty"`
	DownloadedSize int64  `json:"downloadedSize"`
	Error          string `json:"error,omitempty"`
}

func (s *controlServer) handleList(w http.ResponseWriter, r *http.Request) {
	recs, err := s.app.Downloads.Downloads(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]downloadJSON, 0, len(recs))
	for _, rec := range recs {
		out = append(out, downloadJSON{
			TrackID:        rec.TrackID,
			Status:         string(rec.Status),
			Progress:       rec.Progress,
			FileSize:       rec.FileSize,
			DownloadedSize: rec.DownloadedSize,
			Error:          rec.Error,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// handleStart checks admission synchronously and runs the transfer in the
// background.
func (s *controlServer) handleStart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	track, err := s.app.Queries.Track(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.app.Downloads.IsDownloaded(r.Context(), id) {
		writeError(w, domain.ErrAlreadyDownloaded)
		return
	}
	if err := s.app.Policy.CanDownload().Err("download"); err != nil {
		writeError(w, err)
		return
	}
	go func() {
		if err := s.app.Downloads.DownloadTrack(s.ctx, track); err != nil && !errors.Is(err, download.ErrPaused) {
			s.logger.Warn("download did not complete", "trackID", id, "error", err)
		}
	}()
	w.WriteHeader(http.StatusAccepted)
}

func (s *controlServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Downloads.PauseDownload(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *controlServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Downloads.DeleteDownload(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotDownloading):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyDownloading), errors.Is(err, domain.ErrAlreadyDownloaded):
		code = http.StatusConflict
	case domain.IsPolicyRejection(err):
		code = http.StatusForbidden
	case errors.Is(err, domain.ErrNoCachedData):
		code = http.StatusServiceUnavailable
	}
	http.Error(w, describe(err).Error(), code)
}

// pauseRemote asks a running "lull serve" at addr to pause trackID
func pauseRemote(ctx context.Context, addr, trackID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	u := "http://" + addr + "/downloads/" + url.PathEscape(trackID) + "/pause"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("no running \"lull serve\" at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return domain.ErrNotDownloading
	default:
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
}
