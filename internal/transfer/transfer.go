// Package transfer streams remote media to local files with progress
// callbacks and Range-based resume.
package transfer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/lull/internal/domain"
)

const (
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 4

	bufferSize = 32 << 10
	userAgent  = "lull/1.0"
)

// NewHTTPClient returns a client tuned for long media transfers. There is no
// overall timeout; transfers are bounded by their context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          16,
			MaxIdleConnsPerHost:   MaxIdleConnsPerHost,
			IdleConnTimeout:       DefaultIdleConnTimeout,
			ResponseHeaderTimeout: 30 * time.Second,
		},
	}
}

// RetryPolicy controls the single retry on server-side failures.
type RetryPolicy struct {
	Retry5xx   bool
	Backoff5xx time.Duration
}

// DefaultRetryPolicy retries a 5xx or 429 once after one second.
var DefaultRetryPolicy = RetryPolicy{Retry5xx: true, Backoff5xx: time.Second}

// HTTP implements domain.Transferer over HTTP GET.
type HTTP struct {
	client *http.Client
	retry  RetryPolicy
	logger *slog.Logger
}

var _ domain.Transferer = (*HTTP)(nil)

// New creates a transferer. A nil client uses NewHTTPClient.
func New(client *http.Client, retry RetryPolicy, logger *slog.Logger) *HTTP {
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{client: client, retry: retry, logger: logger}
}

// Transfer downloads url into dest. With offset > 0 it asks for the remaining
// bytes and appends; a server that ignores Range gets a fresh full download.
// It returns the size of dest when the body has been fully written.
func (h *HTTP) Transfer(ctx context.Context, url, dest string, offset int64, progress domain.TransferFunc) (int64, error) {
	if progress == nil {
		progress = func(int64, int64) {}
	}

	resp, err := h.get(ctx, url, offset)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var flags int
	var written, total int64
	switch {
	case resp.StatusCode == http.StatusPartialContent && offset > 0:
		start, size, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok || start != offset {
			return 0, fmt.Errorf("get %s: unexpected Content-Range %q", redactURL(url), resp.Header.Get("Content-Range"))
		}
		flags = os.O_WRONLY | os.O_APPEND
		written, total = offset, size
		if total < 0 && resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}
	case resp.StatusCode == http.StatusOK:
		if offset > 0 {
			h.logger.Debug("server ignored range, restarting transfer", "url", redactURL(url), "offset", offset)
		}
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		total = resp.ContentLength
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// Everything up to offset is already on disk.
		if _, size, ok := parseContentRange(resp.Header.Get("Content-Range")); ok && size == offset {
			progress(offset, offset)
			return offset, nil
		}
		return 0, fmt.Errorf("get %s: %s", redactURL(url), resp.Status)
	default:
		return 0, fmt.Errorf("get %s: %s", redactURL(url), resp.Status)
	}

	f, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", dest, err)
	}

	written, err = copyWithProgress(ctx, f, resp.Body, written, total, progress)
	if err != nil {
		f.Close()
		return written, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return written, fmt.Errorf("sync %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return written, fmt.Errorf("close %s: %w", dest, err)
	}
	if total >= 0 && written != total {
		return written, fmt.Errorf("get %s: short body: %d of %d bytes", redactURL(url), written, total)
	}
	return written, nil
}

func copyWithProgress(ctx context.Context, w io.Writer, r io.Reader, written, total int64, progress domain.TransferFunc) (int64, error) {
	buf := make([]byte, bufferSize)
	progress(written, total)
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("write: %w", err)
			}
			written += int64(n)
			progress(written, total)
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return written, ctxErr
			}
			return written, fmt.Errorf("read body: %w", rerr)
		}
	}
}

// get issues the request, retrying once on 429/5xx when the policy allows.
// Other statuses are returned to the caller as-is.
func (h *HTTP) get(ctx context.Context, url string, offset int64) (*http.Response, error) {
	resp, err := h.do(ctx, url, offset)
	if err != nil {
		return nil, err
	}
	code := resp.StatusCode
	if !h.retry.Retry5xx || (code < 500 && code != http.StatusTooManyRequests) {
		return resp, nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	h.logger.Debug("retrying transfer", "url", redactURL(url), "status", code)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(h.retry.Backoff5xx):
	}
	return h.do(ctx, url, offset)
}

func (h *HTTP) do(ctx context.Context, url string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("get %s: %w", redactURL(url), err)
	}
	return resp, nil
}

// parseContentRange parses "bytes start-end/size" or "bytes */size".
// size is -1 when the server sent "*".
func parseContentRange(v string) (start, size int64, ok bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "bytes ") {
		return 0, 0, false
	}
	rng, sizeStr, found := strings.Cut(strings.TrimPrefix(v, "bytes "), "/")
	if !found {
		return 0, 0, false
	}
	size = -1
	if sizeStr != "*" {
		n, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return 0, 0, false
		}
		size = n
	}
	if rng == "*" {
		return 0, size, true
	}
	startStr, _, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, false
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return start, size, true
}

func redactURL(s string) string {
	if i := strings.Index(s, "?"); i >= 0 {
		return s[:i] + "?[redacted]"
	}
	return s
}
