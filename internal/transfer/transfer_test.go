package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var payload = bytes.Repeat([]byte("0123456789abcdef"), 8<<10) // 128 KiB

// rangeServer serves payload and honors "bytes=N-" when ranged is true.
func rangeServer(t *testing.T, ranged bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if !ranged || rng == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
			w.WriteHeader(http.StatusOK)
			w.Write(payload)
			return
		}
		start, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
		if err != nil {
			http.Error(w, "bad range", http.StatusBadRequest)
			return
		}
		if start >= len(payload) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(payload)))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(payload)-1, len(payload)))
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)-start))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(payload[start:])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTransferFull(t *testing.T) {
	srv := rangeServer(t, true)
	dest := filepath.Join(t.TempDir(), "t1.partial")

	var calls int
	var last, lastTotal int64
	n, err := New(nil, DefaultRetryPolicy, nil).Transfer(context.Background(), srv.URL+"/t1.mp3", dest, 0, func(written, total int64) {
		if written < last {
			t.Errorf("progress went backwards: %d -> %d", last, written)
		}
		calls++
		last, lastTotal = written, total
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("written = %d, want %d", n, len(payload))
	}
	if calls < 2 || last != int64(len(payload)) || lastTotal != int64(len(payload)) {
		t.Fatalf("progress calls=%d last=%d/%d", calls, last, lastTotal)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Fatal("file content mismatch")
	}
}

func TestTransferResumesWithRange(t *testing.T) {
	srv := rangeServer(t, true)
	dest := filepath.Join(t.TempDir(), "t1.partial")
	half := len(payload) / 2
	if err := os.WriteFile(dest, payload[:half], 0644); err != nil {
		t.Fatal(err)
	}

	var first int64 = -1
	n, err := New(nil, DefaultRetryPolicy, nil).Transfer(context.Background(), srv.URL, dest, int64(half), func(written, total int64) {
		if first < 0 {
			first = written
		}
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if first != int64(half) {
		t.Fatalf("first progress = %d, want %d", first, half)
	}
	if n != int64(len(payload)) {
		t.Fatalf("written = %d, want %d", n, len(payload))
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Fatal("resumed file content mismatch")
	}
}

func TestTransferRestartsWhenRangeIgnored(t *testing.T) {
	srv := rangeServer(t, false)
	dest := filepath.Join(t.TempDir(), "t1.partial")
	if err := os.WriteFile(dest, []byte("stale bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	n, err := New(nil, DefaultRetryPolicy, nil).Transfer(context.Background(), srv.URL, dest, 11, nil)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("written = %d", n)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Fatal("restart did not truncate the partial file")
	}
}

func TestTransferAlreadyComplete(t *testing.T) {
	srv := rangeServer(t, true)
	dest := filepath.Join(t.TempDir(), "t1.partial")
	if err := os.WriteFile(dest, payload, 0644); err != nil {
		t.Fatal(err)
	}
	n, err := New(nil, DefaultRetryPolicy, nil).Transfer(context.Background(), srv.URL, dest, int64(len(payload)), nil)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if n != int64(len(payload)) {
		t.Fatalf("written = %d", n)
	}
}

func TestTransferHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(nil, DefaultRetryPolicy, nil).Transfer(context.Background(), srv.URL+"/x?token=secret", filepath.Join(t.TempDir(), "x"), 0, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("error leaks query string: %v", err)
	}
}

func TestTransferRetriesServerErrorOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	policy := RetryPolicy{Retry5xx: true, Backoff5xx: time.Millisecond}
	n, err := New(nil, policy, nil).Transfer(context.Background(), srv.URL, filepath.Join(t.TempDir(), "x"), 0, nil)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if n != 2 || hits.Load() != 2 {
		t.Fatalf("written=%d hits=%d", n, hits.Load())
	}
}

func TestTransferCancel(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 1000))
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := New(nil, DefaultRetryPolicy, nil).Transfer(ctx, srv.URL, filepath.Join(t.TempDir(), "x"), 0, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
}

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		in          string
		start, size int64
		ok          bool
	}{
		{"bytes 100-199/200", 100, 200, true},
		{"bytes 0-9/*", 0, -1, true},
		{"bytes */500", 0, 500, true},
		{"items 0-1/2", 0, 0, false},
		{"bytes 5-9", 0, 0, false},
	}
	for _, tt := range tests {
		start, size, ok := parseContentRange(tt.in)
		if start != tt.start || size != tt.size || ok != tt.ok {
			t.Errorf("parseContentRange(%q) = %d, %d, %v", tt.in, start, size, ok)
		}
	}
}
