package log

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mmcdole/lull/internal/config"
)

func TestSetupWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "lull.log")
	logger, closer, err := Setup(config.LoggingConfig{File: path, Level: "warn"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("download failed", "trackID", "t1")
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("lines = %d, want 1 (info filtered)", len(lines))
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "download failed" || rec["trackID"] != "t1" {
		t.Fatalf("record = %v", rec)
	}
}

func TestSetupEmptyPath(t *testing.T) {
	if _, _, err := Setup(config.LoggingConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
