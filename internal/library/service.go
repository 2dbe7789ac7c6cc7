// Package library keeps the local catalog in step with the remote catalog
// server and serves cache-first reads of it.
package library

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/lull/internal/cache"
	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/metrics"
)

// DefaultTimeout bounds every remote snapshot fetch.
const DefaultTimeout = 8 * time.Second

// Strategy selects how a remote snapshot is written into the store.
type Strategy int

const (
	// StrategyFullReplace upserts every remote row on every pass.
	StrategyFullReplace Strategy = iota
	// StrategyHashDiff skips rows whose content hash did not change.
	StrategyHashDiff
)

func (s Strategy) String() string {
	switch s {
	case StrategyHashDiff:
		return "hash"
	default:
		return "full"
	}
}

// ParseStrategy maps a config value ("full", "hash") to a Strategy.
func ParseStrategy(v string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "full":
		return StrategyFullReplace, nil
	case "hash":
		return StrategyHashDiff, nil
	default:
		return StrategyFullReplace, fmt.Errorf("unknown sync strategy %q", v)
	}
}

// Config tunes the sync engine.
type Config struct {
	Timeout  time.Duration
	Strategy Strategy
	// MinSnapshotRatio degrades a pass to update-only when the snapshot holds
	// fewer rows than this fraction of the local rows. Zero disables the check.
	MinSnapshotRatio float64
}

// DefaultConfig returns the sync settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout, Strategy: StrategyFullReplace}
}

// Deps bundles the collaborators shared by Commands and Queries.
type Deps struct {
	Client   domain.CatalogClient
	Store    domain.CatalogStore
	Cache    *cache.Cache
	Observer domain.SyncObserver
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Observer == nil {
		d.Observer = domain.NoOpObserver{}
	}
	return d
}
