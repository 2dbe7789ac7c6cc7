package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/lull/internal/domain"
)

// DefaultProbeInterval is how often Run re-checks reachability.
const DefaultProbeInterval = 30 * time.Second

// Prober feeds a Monitor by sending HEAD requests to a known URL.
// Any response counts as reachable; a transport error means no connection.
type Prober struct {
	URL      string
	Interval time.Duration
	// Metered reports reachable networks as the metered class.
	Metered bool

	client  *http.Client
	monitor *Monitor
	logger  *slog.Logger
}

// NewProber creates a prober that updates monitor.
func NewProber(url string, interval time.Duration, metered bool, monitor *Monitor, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		URL:      url,
		Interval: interval,
		Metered:  metered,
		client:   &http.Client{Timeout: 5 * time.Second},
		monitor:  monitor,
		logger:   logger,
	}
}

// Probe checks once, updates the monitor and returns the observed class.
func (p *Prober) Probe(ctx context.Context) domain.Connectivity {
	c := p.check(ctx)
	p.monitor.Update(c)
	return c
}

func (p *Prober) check(ctx context.Context) domain.Connectivity {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		p.logger.Error("invalid probe url", "url", p.URL, "error", err)
		return domain.ConnectivityNone
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "url", p.URL, "error", err)
		return domain.ConnectivityNone
	}
	resp.Body.Close()

	if p.Metered {
		return domain.ConnectivityMetered
	}
	return domain.ConnectivityLocal
}

// Run probes immediately and then every Interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	p.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}
