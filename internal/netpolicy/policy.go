// Package netpolicy decides whether streaming and downloading are allowed
// under the current connectivity and the user's network settings.
package netpolicy

import (
	"log/slog"

	"github.com/mmcdole/lull/internal/domain"
	"github.com/mmcdole/lull/internal/metrics"
)

const (
	opStream   = "stream"
	opDownload = "download"
)

// Policy re-evaluates on every call from snapshot reads of its two sources.
// It holds no state of its own and is safe for concurrent use.
type Policy struct {
	settings     domain.SettingsSource
	connectivity domain.ConnectivitySource
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// New creates a policy. m may be nil.
func New(settings domain.SettingsSource, connectivity domain.ConnectivitySource, m *metrics.Metrics, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{settings: settings, connectivity: connectivity, metrics: m, logger: logger}
}

// CanStream reports whether remote playback may start now.
func (p *Policy) CanStream() domain.Decision {
	d := StreamDecision(p.settings.NetworkSettings(), p.connectivity.Current())
	p.record(opStream, d)
	return d
}

// CanDownload reports whether a download may start or resume now.
func (p *Policy) CanDownload() domain.Decision {
	d := DownloadDecision(p.settings.NetworkSettings(), p.connectivity.Current())
	p.record(opDownload, d)
	return d
}

// RecommendedQuality returns the stream quality to request now.
func (p *Policy) RecommendedQuality() domain.StreamingQuality {
	return RecommendedQuality(p.settings.NetworkSettings(), p.connectivity.Current())
}

func (p *Policy) record(op string, d domain.Decision) {
	if d.Allowed {
		return
	}
	p.metrics.PolicyRejection(op, string(d.Reason))
	p.logger.Debug("network policy refused", "op", op, "reason", d.Reason)
}

// StreamDecision is the streaming decision table.
func StreamDecision(s domain.NetworkSettings, c domain.Connectivity) domain.Decision {
	switch {
	case s.Mode == domain.NetworkModeOffline:
		return domain.Deny(domain.ReasonOfflineMode)
	case c == domain.ConnectivityNone:
		return domain.Deny(domain.ReasonNoConnection)
	case s.Mode == domain.NetworkModeWifiOnly && c == domain.ConnectivityMetered:
		return domain.Deny(domain.ReasonCellularNotAllowed)
	default:
		return domain.Allow
	}
}

// DownloadDecision is the download decision table.
func DownloadDecision(s domain.NetworkSettings, c domain.Connectivity) domain.Decision {
	switch {
	case s.Mode == domain.NetworkModeOffline:
		return domain.Deny(domain.ReasonOfflineMode)
	case c == domain.ConnectivityNone:
		return domain.Deny(domain.ReasonNoConnection)
	case c == domain.ConnectivityLocal:
		return domain.Allow
	case s.AllowCellularDownload:
		return domain.Allow
	default:
		return domain.Deny(domain.ReasonCellularDownloadNotAllowed)
	}
}

// RecommendedQuality applies an explicit choice, otherwise picks by connectivity.
func RecommendedQuality(s domain.NetworkSettings, c domain.Connectivity) domain.StreamingQuality {
	switch s.StreamingQuality {
	case domain.QualityHigh, domain.QualityLow:
		return s.StreamingQuality
	}
	if c == domain.ConnectivityLocal {
		return domain.QualityHigh
	}
	return domain.QualityLow
}
