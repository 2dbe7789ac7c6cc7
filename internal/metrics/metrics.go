// Package metrics holds the Prometheus collectors for sync, cache, downloads
// and network policy decisions.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lull"

// Metrics is the set of collectors registered for one process.
type Metrics struct {
	registry *prometheus.Registry

	syncPasses      *prometheus.CounterVec // entity, outcome
	syncRows        *prometheus.CounterVec // entity, change
	syncDuration    *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec // key, result
	downloads       *prometheus.CounterVec // outcome
	downloadBytes   prometheus.Counter
	activeDownloads prometheus.Gauge
	policyDecisions *prometheus.CounterVec // op, reason
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		syncPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Catalog sync passes by entity and outcome.",
		}, []string{"entity", "outcome"}),
		syncRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "rows_total",
			Help:      "Catalog rows changed by sync passes.",
		}, []string{"entity", "change"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Wall time of sync passes including the remote fetch.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"entity"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by key and result (hit, miss, stale).",
		}, []string{"key", "result"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "finished_total",
			Help:      "Downloads that reached a terminal state.",
		}, []string{"outcome"}),
		downloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "bytes_total",
			Help:      "Bytes written to the download directory.",
		}),
		activeDownloads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "active",
			Help:      "Transfers currently running.",
		}),
		policyDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "rejections_total",
			Help:      "Operations refused by the network policy.",
		}, []string{"op", "reason"}),
	}

	reg.MustRegister(
		m.syncPasses, m.syncRows, m.syncDuration, m.cacheLookups,
		m.downloads, m.downloadBytes, m.activeDownloads, m.policyDecisions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SyncPass records one finished sync pass.
// outcome is "synced", "not_modified" or "fallback".
func (m *Metrics) SyncPass(entity, outcome string, seconds float64, added, updated, deleted int) {
	if m == nil {
		return
	}
	m.syncPasses.WithLabelValues(entity, outcome).Inc()
	m.syncDuration.WithLabelValues(entity).Observe(seconds)
	m.syncRows.WithLabelValues(entity, "added").Add(float64(added))
	m.syncRows.WithLabelValues(entity, "updated").Add(float64(updated))
	m.syncRows.WithLabelValues(entity, "deleted").Add(float64(deleted))
}

// CacheLookup records a cache read. result is "hit", "miss" or "stale".
func (m *Metrics) CacheLookup(key, result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(key, result).Inc()
}

// DownloadStarted marks a transfer as running.
func (m *Metrics) DownloadStarted() {
	if m == nil {
		return
	}
	m.activeDownloads.Inc()
}

// DownloadFinished records a terminal state ("completed", "failed", "paused", "canceled").
func (m *Metrics) DownloadFinished(outcome string) {
	if m == nil {
		return
	}
	m.activeDownloads.Dec()
	m.downloads.WithLabelValues(outcome).Inc()
}

// BytesTransferred adds n bytes to the transfer counter.
func (m *Metrics) BytesTransferred(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.downloadBytes.Add(float64(n))
}

// PolicyRejection records an operation refused by the network policy.
func (m *Metrics) PolicyRejection(op, reason string) {
	if m == nil {
		return
	}
	m.policyDecisions.WithLabelValues(op, reason).Inc()
}
