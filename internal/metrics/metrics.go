// Package metrics defines the Prometheus collectors for the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch Dispatcher Metrics
var (
	// FetchesTotal tracks inference fetches by mode (foreground/prefetch/background) and result
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentiment_fetches_total",
			Help: "Total sentiment fetches by mode and result (success/error)",
		},
		[]string{"mode", "result"},
	)

	// FetchDuration tracks inference call latency in seconds
	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentiment_fetch_duration_seconds",
			Help:    "Sentiment fetch duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 90},
		},
	)

	// FetchErrorsTotal tracks classified fetch failures by taxonomy class
	FetchErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentiment_fetch_errors_total",
			Help: "Total classified fetch failures by class (auth/network/rate_limit/unclassified)",
		},
		[]string{"class"},
	)
)

// Cache Metrics
var (
	// CacheEntries tracks current number of entries in the sentiment cache
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentiment_cache_entries",
			Help: "Current number of entries in the sentiment cache",
		},
	)

	// CacheHits tracks selections served directly from the cache
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentiment_cache_hits_total",
			Help: "Total subject selections served from the cache without a fetch",
		},
	)

	// CacheMisses tracks selections that required a foreground fetch
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentiment_cache_misses_total",
			Help: "Total subject selections that triggered a foreground fetch",
		},
	)
)

// Scheduler Metrics
var (
	// SchedulerTicksTotal tracks background refresh ticks
	SchedulerTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_scheduler_ticks_total",
			Help: "Total background refresh scheduler ticks",
		},
	)

	// PrefetchRunsTotal tracks prefetch warm loops by result (completed/superseded)
	PrefetchRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prefetch_runs_total",
			Help: "Total prefetch warm loops by result (completed/superseded)",
		},
		[]string{"result"},
	)

	// ContextSwitchesTotal tracks analysis context switches
	ContextSwitchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "context_switches_total",
			Help: "Total analysis context switches",
		},
	)
)

// WebSocket Metrics
var (
	// WebSocketClientsCurrent tracks current connected dashboard clients
	WebSocketClientsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_clients_current",
			Help: "Current number of connected WebSocket clients",
		},
	)

	// WebSocketSlowClientsEvicted tracks slow clients evicted due to full buffers
	WebSocketSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_slow_clients_evicted_total",
			Help: "Total slow WebSocket clients evicted due to buffer full",
		},
	)

	// SnapshotsPublished tracks snapshots pushed to the hub
	SnapshotsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snapshots_published_total",
			Help: "Total dashboard snapshots published to subscribers",
		},
	)
)

// Build Information Metrics
var (
	// BuildInfo is a gauge that always returns 1, with build metadata as labels
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build information with version, commit, build_time, and go_version labels (value is always 1)",
		},
		[]string{"version", "commit", "build_time", "go_version"},
	)
)

// HTTP Error Metrics
var (
	// HTTPErrorsTotal tracks HTTP errors by taxonomy class
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total HTTP errors by error class",
		},
		[]string{"class"},
	)
)
