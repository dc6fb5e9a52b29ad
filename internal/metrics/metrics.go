package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feed",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feed",
		Name:      "active_sessions",
		Help:      "Number of currently connected remote feed sessions.",
	})

	ActiveFeeds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feed",
		Name:      "active_instances",
		Help:      "Number of live feed instances.",
	})

	CurrentChangesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "current_changes_total",
		Help:      "Total number of current index changes across feed instances.",
	})

	PlayerLoadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "player_loads_total",
		Help:      "Total player loads by origin (foreground, prefetch, retry) and result.",
	}, []string{"origin", "result"})

	PlayerLoadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "feed",
		Name:      "player_load_duration_seconds",
		Help:      "Duration of player loads in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"origin"})

	StaleCompletionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "stale_completions_total",
		Help:      "Total number of player load completions discarded as stale.",
	})

	PhysicalEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "physical_evictions_total",
		Help:      "Total number of player buffers unloaded for being too far from the current index.",
	})

	LedgerEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "ledger_evictions_total",
		Help:      "Total number of URLs evicted from the cache ledger.",
	})

	PrefetchQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "feed",
		Name:      "prefetch_queue_depth",
		Help:      "Number of prefetch jobs waiting across feed instances.",
	})

	PrefetchSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "prefetch_skipped_total",
		Help:      "Total number of prefetch jobs dropped on revalidation.",
	})

	PlaybackClaimsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "playback_claims_total",
		Help:      "Total playback claim requests by outcome (granted, denied, reentrant).",
	}, []string{"outcome"})

	TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "transitions_total",
		Help:      "Total programmatic jumps by settle path (direct, fallback, timeout, superseded).",
	}, []string{"path"})

	ScrollPhaseTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "scroll_phase_transitions_total",
		Help:      "Total scroll phase transitions by from and to phase.",
	}, []string{"from", "to"})

	PositionSavesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "position_saves_total",
		Help:      "Total playback positions written to the position store.",
	})

	PositionStoreErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "position_store_errors_total",
		Help:      "Total position store failures.",
	})

	PageFetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "feed",
		Name:      "page_fetches_total",
		Help:      "Total post page fetches by feed type and whether the result was shared.",
	}, []string{"feed_type", "shared"})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		ActiveFeeds,
		CurrentChangesTotal,
		PlayerLoadsTotal,
		PlayerLoadDuration,
		StaleCompletionsTotal,
		PhysicalEvictionsTotal,
		LedgerEvictionsTotal,
		PrefetchQueueDepth,
		PrefetchSkippedTotal,
		PlaybackClaimsTotal,
		TransitionsTotal,
		ScrollPhaseTransitionsTotal,
		PositionSavesTotal,
		PositionStoreErrors,
		PageFetchesTotal,
	)
}
