package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics are defined globally here. A harmless side-effect is that
// each binary initializes the other planes' metrics with zero values.
//
// TODO(refactor): split into sub-packages (metrics/admin, metrics/unlock) if
// the metric count grows significantly.

// namespace defines the global prefix for all metrics (e.g., keybox_...).
const namespace = "keybox"

// lowLatencyBuckets gives 1-2ms resolution for the unlock hot path, where the
// standard buckets (starting at 5ms) are too coarse. Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// ADMIN PLANE (HTTP)
	// -------------------------------------------------------------------------

	// AdminPlaneReqDuration measures the latency of admin HTTP requests.
	// Metric: keybox_admin_plane_http_handling_seconds
	AdminPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "admin_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the admin plane",
		Buckets:   prometheus.DefBuckets, // Admin traffic is human speed
	}, []string{"method", "path"})

	// AdminPlaneReqTotal counts admin HTTP requests.
	// Metric: keybox_admin_plane_http_requests_total
	AdminPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "admin_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the admin plane",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// UNLOCK PLANE (HTTP + Cache)
	// -------------------------------------------------------------------------

	// UnlockAttemptDuration measures the end-to-end latency of unlock attempts.
	// Metric: keybox_unlock_plane_attempt_seconds
	UnlockAttemptDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "unlock_plane",
		Name:      "attempt_seconds",
		Help:      "Time taken to process one unlock attempt",
		Buckets:   lowLatencyBuckets,
	})

	// UnlockOutcomes counts attempts by terminal outcome. The outcome label
	// carries the success statuses (fresh, repeat) and the failure kinds
	// (not_found, invalid_keyword, exhausted, ...).
	// Metric: keybox_unlock_plane_outcomes_total
	UnlockOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "unlock_plane",
		Name:      "outcomes_total",
		Help:      "Total unlock attempts by terminal outcome",
	}, []string{"outcome"})

	// WaitlistJoins counts visitors who hit an exhausted package and opted in.
	WaitlistJoins = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "unlock_plane",
		Name:      "waitlist_joins_total",
		Help:      "Total waitlist joins after quota exhaustion",
	})

	// --- Snapshot cache metrics (L1 otter / L2 redis) ---

	UnlockCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "unlock_plane",
		Name:      "cache_hits_total",
		Help:      "Total snapshot cache hits by layer",
	}, []string{"layer"}) // l1, l2

	UnlockCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "unlock_plane",
		Name:      "cache_misses_total",
		Help:      "Total snapshot lookups that fell through to Postgres",
	})

	// UnlockInvalidations counts invalidation events received via PubSub.
	UnlockInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "unlock_plane",
		Name:      "l1_invalidations_total",
		Help:      "Total cache invalidation events received via PubSub",
	})

	// -------------------------------------------------------------------------
	// RECONCILER (Worker)
	// -------------------------------------------------------------------------

	// ReconcilerCycleDuration measures one full reconciliation pass.
	// Metric: keybox_reconciler_cycle_duration_seconds
	ReconcilerCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "cycle_duration_seconds",
		Help:      "Time taken for one reconciliation cycle",
		Buckets:   prometheus.DefBuckets,
	})

	ReconcilerCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "cycles_total",
		Help:      "Total reconciliation cycles",
	}, []string{"status"}) // success, fail

	// ReconcilerCountersCorrected tracks unlock counters that had drifted from
	// the event log and were rewritten.
	ReconcilerCountersCorrected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "counters_corrected_total",
		Help:      "Total unlock counters corrected against the event log",
	})

	// ReconcilerSnapshotsWarmed tracks snapshots pushed to the L2 cache.
	ReconcilerSnapshotsWarmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconciler",
		Name:      "snapshots_warmed_total",
		Help:      "Total package snapshots written to the L2 cache",
	})
)
