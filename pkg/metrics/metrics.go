// Package metrics defines the Prometheus collectors shared across the
// service. Collectors are registered on the default registry; the API
// server exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsClaimed counts runs claimed by workers on this pod.
	RunsClaimed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "continuum",
		Subsystem: "queue",
		Name:      "runs_claimed_total",
		Help:      "Runs claimed by workers on this pod.",
	})

	// RunsCompleted counts terminal runs by final status.
	RunsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "continuum",
		Subsystem: "queue",
		Name:      "runs_completed_total",
		Help:      "Runs finished on this pod, labeled by terminal status.",
	}, []string{"status"})

	// RunDuration observes wall-clock run execution time by status.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "continuum",
		Subsystem: "queue",
		Name:      "run_duration_seconds",
		Help:      "Wall-clock execution time of runs, labeled by terminal status.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"status"})

	// TicksExecuted counts simulation ticks executed on this pod.
	TicksExecuted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "continuum",
		Subsystem: "sim",
		Name:      "ticks_executed_total",
		Help:      "Simulation ticks executed on this pod.",
	})

	// QueueDepth is the number of queued runs, refreshed by health checks.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "continuum",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Queued runs awaiting a worker.",
	})

	// ActiveRuns is the number of runs executing across all pods.
	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "continuum",
		Subsystem: "queue",
		Name:      "active_runs",
		Help:      "Runs currently executing across all pods.",
	})

	// OrphansRecovered counts runs failed by orphan detection.
	OrphansRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "continuum",
		Subsystem: "queue",
		Name:      "orphans_recovered_total",
		Help:      "Runs failed by orphan detection after a stale heartbeat.",
	})

	// GatewayRequests counts data gateway requests by source and decision.
	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "continuum",
		Subsystem: "gateway",
		Name:      "requests_total",
		Help:      "Data gateway requests, labeled by source and guard decision.",
	}, []string{"source", "decision"})

	// GatewayCacheHits counts gateway responses served from cache.
	GatewayCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "continuum",
		Subsystem: "gateway",
		Name:      "cache_hits_total",
		Help:      "Gateway responses served from the Redis cache.",
	})

	// TelemetryBlobBytes observes finalized telemetry blob sizes.
	TelemetryBlobBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "continuum",
		Subsystem: "telemetry",
		Name:      "blob_bytes",
		Help:      "Size of finalized telemetry blobs.",
		Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
	})

	// RetentionDeleted counts rows removed by the retention sweeper.
	RetentionDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "continuum",
		Subsystem: "cleanup",
		Name:      "deleted_total",
		Help:      "Rows removed by the retention sweeper, labeled by kind.",
	}, []string{"kind"})
)

// Gateway decision label values.
const (
	DecisionAllowed  = "allowed"
	DecisionFiltered = "filtered"
	DecisionBlocked  = "blocked"
)
