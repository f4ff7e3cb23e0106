package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Trust engine metrics for production monitoring
var (
	// Signal log metrics
	SignalsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_signals_recorded_total",
			Help: "Total number of feedback signals recorded",
		},
		[]string{"kind", "result"}, // result: ok/validation_error/error
	)

	SignalValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_signal_validation_failures_total",
			Help: "Total number of rejected signal writes by failing field",
		},
		[]string{"field"},
	)

	RubberStampBumps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_rubber_stamp_bumps_total",
			Help: "Total number of fast-path rubber-stamp counter increments",
		},
		[]string{"applied"}, // applied: true/false (false = no aggregate row yet)
	)

	// Confidence aggregator metrics
	RecomputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trustcore_recompute_duration_seconds",
			Help:    "Duration of synchronous aggregate recomputation (including the signal write transaction)",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	RecomputeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustcore_recompute_failures_total",
			Help: "Total number of recompute failures (each one rolled back a signal write)",
		},
	)

	ConsistencyViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustcore_consistency_violations_total",
			Help: "Total number of aggregate invariant violations caught before persist",
		},
	)

	// Promotion engine metrics
	TierTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_tier_transitions_total",
			Help: "Total number of autonomy tier changes",
		},
		[]string{"direction", "action_type"}, // direction: promotion/demotion
	)

	PromotionEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_promotion_evaluations_total",
			Help: "Total number of promotion decision evaluations",
		},
		[]string{"outcome"}, // outcome: promoted/blocked/no_policy/cooldown/error
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "trustcore_sweep_duration_seconds",
			Help:    "Duration of one promotion sweep over candidate keys",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
	)

	SweepKeysExamined = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustcore_sweep_keys_examined_total",
			Help: "Total number of aggregate keys examined by promotion sweeps",
		},
	)

	// Policy store metrics
	PolicyCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustcore_policy_cache_hits_total",
			Help: "Total number of threshold-policy resolutions served from cache",
		},
	)

	PolicyCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "trustcore_policy_cache_misses_total",
			Help: "Total number of threshold-policy resolutions that hit the store",
		},
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trustcore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trustcore_websocket_connections",
			Help: "Current number of active WebSocket event-stream clients",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trustcore_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
