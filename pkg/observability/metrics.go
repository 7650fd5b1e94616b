// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the preparation engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the preparation engine.
type Metrics struct {
	// Sync metrics
	SyncPassesTotal    *prometheus.CounterVec
	SyncEventsTotal    *prometheus.CounterVec
	SyncUserFailures   prometheus.Counter
	SyncDurationSecs   prometheus.Histogram

	// Classification metrics
	ClassificationsTotal *prometheus.CounterVec

	// Workflow metrics
	TransitionsTotal *prometheus.CounterVec
	CASLossesTotal   *prometheus.CounterVec

	// Dispatch metrics
	DispatchAttemptsTotal *prometheus.CounterVec
	DispatchSkippedTotal  prometheus.Counter
	DispatchExhausted     prometheus.Counter

	// Gate metrics
	GateResolutionsTotal *prometheus.CounterVec
	StaleTokensTotal     prometheus.Counter

	// Timer metrics
	TimersFiredTotal *prometheus.CounterVec
}

// DefaultMetrics creates metrics on the default registerer.
func DefaultMetrics() *Metrics {
	return NewMetrics(prometheus.DefaultRegisterer)
}

// NewMetrics creates the engine metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SyncPassesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepd_sync_passes_total",
				Help: "Total calendar sync passes by outcome",
			},
			[]string{"outcome"},
		),
		SyncEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepd_sync_events_total",
				Help: "Total calendar events handled during sync",
			},
			[]string{"action"},
		),
		SyncUserFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "prepd_sync_user_failures_total",
				Help: "Total per-user calendar fetch failures",
			},
		),
		SyncDurationSecs: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "prepd_sync_duration_seconds",
				Help:    "Calendar sync pass duration",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),

		ClassificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepd_classifications_total",
				Help: "Total meeting classifications by resulting type",
			},
			[]string{"meeting_type"},
		),

		TransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepd_workflow_transitions_total",
				Help: "Total meeting status transitions",
			},
			[]string{"to"},
		),
		CASLossesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepd_workflow_cas_losses_total",
				Help: "Total conditional writes lost to a concurrent execution",
			},
			[]string{"operation"},
		),

		DispatchAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepd_dispatch_attempts_total",
				Help: "Total notification delivery attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		DispatchSkippedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "prepd_dispatch_skipped_total",
				Help: "Total dispatches skipped by the idempotency guard",
			},
		),
		DispatchExhausted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "prepd_dispatch_exhausted_total",
				Help: "Total dispatches that failed on every channel",
			},
		),

		GateResolutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepd_gate_resolutions_total",
				Help: "Total response gate resolutions by outcome",
			},
			[]string{"outcome"},
		),
		StaleTokensTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "prepd_gate_stale_tokens_total",
				Help: "Total resume token presentations rejected as stale",
			},
		),

		TimersFiredTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prepd_timers_fired_total",
				Help: "Total durable timers fired by kind",
			},
			[]string{"kind"},
		),
	}
}
