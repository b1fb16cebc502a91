// Package metrics exports Prometheus instrumentation for the scoring
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CalculationsTotal counts score calculations by kind and outcome.
	CalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_calculations_total",
			Help: "Total number of score calculations",
		},
		[]string{"kind", "outcome"},
	)

	// CalculationDuration observes end-to-end calculation latency.
	CalculationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vitals_calculation_duration_seconds",
			Help:    "Full calculation graph latency in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// StateTransitions counts coordinator phase transitions.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_state_transitions_total",
			Help: "Total number of coordinator phase transitions",
		},
		[]string{"phase"},
	)

	// AnomaliesDetected counts raised anomaly events by kind.
	AnomaliesDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_anomalies_detected_total",
			Help: "Total number of anomaly events raised",
		},
		[]string{"kind"},
	)

	// ActiveAnomalies gauges currently open, undismissed anomaly events.
	ActiveAnomalies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vitals_active_anomalies",
			Help: "Number of currently active anomaly events",
		},
	)

	// CacheHits counts cache hits by kind.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"kind"},
	)

	// CacheMisses counts cache misses by kind.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"kind"},
	)

	// StaleServes counts responses served from an expired snapshot.
	StaleServes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vitals_stale_serves_total",
			Help: "Total number of responses served from stale snapshots",
		},
	)

	// RequestsTotal counts HTTP requests on the facade.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration observes HTTP request latency on the facade.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vitals_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route", "method"},
	)
)
