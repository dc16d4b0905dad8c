// Package metrics defines the Prometheus collectors for the analysis engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cma_sessions_started_total",
			Help: "Total number of analysis sessions started",
		},
	)

	SessionsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cma_sessions_finished_total",
			Help: "Total number of analysis sessions by terminal status",
		},
		[]string{"status"},
	)

	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cma_sessions_active",
			Help: "Number of analysis sessions currently running",
		},
	)

	StepOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cma_step_outcomes_total",
			Help: "Pipeline step outcomes by step and result",
		},
		[]string{"step", "result"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cma_step_duration_seconds",
			Help:    "Duration of pipeline steps in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"step"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cma_provider_errors_total",
			Help: "Provider call failures by provider and transience",
		},
		[]string{"provider", "transient"},
	)

	QualityScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cma_quality_score",
			Help:    "Distribution of session quality scores",
			Buckets: []float64{0, 15, 29, 43, 58, 72, 86, 100},
		},
	)

	CriticalErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cma_critical_errors_total",
			Help: "Total number of critical geocoding failures",
		},
	)

	BonusQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cma_bonus_queries_total",
			Help: "Bonus research queries by source (strategy, ai, static)",
		},
		[]string{"source"},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cma_circuit_breaker_state",
			Help: "Circuit breaker state per provider (0 closed, 1 open, 2 half-open)",
		},
		[]string{"provider"},
	)

	ArchiveDegradedRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cma_archive_degraded_rate",
			Help: "Share of finished analyses that were degraded in the monitoring window",
		},
	)

	ArchiveErrorRate = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cma_archive_error_rate",
			Help: "Share of finished analyses that errored in the monitoring window",
		},
	)

	ArchiveQualityScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cma_archive_avg_quality_score",
			Help: "Average quality score of finished analyses in the monitoring window",
		},
	)
)
