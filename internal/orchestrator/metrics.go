package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sheetwise",
			Name:      "runs_total",
			Help:      "Total question runs by final state",
		},
		[]string{"outcome"}, // "done", "failed"
	)

	runRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "sheetwise",
			Name:      "run_rounds",
			Help:      "Generation rounds used per run",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	sourceFetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sheetwise",
			Name:      "source_fetch_total",
			Help:      "readSource invocations by outcome",
		},
		[]string{"outcome"}, // "cached", "fresh", "empty", "rejected", "error"
	)

	oracleCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sheetwise",
			Name:      "oracle_calls_total",
			Help:      "Total oracle calls",
		},
		[]string{"role", "status"},
	)

	oracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sheetwise",
			Name:      "oracle_duration_seconds",
			Help:      "Duration of oracle calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"role"},
	)

	selectionFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sheetwise",
			Name:      "selection_fallback_total",
			Help:      "Selections that fell back to the summary-length heuristic",
		},
	)
)
