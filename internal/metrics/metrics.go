// Package metrics exposes Prometheus collectors for the sync loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorbridge_sync_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"outcome"}, // written, empty or failed
	)

	syncFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sensorbridge_sync_failures_total",
			Help: "Failed sync cycles by error kind",
		},
		[]string{"kind"},
	)

	syncCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sensorbridge_sync_cycle_duration_seconds",
			Help:    "Time taken by a sync cycle",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	snapshotRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorbridge_snapshot_rows",
			Help: "Number of rows in the last written snapshot",
		},
	)

	lastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorbridge_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync cycle",
		},
	)

	consecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sensorbridge_consecutive_failures",
			Help: "Number of failed sync cycles since the last success",
		},
	)
)

// Outcome labels.
const (
	OutcomeWritten = "written"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

// ObserveCycle records a finished cycle. kind is the error kind of a failed
// cycle and ignored otherwise; rows only counts for written snapshots.
func ObserveCycle(outcome, kind string, rows int, d time.Duration, finishedAt time.Time) {
	syncCyclesTotal.WithLabelValues(outcome).Inc()
	syncCycleDuration.Observe(d.Seconds())

	switch outcome {
	case OutcomeFailed:
		syncFailuresTotal.WithLabelValues(kind).Inc()
		consecutiveFailures.Inc()
	case OutcomeWritten:
		snapshotRows.Set(float64(rows))
		fallthrough
	default:
		consecutiveFailures.Set(0)
		lastSuccessTimestamp.Set(float64(finishedAt.Unix()))
	}
}
