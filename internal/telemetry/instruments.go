package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Cycle outcomes recorded on the sync instruments.
const (
	OutcomeWritten = "written"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

// SyncInstruments are the OpenTelemetry instruments of the sync loop.
type SyncInstruments struct {
	cycles   metric.Int64Counter
	rows     metric.Int64Histogram
	duration metric.Float64Histogram
}

// NewSyncInstruments registers the sync instruments on meter.
func NewSyncInstruments(meter metric.Meter) (*SyncInstruments, error) {
	cycles, err := meter.Int64Counter("sensorbridge.sync.cycles",
		metric.WithDescription("Sync cycles by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("cycles counter: %w", err)
	}

	rows, err := meter.Int64Histogram("sensorbridge.sync.rows",
		metric.WithDescription("Rows written per snapshot"),
	)
	if err != nil {
		return nil, fmt.Errorf("rows histogram: %w", err)
	}

	duration, err := meter.Float64Histogram("sensorbridge.sync.duration",
		metric.WithDescription("Sync cycle duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("duration histogram: %w", err)
	}

	return &SyncInstruments{cycles: cycles, rows: rows, duration: duration}, nil
}

// RecordCycle records one cycle. errorKind is empty unless the cycle failed.
func (s *SyncInstruments) RecordCycle(ctx context.Context, outcome, errorKind string, rows int, d time.Duration) {
	if s == nil {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("outcome", outcome)}
	if errorKind != "" {
		attrs = append(attrs, attribute.String("error.kind", errorKind))
	}
	set := metric.WithAttributes(attrs...)

	s.cycles.Add(ctx, 1, set)
	s.duration.Record(ctx, d.Seconds(), set)
	if outcome == OutcomeWritten {
		s.rows.Record(ctx, int64(rows))
	}
}
