package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/sensorbridge/internal/measurement"
	"github.com/breatheroute/sensorbridge/internal/metrics"
	"github.com/breatheroute/sensorbridge/internal/syncerr"
	"github.com/breatheroute/sensorbridge/internal/telemetry"
)

// Fetcher reads a snapshot of a store path.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (*measurement.Snapshot, error)
}

// Persister replaces the output file with a table.
type Persister interface {
	Persist(t *measurement.Table) error
	Path() string
}

// Mirror receives every written table.
type Mirror interface {
	ReplaceSnapshot(ctx context.Context, t *measurement.Table) error
}

// Notifier is told about every written snapshot.
type Notifier interface {
	SnapshotWritten(ctx context.Context, event SnapshotEvent) error
}

// Cycle outcomes.
const (
	OutcomeWritten = telemetry.OutcomeWritten
	OutcomeEmpty   = telemetry.OutcomeEmpty
	OutcomeFailed  = telemetry.OutcomeFailed
)

// SnapshotEvent describes a written snapshot.
type SnapshotEvent struct {
	CycleID        string    `json:"cycle_id"`
	CollectionPath string    `json:"collection_path"`
	OutputPath     string    `json:"output_path"`
	Rows           int       `json:"rows"`
	Columns        []string  `json:"columns"`
	WrittenAt      time.Time `json:"written_at"`
}

// CycleResult contains the result of one sync cycle.
type CycleResult struct {
	ID        string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Outcome   string
	Rows      int
	Columns   []string

	// Err is the classified error of a failed cycle.
	Err error
}

// Failed reports whether the cycle failed.
func (r *CycleResult) Failed() bool {
	return r.Err != nil
}

// SyncMetrics is a point-in-time view of sync job statistics.
type SyncMetrics struct {
	// Counters
	TotalCycles         int64
	WrittenCycles       int64
	EmptyCycles         int64
	FailedCycles        int64
	ConsecutiveFailures int64

	// Last outcomes
	LastCycleAt      time.Time
	LastSuccessAt    time.Time
	LastCycleOutcome string
	LastDuration     time.Duration
	LastRows         int
	LastError        string
	LastErrorKind    string
	TotalDuration    time.Duration
}

// SyncJobConfig holds configuration for creating a SyncJob.
type SyncJobConfig struct {
	Config SyncConfig
	Store  Fetcher
	Output Persister

	// Mirror and Notifier are optional.
	Mirror   Mirror
	Notifier Notifier

	// Instruments records OpenTelemetry metrics; optional.
	Instruments *telemetry.SyncInstruments

	// Tracer defaults to the global tracer.
	Tracer trace.Tracer

	Logger zerolog.Logger
}

// SyncJob mirrors the store collection into the output file.
type SyncJob struct {
	config      SyncConfig
	store       Fetcher
	output      Persister
	mirror      Mirror
	notifier    Notifier
	instruments *telemetry.SyncInstruments
	tracer      trace.Tracer
	logger      zerolog.Logger

	backoff *backoff.ExponentialBackOff
	trigger chan struct{}

	mu      sync.RWMutex
	metrics SyncMetrics
}

// NewSyncJob creates a new sync job.
func NewSyncJob(cfg SyncJobConfig) (*SyncJob, error) {
	if cfg.Store == nil {
		return nil, syncerr.New(syncerr.KindConfiguration, "sync job requires a store")
	}
	if cfg.Output == nil {
		return nil, syncerr.New(syncerr.KindConfiguration, "sync job requires an output")
	}

	config := cfg.Config.withDefaults()

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(telemetry.DefaultServiceName)
	}

	return &SyncJob{
		config:      config,
		store:       cfg.Store,
		output:      cfg.Output,
		mirror:      cfg.Mirror,
		notifier:    cfg.Notifier,
		instruments: cfg.Instruments,
		tracer:      tracer,
		logger:      cfg.Logger,
		backoff:     config.Retry.newBackOff(),
		trigger:     make(chan struct{}, 1),
	}, nil
}

// Run executes cycles until ctx is cancelled, then returns nil. A cycle in
// progress when ctx is cancelled finishes its write before Run returns.
func (j *SyncJob) Run(ctx context.Context) error {
	j.logger.Info().
		Str("collection_path", j.config.CollectionPath).
		Str("output_path", j.output.Path()).
		Dur("poll_interval", j.config.PollInterval).
		Bool("retry_enabled", j.config.Retry.Enabled).
		Msg("starting sync loop")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("sync loop stopped")
			return nil
		case <-timer.C:
		case <-j.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		result := j.RunCycle(ctx)
		if ctx.Err() != nil {
			j.logger.Info().Msg("sync loop stopped")
			return nil
		}

		delay := j.NextDelay(result)
		j.logger.Debug().Dur("next_cycle_in", delay).Msg("sleeping")
		timer.Reset(delay)
	}
}

// Trigger requests an immediate cycle. It never blocks; triggers arriving
// while one is pending are coalesced.
func (j *SyncJob) Trigger() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// NextDelay returns the wait before the cycle that follows result and
// advances the failure backoff. Successful and empty cycles reset it.
func (j *SyncJob) NextDelay(result *CycleResult) time.Duration {
	if !result.Failed() {
		j.backoff.Reset()
		return j.config.PollInterval
	}
	if !j.config.Retry.Enabled {
		return j.config.PollInterval
	}
	return j.backoff.NextBackOff()
}

// RunCycle performs one fetch and materialize pass. It never panics and
// never returns an error; failures are reported in the result.
func (j *SyncJob) RunCycle(ctx context.Context) (result *CycleResult) {
	result = &CycleResult{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
	}

	ctx, span := j.tracer.Start(ctx, "sync.cycle",
		trace.WithAttributes(
			attribute.String("cycle.id", result.ID),
			attribute.String("store.path", j.config.CollectionPath),
		),
	)

	defer func() {
		if r := recover(); r != nil {
			result.Err = syncerr.WrapWithContext(syncerr.KindMaterialization, "sync cycle",
				fmt.Errorf("panic: %v", r), map[string]any{"cycle_id": result.ID})
		}
		j.finish(ctx, span, result)
	}()

	snap, err := j.store.Fetch(ctx, j.config.CollectionPath)
	if err != nil {
		result.Err = syncerr.Ensure(syncerr.KindFetch, "fetch snapshot", err)
		return result
	}

	var table *measurement.Table
	if snap.IsEmpty() {
		if !j.config.WriteEmpty {
			result.Outcome = OutcomeEmpty
			return result
		}
		table = measurement.HeaderOnly()
	} else {
		table = measurement.Materialize(snap)
	}

	if err := j.output.Persist(table); err != nil {
		result.Err = syncerr.Ensure(syncerr.KindMaterialization, "persist snapshot", err)
		return result
	}

	result.Outcome = OutcomeWritten
	result.Rows = table.Len()
	result.Columns = table.Columns

	j.publish(ctx, result, table)

	return result
}

// publish hands a written table to the optional mirror and notifier. Their
// failures are logged and do not fail the cycle.
func (j *SyncJob) publish(ctx context.Context, result *CycleResult, table *measurement.Table) {
	if j.mirror != nil {
		if err := j.mirror.ReplaceSnapshot(ctx, table); err != nil {
			j.logger.Warn().Err(err).Str("cycle_id", result.ID).Msg("failed to mirror snapshot")
		}
	}

	if j.notifier != nil {
		event := SnapshotEvent{
			CycleID:        result.ID,
			CollectionPath: j.config.CollectionPath,
			OutputPath:     j.output.Path(),
			Rows:           result.Rows,
			Columns:        result.Columns,
			WrittenAt:      time.Now().UTC(),
		}
		if err := j.notifier.SnapshotWritten(ctx, event); err != nil {
			j.logger.Warn().Err(err).Str("cycle_id", result.ID).Msg("failed to publish snapshot notification")
		}
	}
}

func (j *SyncJob) finish(ctx context.Context, span trace.Span, result *CycleResult) {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	var kind string
	if result.Err != nil {
		result.Outcome = OutcomeFailed
		if k, ok := syncerr.KindOf(result.Err); ok {
			kind = string(k)
		}
		span.RecordError(result.Err)
		span.SetStatus(codes.Error, result.Err.Error())
	}
	span.SetAttributes(
		attribute.String("sync.outcome", result.Outcome),
		attribute.Int("sync.rows", result.Rows),
	)
	span.End()

	j.updateMetrics(result, kind)
	j.instruments.RecordCycle(ctx, result.Outcome, kind, result.Rows, result.Duration)
	metrics.ObserveCycle(result.Outcome, kind, result.Rows, result.Duration, result.EndTime)

	j.logCycle(result, kind)
}

// logCycle writes the one log line that reports a cycle.
func (j *SyncJob) logCycle(result *CycleResult, kind string) {
	switch result.Outcome {
	case OutcomeWritten:
		j.logger.Info().
			Str("cycle_id", result.ID).
			Int("rows", result.Rows).
			Int("columns", len(result.Columns)).
			Str("output_path", j.output.Path()).
			Dur("duration", result.Duration).
			Msg("snapshot written")
	case OutcomeEmpty:
		j.logger.Info().
			Str("cycle_id", result.ID).
			Str("collection_path", j.config.CollectionPath).
			Dur("duration", result.Duration).
			Msg("store is empty")
	default:
		event := j.logger.Error().
			Err(result.Err).
			Str("cycle_id", result.ID).
			Str("error_kind", kind).
			Dur("duration", result.Duration)
		var serr *syncerr.Error
		if errors.As(result.Err, &serr) && len(serr.Context) > 0 {
			event = event.Fields(serr.Context)
		}
		event.Msg("sync cycle failed")
	}
}

func (j *SyncJob) updateMetrics(result *CycleResult, kind string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.metrics.TotalCycles++
	j.metrics.LastCycleAt = result.EndTime
	j.metrics.LastCycleOutcome = result.Outcome
	j.metrics.LastDuration = result.Duration
	j.metrics.TotalDuration += result.Duration

	switch result.Outcome {
	case OutcomeFailed:
		j.metrics.FailedCycles++
		j.metrics.ConsecutiveFailures++
		j.metrics.LastError = result.Err.Error()
		j.metrics.LastErrorKind = kind
		return
	case OutcomeWritten:
		j.metrics.WrittenCycles++
		j.metrics.LastRows = result.Rows
	case OutcomeEmpty:
		j.metrics.EmptyCycles++
	}
	j.metrics.ConsecutiveFailures = 0
	j.metrics.LastSuccessAt = result.EndTime
}

// GetMetrics returns a copy of the current metrics.
func (j *SyncJob) GetMetrics() SyncMetrics {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.metrics
}

// CollectionPath returns the store path the job mirrors.
func (j *SyncJob) CollectionPath() string {
	return j.config.CollectionPath
}

// OutputPath returns the destination file path.
func (j *SyncJob) OutputPath() string {
	return j.output.Path()
}

// Ready reports whether at least one cycle has succeeded.
func (j *SyncJob) Ready() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return !j.metrics.LastSuccessAt.IsZero()
}

// MetricsSnapshot returns the current metrics as log fields.
func (j *SyncJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	snapshot := map[string]interface{}{
		"total_cycles":         m.TotalCycles,
		"written_cycles":       m.WrittenCycles,
		"empty_cycles":         m.EmptyCycles,
		"failed_cycles":        m.FailedCycles,
		"consecutive_failures": m.ConsecutiveFailures,
		"last_cycle_outcome":   m.LastCycleOutcome,
		"last_duration":        m.LastDuration.String(),
		"last_rows":            m.LastRows,
		"total_duration":       m.TotalDuration.String(),
		"collection_path":      j.config.CollectionPath,
		"output_path":          j.output.Path(),
	}
	if !m.LastCycleAt.IsZero() {
		snapshot["last_cycle_at"] = m.LastCycleAt
	}
	if !m.LastSuccessAt.IsZero() {
		snapshot["last_success_at"] = m.LastSuccessAt
	}
	if m.LastError != "" {
		snapshot["last_error"] = m.LastError
		snapshot["last_error_kind"] = m.LastErrorKind
	}
	return snapshot
}
