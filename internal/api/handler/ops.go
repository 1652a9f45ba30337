// Package handler provides the HTTP handlers of the status server.
package handler

import (
	"net/http"
	"time"

	"github.com/breatheroute/sensorbridge/internal/api/models"
	"github.com/breatheroute/sensorbridge/internal/api/response"
	"github.com/breatheroute/sensorbridge/internal/provider/resilience"
	"github.com/breatheroute/sensorbridge/internal/worker"
)

// SyncSource exposes the state of the sync loop. *worker.SyncJob satisfies it.
type SyncSource interface {
	Ready() bool
	GetMetrics() worker.SyncMetrics
	CollectionPath() string
	OutputPath() string
}

// HealthReporter reports the health of an upstream. *store.Client satisfies it.
type HealthReporter interface {
	Health() resilience.Health
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	startedAt time.Time
	sync      SyncSource
	store     HealthReporter
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler. store may be nil.
func NewOpsHandler(version, buildTime string, sync SyncSource, store HealthReporter) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		startedAt: time.Now(),
		sync:      sync,
		store:     store,
		now:       time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(now),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
			"uptime":    now.Sub(h.startedAt).Round(time.Second).String(),
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. It answers 503 until the first
// sync cycle has succeeded.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if !h.sync.Ready() {
		response.NotReady(w, r, "no sync cycle has succeeded yet")
		return
	}

	m := h.sync.GetMetrics()
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"lastSuccessAt": models.Timestamp(m.LastSuccessAt),
		},
	})
}

// SystemStatus handles GET /v1/ops/status - sync loop and store status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	m := h.sync.GetMetrics()

	status := models.SystemStatus{
		Time: models.Timestamp(h.now()),
		Sync: syncStatus(h.sync, m),
	}
	if h.store != nil {
		status.Subsystems = append(status.Subsystems, subsystemStatus("store", h.store.Health()))
	}
	status.Status = overallStatus(m, status.Subsystems)

	response.JSON(w, r, http.StatusOK, status)
}

func syncStatus(src SyncSource, m worker.SyncMetrics) models.SyncStatus {
	s := models.SyncStatus{
		CollectionPath:      src.CollectionPath(),
		OutputPath:          src.OutputPath(),
		TotalCycles:         m.TotalCycles,
		WrittenCycles:       m.WrittenCycles,
		EmptyCycles:         m.EmptyCycles,
		FailedCycles:        m.FailedCycles,
		ConsecutiveFailures: m.ConsecutiveFailures,
		LastCycleAt:         models.TimestampPtr(m.LastCycleAt),
		LastSuccessAt:       models.TimestampPtr(m.LastSuccessAt),
		LastOutcome:         m.LastCycleOutcome,
		LastRows:            m.LastRows,
		LastDurationMs:      m.LastDuration.Milliseconds(),
	}
	if m.LastError != "" {
		s.LastError = &m.LastError
		s.LastErrorKind = &m.LastErrorKind
	}
	return s
}

func subsystemStatus(name string, health resilience.Health) models.SubsystemStatus {
	s := models.SubsystemStatus{
		Name:         name,
		CircuitState: health.Status(),
	}
	switch {
	case health.IsUnhealthy():
		s.Status = models.HealthStatusFail
	case health.IsDegraded():
		s.Status = models.HealthStatusDegraded
	default:
		s.Status = models.HealthStatusOK
	}
	if health.LastSuccessAt != nil {
		s.LastSuccessAt = models.TimestampPtr(*health.LastSuccessAt)
	}
	if health.LastFailureAt != nil {
		s.LastFailureAt = models.TimestampPtr(*health.LastFailureAt)
	}
	if health.LastError != "" {
		detail := health.LastError
		s.Detail = &detail
	}
	return s
}

// overallStatus is FAIL when the store circuit is open or no cycle has ever
// succeeded after a failure, DEGRADED while failures are being retried.
func overallStatus(m worker.SyncMetrics, subsystems []models.SubsystemStatus) models.HealthStatus {
	status := models.HealthStatusOK
	for _, s := range subsystems {
		switch s.Status {
		case models.HealthStatusFail:
			return models.HealthStatusFail
		case models.HealthStatusDegraded:
			status = models.HealthStatusDegraded
		}
	}
	if m.ConsecutiveFailures > 0 {
		if m.LastSuccessAt.IsZero() {
			return models.HealthStatusFail
		}
		status = models.HealthStatusDegraded
	}
	return status
}
