// Package api provides the status server of the sensor bridge.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/breatheroute/sensorbridge/internal/api/handler"
	"github.com/breatheroute/sensorbridge/internal/api/middleware"
	"github.com/breatheroute/sensorbridge/internal/api/response"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	// Sync is the sync loop being reported on.
	Sync handler.SyncSource

	// Store reports the store client's circuit state. Optional.
	Store handler.HealthReporter

	// MetricsHandler serves /metrics (default: promhttp.Handler()).
	MetricsHandler http.Handler
}

// NewRouter creates a new chi router with the status routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "sensorbridge"
	}
	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger, bridgeState(cfg)))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Sync, cfg.Store)

	probeRateLimit := middleware.RateLimitByIP(middleware.ProbeRateLimit)
	statusRateLimit := middleware.RateLimitByIP(middleware.StatusRateLimit)

	r.Route("/v1/ops", func(r chi.Router) {
		r.With(probeRateLimit).Get("/health", opsHandler.HealthCheck)
		r.With(probeRateLimit).Get("/ready", opsHandler.ReadinessCheck)
		r.With(statusRateLimit).Get("/status", opsHandler.SystemStatus)
	})
	r.With(statusRateLimit).Handle("/metrics", metricsHandler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.URL.Path)
	})

	return r
}

// bridgeState reports what the bridge is mirroring and how the loop is
// doing, for panic reports.
func bridgeState(cfg RouterConfig) middleware.StateFunc {
	if cfg.Sync == nil {
		return nil
	}
	return func() map[string]any {
		m := cfg.Sync.GetMetrics()
		state := map[string]any{
			"collection_path":      cfg.Sync.CollectionPath(),
			"output_path":          cfg.Sync.OutputPath(),
			"sync_ready":           cfg.Sync.Ready(),
			"consecutive_failures": m.ConsecutiveFailures,
			"last_cycle_outcome":   m.LastCycleOutcome,
		}
		if cfg.Store != nil {
			state["store_circuit"] = cfg.Store.Health().CircuitState.String()
		}
		return state
	}
}
