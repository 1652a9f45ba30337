package middleware_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/sensorbridge/internal/api/middleware"
)

// opsRouter mounts handlers under the status server's route shape.
func opsRouter(log zerolog.Logger, state middleware.StateFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log, state))
	r.Get("/v1/ops/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	})
	r.Get("/v1/ops/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get("/v1/ops/status", func(http.ResponseWriter, *http.Request) {
		panic("status snapshot unavailable")
	})
	return r
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		entries = append(entries, entry)
	}
	return entries
}

func get(h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	router := opsRouter(zerolog.Nop(), nil)

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated when absent", "", false},
		{"caller id kept", "probe-7f3a:lb.eu_1", true},
		{"header injection replaced", "abc\r\nSet-Cookie: x", false},
		{"spaces replaced", "two words", false},
		{"overlong replaced", strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(router, "/v1/ops/health", map[string]string{middleware.RequestIDHeader: tt.incoming})

			id := w.Header().Get(middleware.RequestIDHeader)
			if tt.keep {
				assert.Equal(t, tt.incoming, id)
				return
			}
			assert.True(t, strings.HasPrefix(id, "sb-"), id)
			assert.Len(t, id, len("sb-")+32)
		})
	}
}

func TestRequestID_InContext(t *testing.T) {
	var seen string
	h := middleware.RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = middleware.GetRequestID(r.Context())
	}))

	w := get(h, "/v1/ops/ready", nil)

	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(middleware.RequestIDHeader))
	assert.Empty(t, middleware.GetRequestID(httptest.NewRequest(http.MethodGet, "/", http.NoBody).Context()))
}

func TestLogger_ProbeAtDebugFailureAtWarn(t *testing.T) {
	var buf bytes.Buffer
	router := opsRouter(zerolog.New(&buf), nil)

	get(router, "/v1/ops/health", map[string]string{middleware.RequestIDHeader: "lb-1"})
	get(router, "/v1/ops/ready", nil)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)

	health := entries[0]
	assert.Equal(t, "debug", health["level"])
	assert.Equal(t, "status request", health["message"])
	assert.Equal(t, "lb-1", health["request_id"])
	assert.Equal(t, "/v1/ops/health", health["route"])
	assert.Equal(t, float64(200), health["status"])
	assert.Equal(t, float64(len(`{"status":"OK"}`)), health["bytes"])

	ready := entries[1]
	assert.Equal(t, "warn", ready["level"])
	assert.Equal(t, float64(503), ready["status"])
}

func TestLogger_ProbesQuietAtInfo(t *testing.T) {
	var buf bytes.Buffer
	router := opsRouter(zerolog.New(&buf).Level(zerolog.InfoLevel), nil)

	for range 5 {
		get(router, "/v1/ops/health", nil)
	}

	assert.Empty(t, buf.String())
}

func TestRecovery_ReportsBridgeState(t *testing.T) {
	var buf bytes.Buffer
	state := func() map[string]any {
		return map[string]any{
			"collection_path":      "/measurements",
			"sync_ready":           true,
			"consecutive_failures": 2,
		}
	}
	router := opsRouter(zerolog.New(&buf), state)

	w := get(router, "/v1/ops/status", map[string]string{middleware.RequestIDHeader: "ops-42"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var problem map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "/v1/ops/status", problem["instance"])
	assert.Contains(t, problem["detail"], "sync loop is unaffected")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2, "panic report and request line")

	report := entries[0]
	assert.Equal(t, "error", report["level"])
	assert.Equal(t, "status handler panicked", report["message"])
	assert.Equal(t, "ops-42", report["request_id"])
	assert.Equal(t, "/v1/ops/status", report["route"])
	assert.Equal(t, "status snapshot unavailable", report["panic"])
	assert.Equal(t, "/measurements", report["collection_path"])
	assert.Equal(t, true, report["sync_ready"])
	assert.Equal(t, float64(2), report["consecutive_failures"])
	assert.NotEmpty(t, report["stack"])

	assert.Equal(t, float64(500), entries[1]["status"])
}

func TestRecovery_ReraisesAbort(t *testing.T) {
	h := middleware.Recovery(zerolog.Nop(), nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		get(h, "/metrics", nil)
	})
}
