package middleware_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/sensorbridge/internal/api/middleware"
)

// tracedOpsRouter installs a recording tracer and serves the status routes
// behind RequestID and Tracing.
func tracedOpsRouter(t *testing.T) (*chi.Mux, *tracetest.SpanRecorder) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing("sensorbridge"))
	r.Get("/v1/ops/{probe}", func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, trace.SpanFromContext(r.Context()).SpanContext().IsValid())
		if chi.URLParam(r, "probe") == "ready" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"OK"}`))
	})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return r, sr
}

func spanAttrs(s sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := map[attribute.Key]attribute.Value{}
	for _, kv := range s.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracing_SpanNamedByRoute(t *testing.T) {
	router, sr := tracedOpsRouter(t)

	w := get(router, "/v1/ops/health", map[string]string{middleware.RequestIDHeader: "lb-9"})
	require.Equal(t, http.StatusOK, w.Code)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /v1/ops/{probe}", spans[0].Name())
	assert.Equal(t, trace.SpanKindServer, spans[0].SpanKind())

	attrs := spanAttrs(spans[0])
	assert.Equal(t, "/v1/ops/{probe}", attrs["http.route"].AsString())
	assert.Equal(t, "/v1/ops/health", attrs["url.path"].AsString())
	assert.Equal(t, "sensorbridge", attrs["service.name"].AsString())
	assert.Equal(t, "lb-9", attrs["request.id"].AsString())
	assert.Equal(t, int64(200), attrs["http.response.status_code"].AsInt64())
	assert.Equal(t, int64(len(`{"status":"OK"}`)), attrs["http.response.body.size"].AsInt64())
}

func TestTracing_ContinuesCallerTrace(t *testing.T) {
	router, sr := tracedOpsRouter(t)

	get(router, "/v1/ops/status", map[string]string{
		"traceparent": "00-0af7651916cd43dd8448eb211c80319c-b7ad6b7169203331-01",
	})

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, "b7ad6b7169203331", spans[0].Parent().SpanID().String())
}

func TestTracing_StatusCodes(t *testing.T) {
	tests := []struct {
		path      string
		status    int
		wantError bool
	}{
		{"/v1/ops/ready", http.StatusServiceUnavailable, true},
		{"/metrics", http.StatusNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			router, sr := tracedOpsRouter(t)

			get(router, tt.path, nil)

			spans := sr.Ended()
			require.Len(t, spans, 1)
			assert.Equal(t, int64(tt.status), spanAttrs(spans[0])["http.response.status_code"].AsInt64())
			if tt.wantError {
				assert.Equal(t, codes.Error, spans[0].Status().Code)
				assert.Equal(t, http.StatusText(tt.status), spans[0].Status().Description)
			} else {
				assert.Equal(t, codes.Unset, spans[0].Status().Code, "4xx is the caller's error")
			}
		})
	}
}
