// Package middleware provides HTTP middleware for the status server.
package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/breatheroute/sensorbridge/internal/api/models"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

const maxRequestIDLen = 64

type requestIDKey struct{}

// StateFunc reports the bridge state attached to panic reports, such as the
// collection being mirrored and the sync loop's health.
type StateFunc func() map[string]any

// RequestID tags each request with an id. A well-formed incoming
// X-Request-Id is kept so a caller can correlate probes; anything else is
// replaced with a fresh id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = newRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// WithRequestID returns ctx carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// GetRequestID returns the request id in ctx, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func newRequestID() string {
	return "sb-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// validRequestID accepts short ids of letters, digits and -_.: only, so ids
// are safe to echo in headers and logs.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

// Logger logs one line per request. Successful requests log at debug so
// probes and scrapes stay out of the info log; 4xx and 5xx log at warn.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)

			next.ServeHTTP(rec, r)

			level := zerolog.DebugLevel
			if rec.statusCode >= http.StatusBadRequest {
				level = zerolog.WarnLevel
			}

			event := log.WithLevel(level).
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("route", routePattern(r)).
				Str("path", r.URL.Path).
				Int("status", rec.statusCode).
				Int64("bytes", rec.written).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr)
			event = withTraceIDs(r.Context(), event)
			event.Msg("status request")
		})
	}
}

// Recovery turns a panicking status handler into a 500 problem response.
// The report carries the request, the trace and, when state is set, the
// bridge state at the time of the panic. http.ErrAbortHandler is re-raised.
func Recovery(log zerolog.Logger, state StateFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel panic value
					panic(rec)
				}

				requestID := GetRequestID(r.Context())
				event := log.Error().
					Str("request_id", requestID).
					Str("method", r.Method).
					Str("route", routePattern(r)).
					Interface("panic", rec).
					Bytes("stack", debug.Stack())
				event = withTraceIDs(r.Context(), event)
				if state != nil {
					event = event.Fields(state())
				}
				event.Msg("status handler panicked")

				problem := models.NewInternalError(requestID, "the status handler failed; the sync loop is unaffected")
				problem.Instance = r.URL.Path
				problem.Write(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func withTraceIDs(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		event = event.
			Str("trace_id", sc.TraceID().String()).
			Str("span_id", sc.SpanID().String())
	}
	return event
}
