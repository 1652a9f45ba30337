package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/sensorbridge/internal/api/models"
)

func TestProblem_Write(t *testing.T) {
	p := models.NewNotReady("sb-test123", "no sync cycle has completed")
	p.Instance = "/v1/ops/ready"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "sb-test123", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))

	assert.Equal(t, models.ProblemTypeNotReady, result.Type)
	assert.Equal(t, "Not ready", result.Title)
	assert.Equal(t, http.StatusServiceUnavailable, result.Status)
	assert.Equal(t, "no sync cycle has completed", result.Detail)
	assert.Equal(t, "/v1/ops/ready", result.Instance)
	assert.Equal(t, "sb-test123", result.TraceID)
}

func TestProblemConstructors(t *testing.T) {
	tests := []struct {
		name   string
		p      *models.Problem
		typ    string
		title  string
		status int
	}{
		{"not found", models.NewNotFound("sb-1", "x"), models.ProblemTypeNotFound, "Not found", http.StatusNotFound},
		{"too many", models.NewTooManyRequests("sb-1", "x"), models.ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests},
		{"internal", models.NewInternalError("sb-1", "x"), models.ProblemTypeInternal, "Internal server error", http.StatusInternalServerError},
		{"not ready", models.NewNotReady("sb-1", "x"), models.ProblemTypeNotReady, "Not ready", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.p.Type)
			assert.Equal(t, tt.title, tt.p.Title)
			assert.Equal(t, tt.status, tt.p.Status)
			assert.Equal(t, "x", tt.p.Detail)
			assert.Equal(t, "sb-1", tt.p.TraceID)
		})
	}
}

func TestTimestamp_JSON(t *testing.T) {
	ts := models.Timestamp(time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600)))

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, `"2024-05-01T10:00:00Z"`, string(data))

	var back models.Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Time().Equal(ts.Time()))

	assert.Nil(t, models.TimestampPtr(time.Time{}))
	assert.NotNil(t, models.TimestampPtr(time.Now()))
}
