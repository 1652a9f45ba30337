package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCycle(t *testing.T) {
	t.Run("failed cycles count by kind", func(t *testing.T) {
		before := testutil.ToFloat64(syncFailuresTotal.WithLabelValues("FETCH"))
		beforeCycles := testutil.ToFloat64(syncCyclesTotal.WithLabelValues(OutcomeFailed))

		ObserveCycle(OutcomeFailed, "FETCH", 0, time.Second, time.Now())
		ObserveCycle(OutcomeFailed, "FETCH", 0, time.Second, time.Now())

		assert.InDelta(t, 2, testutil.ToFloat64(syncFailuresTotal.WithLabelValues("FETCH"))-before, 0)
		assert.InDelta(t, 2, testutil.ToFloat64(syncCyclesTotal.WithLabelValues(OutcomeFailed))-beforeCycles, 0)
		assert.GreaterOrEqual(t, testutil.ToFloat64(consecutiveFailures), 2.0)
	})

	t.Run("written cycle resets failures and sets rows", func(t *testing.T) {
		finished := time.Unix(1714557600, 0)
		ObserveCycle(OutcomeWritten, "", 42, 300*time.Millisecond, finished)

		assert.InDelta(t, 42, testutil.ToFloat64(snapshotRows), 0)
		assert.InDelta(t, 0, testutil.ToFloat64(consecutiveFailures), 0)
		assert.InDelta(t, 1714557600, testutil.ToFloat64(lastSuccessTimestamp), 0)
	})

	t.Run("empty cycle keeps last row count", func(t *testing.T) {
		ObserveCycle(OutcomeWritten, "", 7, time.Millisecond, time.Now())
		ObserveCycle(OutcomeEmpty, "", 0, time.Millisecond, time.Now())

		assert.InDelta(t, 7, testutil.ToFloat64(snapshotRows), 0)
	})
}
