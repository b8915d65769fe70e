package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.CycleFinished(OutcomeCompleted, 2*time.Second)
	c.CycleFinished(OutcomeCompleted, time.Second)
	c.CycleFinished(OutcomeSkipped, 0)
	c.RecordDelivered()
	c.RecordDelivered()
	c.RecordFailed()
	c.RecordStatus(StatusMalformed, 3)
	c.RecordStatus(StatusDuplicate, 0)
	c.Attempt(nil)
	c.Attempt(errors.New("boom"))
	c.Attempt(errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.cycles.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.cycles.WithLabelValues(OutcomeSkipped)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.records.WithLabelValues(StatusDelivered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.records.WithLabelValues(StatusFailed)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.records.WithLabelValues(StatusMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues(AttemptSuccess)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.attempts.WithLabelValues(AttemptFailure)))

	// Zero-count statuses are not materialised
	assert.Equal(t, 3, testutil.CollectAndCount(c.records))

	// Skipped cycles are not observed
	families, err := reg.Gather()
	require.NoError(t, err)
	var observed uint64
	for _, mf := range families {
		if mf.GetName() == "ledgersync_cycle_duration_seconds" {
			observed = mf.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), observed)
}

func TestCollector_Gauges(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	wm := time.Date(2024, 3, 2, 15, 30, 0, 0, time.UTC)
	c.SetWatermark(wm)
	c.SetWatermark(time.Time{})
	c.SetState(1)

	assert.Equal(t, float64(wm.Unix()), testutil.ToFloat64(c.watermark))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.state))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	c.CycleFinished(OutcomeEmpty, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ledgersync_cycles_total{outcome="empty"} 1`)
	assert.True(t, strings.Contains(string(body), "ledgersync_cycle_duration_seconds_bucket"))
}

func TestCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), 5*time.Millisecond)
}
