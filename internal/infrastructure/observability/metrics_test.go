package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/beacon-presence/pkg/circuitbreaker"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Transition("enter", true)
		m.Elapsed(time.Second)
		m.Batch(3)
		m.Reminder("break")
		m.SessionRecorded(time.Minute)
		m.SideEffectFailed("sink")
		m.SideEffectDropped()
		m.BreakerStateChanged("x", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
		m.HTTPRequest("/healthz", 200, time.Millisecond)
		m.EventPublished("presence.entered")
		m.EventHandlerFailed("presence.entered")
		m.ScanDecodeError()
		m.JobRun("outbox_sync", true, time.Second)
	})
	assert.Nil(t, m.Registry())
}

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics()

	m.Transition("enter", true)
	m.Transition("exit", false)
	m.Transition("enter", true)
	m.Batch(4)
	m.Batch(0)
	m.Reminder("break")
	m.BreakerStateChanged("recorder-postgres", circuitbreaker.StateClosed, circuitbreaker.StateOpen)
	m.EventPublished("presence.entered")
	m.ScanDecodeError()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("enter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inside))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.batches))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.observations))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reminders.WithLabelValues("break")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cbState.WithLabelValues("recorder-postgres")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsPublished.WithLabelValues("presence.entered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.scanDecodeErrors))
}

func TestMetrics_ScanStatusIsExclusive(t *testing.T) {
	m := NewMetrics()
	all := []string{"ready", "adapter_off"}

	m.ScanStatus("adapter_off", all)
	m.ScanStatus("ready", all)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.scanStatus.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.scanStatus.WithLabelValues("adapter_off")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.Transition("enter", true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "presence_transitions_total")
}

func TestMetrics_JobRuns(t *testing.T) {
	m := NewMetrics()

	m.JobRun("outbox_sync", true, time.Millisecond)
	m.JobRun("outbox_sync", false, time.Millisecond)
	m.JobRun("outbox_sync", true, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("outbox_sync", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobRuns.WithLabelValues("outbox_sync", "failure")))
}
