// Package observability exposes Prometheus metrics for the presence daemon.
// Every method is nil-safe so components can run without metrics.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/beacon-presence/pkg/circuitbreaker"
)

const namespace = "presence"

// Metrics holds all collectors.
type Metrics struct {
	registry *prometheus.Registry

	transitions       *prometheus.CounterVec
	inside            prometheus.Gauge
	sessionElapsed    prometheus.Gauge
	batches           prometheus.Counter
	observations      prometheus.Counter
	scanStatus        *prometheus.GaugeVec
	reminders         *prometheus.CounterVec
	sessionsRecorded  prometheus.Counter
	sessionDuration   prometheus.Histogram
	sideEffectErrors  *prometheus.CounterVec
	sideEffectDropped prometheus.Counter
	cbState           *prometheus.GaugeVec
	eventsPublished   *prometheus.CounterVec
	handlerFailures   *prometheus.CounterVec
	scanDecodeErrors  prometheus.Counter
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Presence transitions by kind.",
		}, []string{"kind"}),
		inside: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inside",
			Help:      "1 while the student is inside the study room.",
		}),
		sessionElapsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_elapsed_seconds",
			Help:      "Elapsed time of the running study session.",
		}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_batches_total",
			Help:      "Scan batches received from the source.",
		}),
		observations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_observations_total",
			Help:      "Advertisements received from the source.",
		}),
		scanStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_status",
			Help:      "1 for the current scan source status.",
		}, []string{"status"}),
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_issued_total",
			Help:      "Reminders handed to the sink by kind.",
		}, []string{"kind"}),
		sessionsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_recorded_total",
			Help:      "Completed sessions accepted by the recorder.",
		}),
		sessionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Length of completed study sessions.",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 5400, 7200, 10800, 14400},
		}),
		sideEffectErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Failed side effects by kind.",
		}, []string{"effect"}),
		sideEffectDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effects_dropped_total",
			Help:      "Side effects dropped because the worker queue was full.",
		}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cb_state",
			Help:      "Circuit breaker state gauge (0 closed, 1 half, 2 open).",
		}, []string{"target"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published on the bus by type.",
		}, []string{"type"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_handler_failures_total",
			Help:      "Event handler errors by event type.",
		}, []string{"type"}),
		scanDecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_decode_errors_total",
			Help:      "Scan feed messages that could not be decoded.",
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Background job runs by job and result.",
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.inside,
		m.sessionElapsed,
		m.batches,
		m.observations,
		m.scanStatus,
		m.reminders,
		m.sessionsRecorded,
		m.sessionDuration,
		m.sideEffectErrors,
		m.sideEffectDropped,
		m.cbState,
		m.eventsPublished,
		m.handlerFailures,
		m.scanDecodeErrors,
		m.jobRuns,
		m.jobDuration,
		m.httpRequestsTotal,
		m.httpDuration,
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Transition counts a presence transition and updates the inside gauge.
func (m *Metrics) Transition(kind string, inside bool) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(kind).Inc()
	if inside {
		m.inside.Set(1)
	} else {
		m.inside.Set(0)
		m.sessionElapsed.Set(0)
	}
}

// Elapsed sets the running session gauge.
func (m *Metrics) Elapsed(d time.Duration) {
	if m == nil {
		return
	}
	m.sessionElapsed.Set(d.Seconds())
}

// Batch counts a received scan batch.
func (m *Metrics) Batch(observations int) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.observations.Add(float64(observations))
}

// ScanStatus marks status as the current one.
func (m *Metrics) ScanStatus(status string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		m.scanStatus.WithLabelValues(s).Set(0)
	}
	m.scanStatus.WithLabelValues(status).Set(1)
}

// Reminder counts an issued reminder.
func (m *Metrics) Reminder(kind string) {
	if m == nil {
		return
	}
	m.reminders.WithLabelValues(kind).Inc()
}

// SessionRecorded counts a recorded session.
func (m *Metrics) SessionRecorded(d time.Duration) {
	if m == nil {
		return
	}
	m.sessionsRecorded.Inc()
	m.sessionDuration.Observe(d.Seconds())
}

// SideEffectFailed counts a failed side effect.
func (m *Metrics) SideEffectFailed(effect string) {
	if m == nil {
		return
	}
	m.sideEffectErrors.WithLabelValues(effect).Inc()
}

// SideEffectDropped counts a side effect rejected by a full queue.
func (m *Metrics) SideEffectDropped() {
	if m == nil {
		return
	}
	m.sideEffectDropped.Inc()
}

// BreakerStateChanged matches circuitbreaker.Config.OnStateChange.
func (m *Metrics) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	if m == nil {
		return
	}
	var v float64
	switch to {
	case circuitbreaker.StateHalfOpen:
		v = 1
	case circuitbreaker.StateOpen:
		v = 2
	}
	m.cbState.WithLabelValues(name).Set(v)
}

// EventPublished counts an event handed to the bus.
func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

// EventHandlerFailed counts a failed event handler.
func (m *Metrics) EventHandlerFailed(eventType string) {
	if m == nil {
		return
	}
	m.handlerFailures.WithLabelValues(eventType).Inc()
}

// ScanDecodeError counts an undecodable scan feed message.
func (m *Metrics) ScanDecodeError() {
	if m == nil {
		return
	}
	m.scanDecodeErrors.Inc()
}

// JobRun records one background job run.
func (m *Metrics) JobRun(job string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.jobRuns.WithLabelValues(job, result).Inc()
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// HTTPRequest records one served HTTP request.
func (m *Metrics) HTTPRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}
