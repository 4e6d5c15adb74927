// Package notify assembles reminder delivery and session recording
// backends: a log sink, fan-out over several backends and resilient
// wrappers that add retries and a circuit breaker to any backend.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOG SINK
// ══════════════════════════════════════════════════════════════════════════════

// LogSink writes reminders to the structured log. It is the default sink on
// a headless desk.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. A nil logger uses slog.Default().
func NewLogSink(log *slog.Logger) *LogSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogSink{logger: log.With(logger.Component("reminders"))}
}

// Deliver implements reminder.Sink.
func (s *LogSink) Deliver(ctx context.Context, r reminder.Reminder) error {
	attrs := []any{
		"kind", r.Kind,
		"interactive", r.Kind.Interactive(),
		logger.Time("issued_at", r.IssuedAt),
	}
	if r.Minutes > 0 {
		attrs = append(attrs, "minutes", r.Minutes)
	}
	if r.Forced {
		attrs = append(attrs, "forced", true)
	}
	s.logger.InfoContext(ctx, r.Message(), attrs...)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// FAN-OUT
// ══════════════════════════════════════════════════════════════════════════════

// NamedSink pairs a sink with a name used in errors.
type NamedSink struct {
	Name string
	Sink reminder.Sink
}

// FanOutSink delivers every reminder to all sinks. One failing sink does not
// stop the others; the joined error names every failure.
type FanOutSink struct {
	sinks []NamedSink
}

// NewFanOutSink creates a fan-out over sinks.
func NewFanOutSink(sinks ...NamedSink) *FanOutSink {
	return &FanOutSink{sinks: sinks}
}

// Deliver implements reminder.Sink.
func (f *FanOutSink) Deliver(ctx context.Context, r reminder.Reminder) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Sink.Deliver(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (f *FanOutSink) Len() int { return len(f.sinks) }

// NamedRecorder pairs a recorder with a name used in errors.
type NamedRecorder struct {
	Name     string
	Recorder session.Recorder
}

// MultiRecorder hands every completed session to all recorders.
type MultiRecorder struct {
	recorders []NamedRecorder
}

// NewMultiRecorder creates a fan-out over recorders.
func NewMultiRecorder(recorders ...NamedRecorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

// Record implements session.Recorder.
func (m *MultiRecorder) Record(ctx context.Context, rec session.Record) error {
	var errs []error
	for _, r := range m.recorders {
		if err := r.Recorder.Record(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("recorder %s: %w", r.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of recorders.
func (m *MultiRecorder) Len() int { return len(m.recorders) }
