package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/pkg/circuitbreaker"
	"github.com/alem-hub/beacon-presence/pkg/logger"
	"github.com/alem-hub/beacon-presence/pkg/retry"
)

// Guard combines a retrier and a circuit breaker. The retries of one call
// count as a single breaker result.
type Guard struct {
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewGuard creates a guard. A nil logger uses slog.Default().
func NewGuard(retrier *retry.Retrier, breaker *circuitbreaker.CircuitBreaker, log *slog.Logger) *Guard {
	if log == nil {
		log = slog.Default()
	}
	return &Guard{
		retrier: retrier,
		breaker: breaker,
		logger:  log.With(logger.Component("guard"), "breaker", breaker.Name()),
	}
}

// Run executes fn under the breaker, retrying transient failures. Invalid
// input is never retried. An open breaker is reported as unavailable.
func (g *Guard) Run(ctx context.Context, unavailable error, fn func(context.Context) error) error {
	// Rejected input says nothing about backend health.
	var rejected error
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		return g.retrier.Do(ctx, func(ctx context.Context) error {
			err := fn(ctx)
			if err != nil && errors.Is(err, shared.ErrInvalidInput) {
				rejected = err
				return nil
			}
			return err
		})
	})
	if rejected != nil {
		return rejected
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		g.logger.Debug("call rejected by open circuit")
		return errors.Join(unavailable, err)
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// RESILIENT WRAPPERS
// ══════════════════════════════════════════════════════════════════════════════

// ResilientRecorder guards a session recorder.
type ResilientRecorder struct {
	inner session.Recorder
	guard *Guard
}

// NewResilientRecorder wraps inner with the recorder retry and breaker
// presets. onStateChange may be nil.
func NewResilientRecorder(name string, inner session.Recorder, onStateChange func(string, circuitbreaker.State, circuitbreaker.State), log *slog.Logger) *ResilientRecorder {
	return &ResilientRecorder{
		inner: inner,
		guard: NewGuard(retry.RecorderRetrier(), circuitbreaker.RecorderBreaker(name, onStateChange), log),
	}
}

// NewOutboxTarget wraps the remote recorder replayed into by the outbox sync
// job. It uses the outbox presets: one quick retry per session, and a
// breaker that skips the target for a while after a failed run.
func NewOutboxTarget(name string, inner session.Recorder, onStateChange func(string, circuitbreaker.State, circuitbreaker.State), log *slog.Logger) *ResilientRecorder {
	return &ResilientRecorder{
		inner: inner,
		guard: NewGuard(retry.OutboxRetrier(), circuitbreaker.OutboxBreaker(name, onStateChange), log),
	}
}

// Record implements session.Recorder.
func (r *ResilientRecorder) Record(ctx context.Context, rec session.Record) error {
	return r.guard.Run(ctx, shared.ErrRecorderUnavailable, func(ctx context.Context) error {
		return r.inner.Record(ctx, rec)
	})
}

// ResilientSink guards a reminder sink.
type ResilientSink struct {
	inner reminder.Sink
	guard *Guard
}

// NewResilientSink wraps inner with the sink retry and breaker presets.
// onStateChange may be nil.
func NewResilientSink(name string, inner reminder.Sink, onStateChange func(string, circuitbreaker.State, circuitbreaker.State), log *slog.Logger) *ResilientSink {
	return &ResilientSink{
		inner: inner,
		guard: NewGuard(retry.SinkRetrier(), circuitbreaker.SinkBreaker(name, onStateChange), log),
	}
}

// Deliver implements reminder.Sink.
func (s *ResilientSink) Deliver(ctx context.Context, r reminder.Reminder) error {
	return s.guard.Run(ctx, shared.ErrSinkUnavailable, func(ctx context.Context) error {
		return s.inner.Deliver(ctx, r)
	})
}
