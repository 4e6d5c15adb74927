package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/pkg/circuitbreaker"
	"github.com/alem-hub/beacon-presence/pkg/logger"
	"github.com/alem-hub/beacon-presence/pkg/retry"
)

var at = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestLogSink_Deliver(t *testing.T) {
	sink := NewLogSink(logger.Discard())
	assert.NoError(t, sink.Deliver(context.Background(), reminder.Break(30, at)))
}

func TestFanOutSink_DeliversToAll(t *testing.T) {
	var got []string
	ok := reminder.SinkFunc(func(_ context.Context, r reminder.Reminder) error {
		got = append(got, string(r.Kind))
		return nil
	})
	broken := reminder.SinkFunc(func(context.Context, reminder.Reminder) error {
		return errors.New("offline")
	})

	f := NewFanOutSink(NamedSink{"a", ok}, NamedSink{"b", broken}, NamedSink{"c", ok})
	err := f.Deliver(context.Background(), reminder.Welcome(at))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink b: offline")
	assert.Len(t, got, 2)
	assert.Equal(t, 3, f.Len())
}

func TestMultiRecorder_JoinsErrors(t *testing.T) {
	rec, err := session.NewRecord("alice", at, at.Add(time.Hour))
	require.NoError(t, err)

	var calls int
	ok := session.RecorderFunc(func(context.Context, session.Record) error {
		calls++
		return nil
	})
	broken := session.RecorderFunc(func(context.Context, session.Record) error {
		return errors.New("disk full")
	})

	m := NewMultiRecorder(NamedRecorder{"pg", ok}, NamedRecorder{"outbox", broken})
	err = m.Record(context.Background(), rec)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "recorder outbox: disk full")
	assert.Equal(t, 1, calls)

	assert.NoError(t, NewMultiRecorder().Record(context.Background(), rec))
}

func newTestGuard(threshold int) *Guard {
	return NewGuard(
		retry.New(retry.WithMaxAttempts(2), retry.WithInitialDelay(time.Millisecond), retry.WithRetryIf(func(err error) bool { return err != nil })),
		circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(threshold), circuitbreaker.WithCooldown(time.Hour)),
		logger.Discard(),
	)
}

func TestGuard_RetriesTransientFailures(t *testing.T) {
	g := newTestGuard(3)

	var attempts int
	err := g.Run(context.Background(), shared.ErrSinkUnavailable, func(context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestGuard_InvalidInputNotRetried(t *testing.T) {
	g := newTestGuard(1)
	invalid := shared.NewDomainError("session", "Record", shared.ErrInvalidInput, "bad record")

	var attempts int
	for i := 0; i < 3; i++ {
		err := g.Run(context.Background(), shared.ErrRecorderUnavailable, func(context.Context) error {
			attempts++
			return invalid
		})
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	}

	assert.Equal(t, 3, attempts)
	assert.Equal(t, circuitbreaker.StateClosed, g.breaker.State())
}

func TestGuard_OpenCircuitReportsUnavailable(t *testing.T) {
	g := newTestGuard(1)
	down := errors.New("connection refused")

	err := g.Run(context.Background(), shared.ErrRecorderUnavailable, func(context.Context) error { return down })
	assert.ErrorIs(t, err, down)

	var attempts int
	err = g.Run(context.Background(), shared.ErrRecorderUnavailable, func(context.Context) error {
		attempts++
		return nil
	})

	assert.Zero(t, attempts)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestResilientSink_ForwardsAndReportsStateChanges(t *testing.T) {
	var transitions []string
	onChange := func(name string, from, to circuitbreaker.State) {
		transitions = append(transitions, name+":"+to.String())
	}

	var delivered []reminder.Kind
	inner := reminder.SinkFunc(func(_ context.Context, r reminder.Reminder) error {
		delivered = append(delivered, r.Kind)
		return nil
	})

	s := NewResilientSink("log", inner, onChange, logger.Discard())
	require.NoError(t, s.Deliver(context.Background(), reminder.SilentMode(at, true)))

	assert.Equal(t, []reminder.Kind{reminder.KindSilentMode}, delivered)
	assert.Empty(t, transitions)
}

func TestResilientRecorder_Forwards(t *testing.T) {
	rec, err := session.NewRecord("alice", at, at.Add(30*time.Minute))
	require.NoError(t, err)

	var got session.Record
	inner := session.RecorderFunc(func(_ context.Context, r session.Record) error {
		got = r
		return nil
	})

	r := NewResilientRecorder("pg", inner, nil, logger.Discard())
	require.NoError(t, r.Record(context.Background(), rec))
	assert.Equal(t, rec.ID, got.ID)
}

func TestOutboxTarget_OpensAfterOneFailedSession(t *testing.T) {
	rec, err := session.NewRecord("alice", at, at.Add(30*time.Minute))
	require.NoError(t, err)

	var states []string
	onChange := func(name string, _, to circuitbreaker.State) {
		states = append(states, name+":"+to.String())
	}

	var attempts int
	inner := session.RecorderFunc(func(context.Context, session.Record) error {
		attempts++
		return errors.New("connection refused")
	})

	target := NewOutboxTarget("postgres", inner, onChange, logger.Discard())
	err = target.Record(context.Background(), rec)
	require.Error(t, err)
	assert.Equal(t, 2, attempts, "one retry per session")
	assert.Equal(t, []string{"outbox-postgres:open"}, states)

	err = target.Record(context.Background(), rec)
	assert.ErrorIs(t, err, shared.ErrRecorderUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, attempts, "open breaker skips the target")
}
