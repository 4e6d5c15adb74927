package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/beacon-presence/pkg/timeutil"
)

var errDown = errors.New("down")

func fail(ctx context.Context) error { return errDown }
func ok(ctx context.Context) error   { return nil }

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	var transitions []State
	cb := New("test",
		WithFailureThreshold(2),
		WithCooldown(time.Hour),
		WithOnStateChange(func(name string, from, to State) {
			transitions = append(transitions, to)
		}),
	)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)
	assert.Equal(t, []State{StateOpen}, transitions)
}

func TestCircuitBreaker_SuccessResetsFailureRun(t *testing.T) {
	cb := New("test", WithFailureThreshold(2))

	_ = cb.Execute(context.Background(), fail)
	require.NoError(t, cb.Execute(context.Background(), ok))
	_ = cb.Execute(context.Background(), fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	cb := New("test",
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithCooldown(time.Minute),
		WithClock(clock),
	)

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)

	clock.Advance(time.Second)
	assert.NoError(t, cb.Execute(context.Background(), ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	cb := New("test", WithFailureThreshold(1), WithCooldown(time.Minute), WithClock(clock))

	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Minute)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errDown)
	assert.Equal(t, StateOpen, cb.State())

	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen, "cooldown restarts at the failed trial")
}

func TestCircuitBreaker_HalfOpenSlots(t *testing.T) {
	clock := timeutil.NewManualClock(t0)
	cb := New("test", WithFailureThreshold(1), WithCooldown(time.Minute), WithClock(clock))
	_ = cb.Execute(context.Background(), fail)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrTooManyRequests)
	close(release)
	require.NoError(t, <-done)
}

func TestCircuitBreaker_IsFailureFiltersErrors(t *testing.T) {
	ignored := errors.New("bad input")
	cb := New("test",
		WithFailureThreshold(1),
		WithIsFailure(func(err error) bool { return !errors.Is(err, ignored) }),
	)

	assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error { return ignored }), ignored)
	assert.Equal(t, StateClosed, cb.State())
}

func TestPresets_Names(t *testing.T) {
	assert.Equal(t, "recorder-postgres", RecorderBreaker("postgres", nil).Name())
	assert.Equal(t, "sink-log", SinkBreaker("log", nil).Name())
	assert.Equal(t, "outbox-postgres", OutboxBreaker("postgres", nil).Name())
}

func TestOutboxBreaker_OpensOnFirstFailure(t *testing.T) {
	var opened string
	cb := OutboxBreaker("postgres", func(name string, _, to State) {
		if to == StateOpen {
			opened = name
		}
	})

	_ = cb.Execute(context.Background(), fail)
	assert.Equal(t, "outbox-postgres", opened)
	assert.ErrorIs(t, cb.Execute(context.Background(), ok), ErrCircuitOpen)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
