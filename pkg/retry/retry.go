// Package retry repeats a failing side effect with capped exponential backoff
// and jitter. Used around session recorders, reminder sinks, the outbox sync
// target and the Redis scan feed.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Permanent marks err as not worth retrying. Do returns the wrapped error.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Config holds the backoff policy.
type Config struct {
	// MaxAttempts counts the first call (default 3).
	MaxAttempts int
	// InitialDelay is the wait after the first failure (default 100ms).
	InitialDelay time.Duration
	// MaxDelay caps every wait (default 30s).
	MaxDelay time.Duration
	// Multiplier grows the wait per attempt (default 2).
	Multiplier float64
	// Jitter spreads each wait by up to ±Jitter of its length (default 0.1).
	Jitter float64
	// RetryIf decides whether an error is retried. Nil retries everything
	// except Permanent errors and context cancellation.
	RetryIf func(error) bool
}

// Option adjusts a Config.
type Option func(*Config)

func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InitialDelay = d
		}
	}
}

func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.MaxDelay = d
		}
	}
}

// WithMultiplier ignores values below 1.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1 {
			c.Multiplier = m
		}
	}
}

// WithJitter accepts values in [0, 1].
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1 {
			c.Jitter = j
		}
	}
}

func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

// Retrier runs operations under one backoff policy.
type Retrier struct {
	cfg Config
}

// New creates a Retrier.
func New(opts ...Option) *Retrier {
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retrier{cfg: cfg}
}

// Do calls op until it succeeds, returns an error that is not retried, or
// runs out of attempts. The last error is returned; a cancelled ctx ends the
// wait early and returns the last error seen.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		last = err

		if attempt >= r.cfg.MaxAttempts || !r.retryable(err) {
			return err
		}

		t := time.NewTimer(r.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return last
		case <-t.C:
		}
	}
}

func (r *Retrier) retryable(err error) bool {
	if r.cfg.RetryIf != nil {
		return r.cfg.RetryIf(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Delay returns the wait after the given failed attempt, jitter included.
// Attempts below 1 are treated as 1.
func (r *Retrier) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(attempt-1))
	d = math.Min(d, float64(r.cfg.MaxDelay))
	if r.cfg.Jitter > 0 {
		d += d * r.cfg.Jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// RecorderRetrier is used for live session recorders (Postgres, Kafka).
// A completed session is worth a few seconds of patience.
func RecorderRetrier() *Retrier {
	return New(
		WithMaxAttempts(4),
		WithInitialDelay(200*time.Millisecond),
		WithMaxDelay(5*time.Second),
		WithJitter(0.2),
	)
}

// SinkRetrier is used for reminder delivery. Reminders are time sensitive,
// so it gives up quickly.
func SinkRetrier() *Retrier {
	return New(
		WithMaxAttempts(2),
		WithInitialDelay(100*time.Millisecond),
		WithMaxDelay(500*time.Millisecond),
		WithMultiplier(1.5),
	)
}

// OutboxRetrier is used by the outbox sync job for each replayed session.
// The job runs again on its schedule, so one short retry is enough.
func OutboxRetrier() *Retrier {
	return New(
		WithMaxAttempts(2),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
	)
}

// ScanFeedBackoff only supplies Delay to the Redis scan feed, which waits
// between failed BRPOP calls for as long as the outage lasts.
func ScanFeedBackoff() *Retrier {
	return New(
		WithInitialDelay(250*time.Millisecond),
		WithMaxDelay(10*time.Second),
		WithJitter(0.2),
	)
}
