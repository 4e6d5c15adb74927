// Package circuitbreaker stops calling a backend after repeated failures and
// tries it again after a cooldown. The presence daemon puts one in front of
// every recorder and reminder sink so a dead backend fails fast.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alem-hub/beacon-presence/pkg/timeutil"
)

// State is the breaker position.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets a few trial calls through.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

var (
	// ErrCircuitOpen rejects a call while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects a call when every half-open trial slot is taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds the breaker thresholds.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open the breaker (default 5).
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it (default 2).
	SuccessThreshold int
	// Cooldown is the time spent open before trials start (default 30s).
	Cooldown time.Duration
	// HalfOpenSlots bounds concurrent trial calls (default 1).
	HalfOpenSlots int

	// OnStateChange, if set, is called under the breaker lock.
	OnStateChange func(name string, from, to State)
	// IsFailure decides which errors count. Nil counts every error.
	IsFailure func(error) bool

	Clock timeutil.Clock
}

// Option adjusts a Config.
type Option func(*Config)

// WithFailureThreshold sets how many consecutive failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close the breaker.
func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

// WithCooldown sets how long the breaker stays open.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Cooldown = d
		}
	}
}

// WithHalfOpenSlots sets how many trial calls may run while half-open.
func WithHalfOpenSlots(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.HalfOpenSlots = n
		}
	}
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) { c.IsFailure = fn }
}

// WithClock replaces the wall clock, for tests.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Config) {
		if clock != nil {
			c.Clock = clock
		}
	}
}

// CircuitBreaker guards calls to one backend. It is safe for concurrent use.
type CircuitBreaker struct {
	cfg Config

	mu        sync.Mutex
	state     State
	failures  int // consecutive, while closed
	successes int // consecutive, while half-open
	openedAt  time.Time
	trials    int // in-flight half-open calls
}

// New creates a closed breaker.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
		HalfOpenSlots:    1,
		Clock:            timeutil.SystemClock{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{cfg: cfg}
}

// Execute runs fn unless the breaker rejects the call, and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.cfg.Clock.Now().Sub(cb.openedAt) < cb.cfg.Cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trials = 1
		return nil
	default:
		if cb.trials >= cb.cfg.HalfOpenSlots {
			return ErrTooManyRequests
		}
		cb.trials++
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	failed := err != nil
	if failed && cb.cfg.IsFailure != nil {
		failed = cb.cfg.IsFailure(err)
	}

	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		if cb.trials > 0 {
			cb.trials--
		}
		if failed {
			cb.trip()
			return
		}
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed)
		}
	case StateOpen:
		// A call admitted before the trip finished late; the breaker is
		// already open, so the outcome changes nothing.
	}
}

// Must be called with mu held.
func (cb *CircuitBreaker) trip() {
	cb.openedAt = cb.cfg.Clock.Now()
	cb.transition(StateOpen)
}

// Must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures, cb.successes, cb.trials = 0, 0, 0

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the breaker name used in logs and metrics.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// RecorderBreaker guards a live session recorder. Three failed sessions in a
// row open it for 30s.
func RecorderBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("recorder-"+name,
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithCooldown(30*time.Second),
		WithOnStateChange(onStateChange),
	)
}

// SinkBreaker guards a reminder sink. It tolerates more failures and
// recovers sooner than a recorder, since reminders go stale quickly.
func SinkBreaker(name string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("sink-"+name,
		WithFailureThreshold(5),
		WithSuccessThreshold(1),
		WithCooldown(15*time.Second),
		WithHalfOpenSlots(2),
		WithOnStateChange(onStateChange),
	)
}

// OutboxBreaker guards the remote target of the outbox sync job. It opens on
// the first failed run so the next scheduled runs skip the target until the
// cooldown has passed.
func OutboxBreaker(target string, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("outbox-"+target,
		WithFailureThreshold(1),
		WithSuccessThreshold(1),
		WithCooldown(2*time.Minute),
		WithOnStateChange(onStateChange),
	)
}
