package telegram

import (
	"context"
	"sync"
	"time"
)

// rateLimiter is a token bucket. Pause empties the bucket and holds further
// calls until the server-provided retry_after has passed.
type rateLimiter struct {
	mu sync.Mutex

	maxTokens  float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
	pausedTill time.Time

	now func() time.Time
}

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	now := time.Now()
	return &rateLimiter{
		maxTokens:  float64(burst),
		refillRate: perSecond,
		tokens:     float64(burst),
		lastRefill: now,
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (rl *rateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := rl.tryAcquire()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire returns (0, true) when a token was taken, otherwise the time
// until the next token.
func (rl *rateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Before(rl.pausedTill) {
		return rl.pausedTill.Sub(now), false
	}

	rl.refill(now)
	if rl.tokens < 1 {
		needed := 1 - rl.tokens
		return time.Duration(needed / rl.refillRate * float64(time.Second)), false
	}

	rl.tokens--
	return 0, true
}

// Must be called with mu held.
func (rl *rateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now
}

// Pause records a 429 from the API.
func (rl *rateLimiter) Pause(d time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = 0
	rl.lastRefill = now
	if till := now.Add(d); till.After(rl.pausedTill) {
		rl.pausedTill = till
	}
}
