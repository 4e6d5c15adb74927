// Package session contains the study-session clock and the immutable record
// produced when a student leaves the room.
package session

import "time"

// Clock is the elapsed-time counter of the current study session.
// Elapsed is derived from the start timestamp; Advance only samples it, so a
// delayed or skipped tick never drifts the counter.
type Clock struct {
	running   bool
	startedAt time.Time
	elapsed   time.Duration
}

// NewClock returns a stopped clock.
func NewClock() *Clock {
	return &Clock{}
}

// Start begins a new counter at zero. A counter that is already running is
// discarded first.
func (c *Clock) Start(now time.Time) {
	c.running = true
	c.startedAt = now
	c.elapsed = 0
}

// Advance samples the elapsed time at now and returns it.
// It returns zero when the clock is stopped.
func (c *Clock) Advance(now time.Time) time.Duration {
	if !c.running {
		return 0
	}
	if d := now.Sub(c.startedAt); d > c.elapsed {
		c.elapsed = d
	}
	return c.elapsed
}

// Stop finalises the session at now and resets the counter.
// The returned duration is valid only when ok is true.
func (c *Clock) Stop(now time.Time) (final time.Duration, ok bool) {
	if !c.running {
		return 0, false
	}
	final = c.Advance(now)
	c.running = false
	c.startedAt = time.Time{}
	c.elapsed = 0
	return final, true
}

// Running reports whether a session is being timed.
func (c *Clock) Running() bool {
	return c.running
}

// StartedAt returns the start of the running session.
func (c *Clock) StartedAt() (time.Time, bool) {
	return c.startedAt, c.running
}

// Elapsed returns the last sampled elapsed time.
func (c *Clock) Elapsed() time.Duration {
	return c.elapsed
}

// ElapsedMinutes returns the whole minutes of the last sample.
func (c *Clock) ElapsedMinutes() int {
	return int(c.elapsed / time.Minute)
}
