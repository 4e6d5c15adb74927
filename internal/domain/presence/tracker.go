// Package presence implements the Inside/Outside state machine driven by
// beacon observations and a periodic absence check.
//
// The tracker never reads a clock: every input carries its own timestamp.
// It is not safe for concurrent use; the monitor loop owns the only instance.
package presence

import (
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/beacon"
)

// Default timings. The absence threshold is compared with a strict
// greater-than, so a tick exactly ten seconds after the last sighting keeps
// the student inside.
const (
	DefaultCheckInterval    = 5 * time.Second
	DefaultAbsenceThreshold = 10 * time.Second
)

// TransitionKind distinguishes enter from exit.
type TransitionKind string

const (
	Enter TransitionKind = "enter"
	Exit  TransitionKind = "exit"
)

// Transition is emitted exactly once per change of presence.
type Transition struct {
	Kind TransitionKind
	At   time.Time
}

// IsEnter returns true for an enter transition.
func (t Transition) IsEnter() bool { return t.Kind == Enter }

// IsExit returns true for an exit transition.
func (t Transition) IsExit() bool { return t.Kind == Exit }

// State is the presence snapshot.
// Inside implies LastEnterAt is set and not before LastExitAt.
// LastSeenAt is only meaningful while Inside.
type State struct {
	Inside      bool
	LastSeenAt  *time.Time
	LastEnterAt *time.Time
	LastExitAt  *time.Time
}

func (s State) clone() State {
	return State{
		Inside:      s.Inside,
		LastSeenAt:  copyTime(s.LastSeenAt),
		LastEnterAt: copyTime(s.LastEnterAt),
		LastExitAt:  copyTime(s.LastExitAt),
	}
}

// Label returns "inside" or "outside".
func (s State) Label() string {
	if s.Inside {
		return "inside"
	}
	return "outside"
}

// Tracker holds the presence state for the single configured beacon.
type Tracker struct {
	target           beacon.TargetIdentity
	absenceThreshold time.Duration
	state            State
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithAbsenceThreshold overrides the absence threshold.
func WithAbsenceThreshold(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.absenceThreshold = d
		}
	}
}

// NewTracker creates a tracker in the Outside state.
func NewTracker(target beacon.TargetIdentity, opts ...Option) *Tracker {
	t := &Tracker{
		target:           target,
		absenceThreshold: DefaultAbsenceThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ObserveBatch ingests one batch of scan results received at now.
// A matching observation refreshes LastSeenAt; if the tracker was Outside it
// moves Inside and returns an enter transition. A now earlier than the last
// recorded sighting or exit is treated as that instant, so recorded times
// never go backwards.
func (t *Tracker) ObserveBatch(batch []beacon.Observation, now time.Time) (Transition, bool) {
	if !beacon.MatchAny(batch, t.target) {
		return Transition{}, false
	}

	now = notBefore(now, t.state.LastSeenAt, t.state.LastExitAt)
	t.state.LastSeenAt = timePtr(now)

	if t.state.Inside {
		return Transition{}, false
	}

	t.state.Inside = true
	t.state.LastEnterAt = timePtr(now)
	return Transition{Kind: Enter, At: now}, true
}

// Tick runs the periodic absence check at now.
func (t *Tracker) Tick(now time.Time) (Transition, bool) {
	if !t.state.Inside {
		return Transition{}, false
	}

	if t.state.LastSeenAt != nil && now.Sub(*t.state.LastSeenAt) <= t.absenceThreshold {
		return Transition{}, false
	}

	t.state.Inside = false
	t.state.LastExitAt = timePtr(now)
	return Transition{Kind: Exit, At: now}, true
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	return t.state.clone()
}

// Inside reports whether the student is currently inside.
func (t *Tracker) Inside() bool {
	return t.state.Inside
}

// AbsenceThreshold returns the configured threshold.
func (t *Tracker) AbsenceThreshold() time.Duration {
	return t.absenceThreshold
}

func notBefore(now time.Time, floors ...*time.Time) time.Time {
	for _, f := range floors {
		if f != nil && now.Before(*f) {
			now = *f
		}
	}
	return now
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
