package reminder

import "time"

// Thresholds.
const (
	// BreakEvery is the break reminder period in minutes.
	BreakEvery = 30

	// TimeSpentEvery is the quarter-hour period of time-spent reminders.
	TimeSpentEvery = 15

	// TimeSpentCap is the last quarter-hour announced; nothing fires past it.
	TimeSpentCap = 120
)

// Cursor is the per-session bookkeeping that prevents duplicate reminders.
type Cursor struct {
	BreakMark     int
	TimeSpentMark int
	SilentFired   bool

	// Evaluated is the highest elapsed minute already evaluated.
	Evaluated int
}

// Scheduler applies the reminder rules to presence transitions and elapsed
// minute samples. It is owned by the monitor loop and not safe for
// concurrent use.
type Scheduler struct {
	cursor Cursor
	armed  bool
}

// NewScheduler creates a scheduler with no active session.
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// OnEnter resets the cursor and returns the reminders due on entry:
// the welcome notice and the one-shot silent-mode reminder.
func (s *Scheduler) OnEnter(at time.Time) []Reminder {
	s.cursor = Cursor{SilentFired: true}
	s.armed = true

	return []Reminder{
		Welcome(at),
		SilentMode(at, false),
	}
}

// OnExit disarms minute evaluation and returns the exit notice.
func (s *Scheduler) OnExit(at time.Time, durationText string) []Reminder {
	s.armed = false
	return []Reminder{ExitNotice(durationText, at)}
}

// ForceSilent returns a silent-mode reminder regardless of the cursor.
func (s *Scheduler) ForceSilent(at time.Time) Reminder {
	return SilentMode(at, true)
}

// Evaluate processes the elapsed-minute sample m. Minutes skipped since the
// previous sample are evaluated in order, so a late tick still yields every
// reminder exactly once.
func (s *Scheduler) Evaluate(m int, at time.Time) []Reminder {
	if !s.armed {
		return nil
	}

	var due []Reminder
	for minute := s.cursor.Evaluated + 1; minute <= m; minute++ {
		due = append(due, s.evaluateMinute(minute, at)...)
		s.cursor.Evaluated = minute
	}
	return due
}

func (s *Scheduler) evaluateMinute(m int, at time.Time) []Reminder {
	var due []Reminder

	if m >= BreakEvery && m%BreakEvery == 0 && m > s.cursor.BreakMark {
		s.cursor.BreakMark = m
		due = append(due, Break(m, at))
	}

	next := m + 1
	if next%TimeSpentEvery == 0 && next <= TimeSpentCap && m > s.cursor.TimeSpentMark {
		s.cursor.TimeSpentMark = m
		due = append(due, TimeSpent(next, at))
	}

	return due
}

// Cursor returns a copy of the current cursor.
func (s *Scheduler) Cursor() Cursor {
	return s.cursor
}

// Armed reports whether a session is being evaluated.
func (s *Scheduler) Armed() bool {
	return s.armed
}
