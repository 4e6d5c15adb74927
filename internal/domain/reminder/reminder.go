// Package reminder decides which study reminders are due. It never delivers
// anything itself; delivery belongs to a Sink.
package reminder

import (
	"context"
	"fmt"
	"time"
)

// Kind is the type of a reminder request.
type Kind string

const (
	KindSilentMode Kind = "silent_mode"
	KindBreak      Kind = "break"
	KindTimeSpent  Kind = "time_spent"
	KindWelcome    Kind = "welcome"
	KindExit       Kind = "exit"
)

// IsValid checks if the kind is known.
func (k Kind) IsValid() bool {
	switch k {
	case KindSilentMode, KindBreak, KindTimeSpent, KindWelcome, KindExit:
		return true
	default:
		return false
	}
}

// Interactive reports whether the reminder should offer a prompt besides the
// notification.
func (k Kind) Interactive() bool {
	return k == KindSilentMode || k == KindBreak
}

// Reminder is a typed delivery request.
type Reminder struct {
	Kind Kind `json:"kind"`

	// Minutes is the minute mark the reminder refers to: the elapsed minute
	// for break reminders, the upcoming quarter-hour for time-spent reminders.
	Minutes int `json:"minutes,omitempty"`

	// DurationText is the formatted session length carried by exit notices.
	DurationText string `json:"duration_text,omitempty"`

	// Forced marks a manually retriggered silent-mode reminder.
	Forced bool `json:"forced,omitempty"`

	IssuedAt time.Time `json:"issued_at"`
}

// Message returns the default notification body.
func (r Reminder) Message() string {
	switch r.Kind {
	case KindSilentMode:
		return "Please switch your phone to silent mode."
	case KindBreak:
		return fmt.Sprintf("You have been studying for %d minutes. Time for a short break?", r.Minutes)
	case KindTimeSpent:
		return fmt.Sprintf("You are about to reach %d minutes in the study room.", r.Minutes)
	case KindWelcome:
		return "Welcome to the study room. Your session has started."
	case KindExit:
		return fmt.Sprintf("You left the study room. Session length: %s.", r.DurationText)
	default:
		return ""
	}
}

// SilentMode builds a silent-mode reminder.
func SilentMode(at time.Time, forced bool) Reminder {
	return Reminder{Kind: KindSilentMode, Forced: forced, IssuedAt: at}
}

// Break builds a break reminder for the given elapsed minute.
func Break(minutes int, at time.Time) Reminder {
	return Reminder{Kind: KindBreak, Minutes: minutes, IssuedAt: at}
}

// TimeSpent builds a time-spent reminder announcing the given quarter-hour.
func TimeSpent(minutes int, at time.Time) Reminder {
	return Reminder{Kind: KindTimeSpent, Minutes: minutes, IssuedAt: at}
}

// Welcome builds the welcome notice.
func Welcome(at time.Time) Reminder {
	return Reminder{Kind: KindWelcome, IssuedAt: at}
}

// ExitNotice builds the exit notice.
func ExitNotice(durationText string, at time.Time) Reminder {
	return Reminder{Kind: KindExit, DurationText: durationText, IssuedAt: at}
}

// Sink delivers reminders. Failures are reported to the caller but never
// influence presence state.
type Sink interface {
	Deliver(ctx context.Context, r Reminder) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, r Reminder) error

// Deliver implements Sink.
func (f SinkFunc) Deliver(ctx context.Context, r Reminder) error {
	return f(ctx, r)
}
