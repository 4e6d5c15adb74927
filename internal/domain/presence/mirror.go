package presence

import (
	"context"
	"time"
)

// Update is the presence change shared with other devices.
type Update struct {
	StudentID string     `json:"student_id,omitempty"`
	Inside    bool       `json:"inside"`
	At        time.Time  `json:"at"`
	EnteredAt *time.Time `json:"entered_at,omitempty"`
}

// Mirror publishes presence changes outside the process. Best effort: a
// failing mirror never affects the tracker.
type Mirror interface {
	PublishPresence(ctx context.Context, u Update) error
}
