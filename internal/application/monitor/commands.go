package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/presence"
	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
	"github.com/alem-hub/beacon-presence/internal/domain/scan"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
)

// Snapshot is a consistent read of the loop-owned state.
type Snapshot struct {
	Presence     presence.State
	StudentID    string
	SessionStart *time.Time
	Elapsed      time.Duration
	ElapsedText  string
	Cursor       reminder.Cursor
	ScanStatus   scan.Status
	TakenAt      time.Time
}

// Snapshot returns the current state as seen by the loop.
func (m *Monitor) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := m.exec(ctx, func() {
		snap = m.snapshot(m.now())
	})
	return snap, err
}

func (m *Monitor) snapshot(now time.Time) Snapshot {
	snap := Snapshot{
		Presence:   m.tracker.State(),
		StudentID:  m.studentID,
		Cursor:     m.scheduler.Cursor(),
		ScanStatus: m.scanStatus,
		TakenAt:    now,
	}
	if start, ok := m.clock.StartedAt(); ok {
		snap.SessionStart = &start
		snap.Elapsed = m.clock.Advance(now)
		snap.ElapsedText = session.FormatElapsed(snap.Elapsed)
	}
	return snap
}

// ForceSilentReminder re-issues the silent-mode reminder. It may be called
// any number of times, inside or outside a session.
func (m *Monitor) ForceSilentReminder(ctx context.Context) error {
	return m.exec(ctx, func() {
		m.forceSilent(m.now())
	})
}

func (m *Monitor) forceSilent(now time.Time) {
	m.logger.Info("silent-mode reminder requested manually")
	m.deliver(m.scheduler.ForceSilent(now))
}

// SetStudentID updates the identifier attached to the next session record.
// The identifier of a running session changes too: the record is built at
// exit time.
func (m *Monitor) SetStudentID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	return m.exec(ctx, func() {
		m.studentID = id
	})
}
