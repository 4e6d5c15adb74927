// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/beacon-presence/internal/application/monitor"
	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PRESENCE QUERY
// ══════════════════════════════════════════════════════════════════════════════

// PresenceDTO is the presence view returned to clients.
type PresenceDTO struct {
	State        string     `json:"state"`
	Inside       bool       `json:"inside"`
	StudentID    string     `json:"student_id,omitempty"`
	SessionStart *time.Time `json:"session_start,omitempty"`
	Elapsed      string     `json:"elapsed,omitempty"`
	ElapsedSec   int64      `json:"elapsed_seconds"`
	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	LastEnterAt  *time.Time `json:"last_enter_at,omitempty"`
	LastExitAt   *time.Time `json:"last_exit_at,omitempty"`
	ScanStatus   string     `json:"scan_status"`
	ScanReason   string     `json:"scan_reason,omitempty"`
	NextBreakAt  int        `json:"next_break_minute,omitempty"`
}

// SnapshotReader is implemented by the presence monitor.
type SnapshotReader interface {
	Snapshot(ctx context.Context) (monitor.Snapshot, error)
}

// GetPresenceHandler handles the presence query.
type GetPresenceHandler struct {
	reader SnapshotReader
}

// NewGetPresenceHandler creates a new GetPresenceHandler.
func NewGetPresenceHandler(reader SnapshotReader) *GetPresenceHandler {
	return &GetPresenceHandler{reader: reader}
}

// Handle executes the query.
func (h *GetPresenceHandler) Handle(ctx context.Context) (*PresenceDTO, error) {
	snap, err := h.reader.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_presence: %w", err)
	}

	dto := &PresenceDTO{
		State:        snap.Presence.Label(),
		Inside:       snap.Presence.Inside,
		StudentID:    snap.StudentID,
		SessionStart: snap.SessionStart,
		Elapsed:      snap.ElapsedText,
		ElapsedSec:   int64(snap.Elapsed / time.Second),
		LastSeenAt:   snap.Presence.LastSeenAt,
		LastEnterAt:  snap.Presence.LastEnterAt,
		LastExitAt:   snap.Presence.LastExitAt,
		ScanStatus:   string(snap.ScanStatus.Kind),
		ScanReason:   snap.ScanStatus.Reason,
	}
	if snap.Presence.Inside {
		dto.NextBreakAt = snap.Cursor.BreakMark + reminder.BreakEvery
	}
	return dto, nil
}
