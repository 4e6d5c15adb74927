package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST SESSIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// Limits for ListSessionsQuery.
const (
	DefaultSessionsLimit = 20
	MaxSessionsLimit     = 200
)

// ListSessionsQuery requests the most recent sessions of a student.
type ListSessionsQuery struct {
	StudentID string
	Limit     int
}

// Validate validates the query.
func (q ListSessionsQuery) Validate() error {
	if strings.TrimSpace(q.StudentID) == "" {
		return errors.New("list_sessions: student_id is required")
	}
	if q.Limit < 0 || q.Limit > MaxSessionsLimit {
		return fmt.Errorf("list_sessions: limit must be 0-%d", MaxSessionsLimit)
	}
	return nil
}

// SessionDTO is one session in the history view.
type SessionDTO struct {
	ID              string    `json:"id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds int64     `json:"duration_seconds"`
	Duration        string    `json:"duration"`
}

// ListSessionsResult contains the history and today's total.
type ListSessionsResult struct {
	StudentID    string       `json:"student_id"`
	Sessions     []SessionDTO `json:"sessions"`
	TodaySeconds int64        `json:"today_seconds"`
	Today        string       `json:"today"`
}

// ListSessionsHandler handles the query.
type ListSessionsHandler struct {
	sessions session.Query
	loc      *time.Location
	now      func() time.Time
}

// NewListSessionsHandler creates a new ListSessionsHandler. loc decides where
// "today" starts.
func NewListSessionsHandler(sessions session.Query, loc *time.Location) *ListSessionsHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ListSessionsHandler{sessions: sessions, loc: loc, now: time.Now}
}

// Handle executes the query.
func (h *ListSessionsHandler) Handle(ctx context.Context, q ListSessionsQuery) (*ListSessionsResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if q.Limit == 0 {
		q.Limit = DefaultSessionsLimit
	}
	id := strings.TrimSpace(q.StudentID)

	records, err := h.sessions.ListByStudent(ctx, id, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("list_sessions: %w", err)
	}

	now := h.now()
	result := &ListSessionsResult{
		StudentID: id,
		Sessions:  make([]SessionDTO, 0, len(records)),
	}

	var today time.Duration
	for _, rec := range records {
		result.Sessions = append(result.Sessions, SessionDTO{
			ID:              rec.ID.String(),
			Start:           rec.Start,
			End:             rec.End,
			DurationSeconds: int64(rec.Duration / time.Second),
			Duration:        session.FormatElapsed(rec.Duration),
		})
		today += timeutil.OverlapWithDay(rec.Start, rec.End, now, h.loc)
	}

	result.TodaySeconds = int64(today / time.Second)
	result.Today = session.FormatElapsed(today)
	return result, nil
}
