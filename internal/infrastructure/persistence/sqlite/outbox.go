package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/beacon-presence/internal/domain/preferences"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
)

// SessionOutbox keeps a local, append-only copy of every completed session.
type SessionOutbox struct {
	store *Store
}

var (
	_ session.Recorder = (*SessionOutbox)(nil)
	_ session.Query    = (*SessionOutbox)(nil)
)

// NewSessionOutbox creates the session view of s.
func NewSessionOutbox(s *Store) *SessionOutbox {
	return &SessionOutbox{store: s}
}

// Record implements session.Recorder. Recording the same ID twice is a no-op.
func (o *SessionOutbox) Record(ctx context.Context, rec session.Record) error {
	_, err := o.store.db.ExecContext(ctx,
		`INSERT INTO sessions (id, student_id, started_at, ended_at, duration_seconds)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID.String(), rec.StudentID, rec.Start.UTC(), rec.End.UTC(), int64(rec.Duration/time.Second),
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", rec.ID, err)
	}
	return nil
}

// ListByStudent implements session.Query. Newest sessions first.
func (o *SessionOutbox) ListByStudent(ctx context.Context, studentID string, limit int) ([]session.Record, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, session.ErrEmptyStudentID
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := o.store.db.QueryContext(ctx,
		`SELECT id, student_id, started_at, ended_at FROM sessions
		 WHERE student_id = ? ORDER BY started_at DESC LIMIT ?`,
		studentID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var records []session.Record
	for rows.Next() {
		var (
			rawID      string
			rec        session.Record
			start, end time.Time
		)
		if err := rows.Scan(&rawID, &rec.StudentID, &start, &end); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("session id %q: %w", rawID, err)
		}
		rec.ID = id
		rec.Start = start
		rec.End = end
		rec.Duration = end.Sub(start)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored sessions.
func (o *SessionOutbox) Count(ctx context.Context) (int, error) {
	var n int
	err := o.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC
// ══════════════════════════════════════════════════════════════════════════════

// Entry is an outbox row with its insertion sequence.
type Entry struct {
	Seq    int64
	Record session.Record
}

// ListAfter returns up to limit rows inserted after seq, oldest first. The
// rowid only grows because the table is append-only.
func (o *SessionOutbox) ListAfter(ctx context.Context, seq int64, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := o.store.db.QueryContext(ctx,
		`SELECT rowid, id, student_id, started_at, ended_at FROM sessions
		 WHERE rowid > ? ORDER BY rowid ASC LIMIT ?`,
		seq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			rawID      string
			start, end time.Time
		)
		if err := rows.Scan(&e.Seq, &rawID, &e.Record.StudentID, &start, &end); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("session id %q: %w", rawID, err)
		}
		e.Record.ID = id
		e.Record.Start = start
		e.Record.End = end
		e.Record.Duration = end.Sub(start)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SyncCursor returns the last sequence delivered to the named target, or 0.
func (o *SessionOutbox) SyncCursor(ctx context.Context, target string) (int64, error) {
	v, err := NewPreferences(o.store).get(ctx, cursorKey(target))
	if errors.Is(err, preferences.ErrNotSet) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

// SetSyncCursor stores the last sequence delivered to the named target.
func (o *SessionOutbox) SetSyncCursor(ctx context.Context, target string, seq int64) error {
	return NewPreferences(o.store).set(ctx, cursorKey(target), strconv.FormatInt(seq, 10))
}

func cursorKey(target string) string { return "sync_cursor:" + target }
