package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
)

// SessionRepository stores completed study sessions. It only ever inserts.
type SessionRepository struct {
	conn    *Connection
	timeout time.Duration
}

var (
	_ session.Recorder = (*SessionRepository)(nil)
	_ session.Query    = (*SessionRepository)(nil)
)

// NewSessionRepository creates a repository on conn.
func NewSessionRepository(conn *Connection) *SessionRepository {
	timeout := conn.config.QueryTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().QueryTimeout
	}
	return &SessionRepository{conn: conn, timeout: timeout}
}

// Record implements session.Recorder. Re-recording the same session ID is a
// no-op, so retries after an ambiguous failure never duplicate a row.
func (r *SessionRepository) Record(ctx context.Context, rec session.Record) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO study_sessions (id, student_id, started_at, ended_at, duration_seconds)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.conn.Exec(ctx, query,
		rec.ID,
		rec.StudentID,
		rec.Start.UTC(),
		rec.End.UTC(),
		int64(rec.Duration/time.Second),
	)
	if err != nil {
		if IsCheckViolation(err) {
			return shared.WrapError("postgres", "Record", shared.ErrInvalidInput, "session violates table constraints", err)
		}
		return shared.WrapError("postgres", "Record", shared.ErrExternalService, "failed to insert session", err)
	}

	return nil
}

// ListByStudent implements session.Query. Newest sessions first.
func (r *SessionRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]session.Record, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, session.ErrEmptyStudentID
	}
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, student_id, started_at, ended_at
		FROM study_sessions
		WHERE student_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`

	rows, err := r.conn.Query(ctx, query, studentID, limit)
	if err != nil {
		return nil, shared.WrapError("postgres", "ListByStudent", shared.ErrExternalService, "failed to query sessions", err)
	}
	defer rows.Close()

	records := make([]session.Record, 0, limit)
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return records, nil
}

func scanSession(row pgx.Row) (session.Record, error) {
	var (
		id         uuid.UUID
		studentID  string
		start, end time.Time
	)
	if err := row.Scan(&id, &studentID, &start, &end); err != nil {
		return session.Record{}, fmt.Errorf("failed to scan session: %w", err)
	}

	return session.Record{
		ID:        id,
		StudentID: studentID,
		Start:     start,
		End:       end,
		Duration:  end.Sub(start),
	}, nil
}
