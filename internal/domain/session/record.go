package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain errors for session package.
var (
	ErrEmptyStudentID   = errors.New("session: student ID cannot be empty")
	ErrEndBeforeStart   = errors.New("session: end time cannot be before start time")
	ErrStudentIDTooLong = errors.New("session: student ID is too long")
)

// MaxStudentIDLength bounds the identifier typed at check-in.
const MaxStudentIDLength = 64

// Record is one completed study session. Records are append-only: once handed
// to a Recorder they are never updated or deleted.
type Record struct {
	ID        uuid.UUID     `json:"id"`
	StudentID string        `json:"student_id"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Duration  time.Duration `json:"duration"`
}

// NewRecord builds a record; Duration is always End minus Start.
func NewRecord(studentID string, start, end time.Time) (Record, error) {
	studentID = strings.TrimSpace(studentID)
	if err := ValidateStudentID(studentID); err != nil {
		return Record{}, err
	}
	if end.Before(start) {
		return Record{}, ErrEndBeforeStart
	}

	return Record{
		ID:        uuid.New(),
		StudentID: studentID,
		Start:     start,
		End:       end,
		Duration:  end.Sub(start),
	}, nil
}

// ValidateStudentID checks the identifier entered at check-in.
func ValidateStudentID(id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrEmptyStudentID
	}
	if len(id) > MaxStudentIDLength {
		return fmt.Errorf("%w: %d characters", ErrStudentIDTooLong, len(id))
	}
	return nil
}

// Recorder receives completed sessions. Implementations must be append-only.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, rec Record) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// Query reads back recorded sessions.
type Query interface {
	ListByStudent(ctx context.Context, studentID string, limit int) ([]Record, error)
}
