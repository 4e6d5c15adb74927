// Package preferences holds the small amount of persisted per-device state:
// the checked-in student identifier and whether the rules dialog is
// suppressed.
package preferences

import (
	"context"
	"errors"
)

// ErrNotSet is returned by stores that distinguish "never written" from the
// zero value. Callers usually treat it as empty.
var ErrNotSet = errors.New("preferences: value not set")

// Store persists preferences. Implementations must be safe for concurrent use.
type Store interface {
	// StudentID returns the stored identifier, or "" when none is stored.
	StudentID(ctx context.Context) (string, error)
	SetStudentID(ctx context.Context, id string) error

	RulesSuppressed(ctx context.Context) (bool, error)
	SetRulesSuppressed(ctx context.Context, suppressed bool) error
}
