package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/alem-hub/beacon-presence/internal/domain/preferences"
)

const (
	keyStudentID       = "student_id"
	keyRulesSuppressed = "rules_suppressed"
)

// Preferences implements preferences.Store on the preferences table.
type Preferences struct {
	store *Store
}

var _ preferences.Store = (*Preferences)(nil)

// NewPreferences creates the preferences view of s.
func NewPreferences(s *Store) *Preferences {
	return &Preferences{store: s}
}

// StudentID returns the stored ID or "".
func (p *Preferences) StudentID(ctx context.Context) (string, error) {
	v, err := p.get(ctx, keyStudentID)
	if errors.Is(err, preferences.ErrNotSet) {
		return "", nil
	}
	return v, err
}

// SetStudentID stores the ID.
func (p *Preferences) SetStudentID(ctx context.Context, id string) error {
	return p.set(ctx, keyStudentID, id)
}

// RulesSuppressed reports whether the rules dialog is suppressed.
func (p *Preferences) RulesSuppressed(ctx context.Context) (bool, error) {
	v, err := p.get(ctx, keyRulesSuppressed)
	if errors.Is(err, preferences.ErrNotSet) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

// SetRulesSuppressed stores the rules preference.
func (p *Preferences) SetRulesSuppressed(ctx context.Context, suppressed bool) error {
	return p.set(ctx, keyRulesSuppressed, strconv.FormatBool(suppressed))
}

func (p *Preferences) get(ctx context.Context, key string) (string, error) {
	var v string
	err := p.store.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", preferences.ErrNotSet
	}
	if err != nil {
		return "", fmt.Errorf("read preference %s: %w", key, err)
	}
	return v, nil
}

func (p *Preferences) set(ctx context.Context, key, value string) error {
	_, err := p.store.db.ExecContext(ctx,
		`INSERT INTO preferences (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("write preference %s: %w", key, err)
	}
	return nil
}
