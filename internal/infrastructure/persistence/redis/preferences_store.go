package redis

import (
	"context"
	"errors"
	"strconv"

	"github.com/alem-hub/beacon-presence/internal/domain/preferences"
)

const (
	prefsFieldStudentID       = "student_id"
	prefsFieldRulesSuppressed = "rules_suppressed"
)

// PreferencesStore keeps device preferences in Redis. Preferences never
// expire.
type PreferencesStore struct {
	cache    *Cache
	deviceID string
}

var _ preferences.Store = (*PreferencesStore)(nil)

// NewPreferencesStore creates a store scoped to one device.
func NewPreferencesStore(cache *Cache, deviceID string) *PreferencesStore {
	if deviceID == "" {
		deviceID = "default"
	}
	return &PreferencesStore{cache: cache, deviceID: deviceID}
}

// StudentID returns the stored ID or "".
func (s *PreferencesStore) StudentID(ctx context.Context) (string, error) {
	v, err := s.cache.GetString(ctx, PrefsKey(s.deviceID, prefsFieldStudentID))
	if errors.Is(err, ErrCacheMiss) {
		return "", nil
	}
	return v, err
}

// SetStudentID stores the ID.
func (s *PreferencesStore) SetStudentID(ctx context.Context, id string) error {
	return s.cache.SetString(ctx, PrefsKey(s.deviceID, prefsFieldStudentID), id, 0)
}

// RulesSuppressed reports whether the rules dialog is suppressed.
func (s *PreferencesStore) RulesSuppressed(ctx context.Context) (bool, error) {
	v, err := s.cache.GetString(ctx, PrefsKey(s.deviceID, prefsFieldRulesSuppressed))
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(v)
}

// SetRulesSuppressed stores the rules preference.
func (s *PreferencesStore) SetRulesSuppressed(ctx context.Context, suppressed bool) error {
	return s.cache.SetString(ctx, PrefsKey(s.deviceID, prefsFieldRulesSuppressed), strconv.FormatBool(suppressed), 0)
}
