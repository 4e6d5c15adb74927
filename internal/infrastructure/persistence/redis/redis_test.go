package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/beacon-presence/internal/domain/presence"
	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
)

func TestConfig_Options(t *testing.T) {
	cfg := DefaultConfig()
	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 10, opts.PoolSize)

	cfg.URL = "redis://:secret@cache:6380/2"
	opts, err = cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, cfg.ReadTimeout, opts.ReadTimeout)

	cfg.URL = "http://nope"
	_, err = cfg.Options()
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "presence:abc", PresenceKey("abc"))
	assert.Equal(t, "prefs:desk-1:student_id", PrefsKey("desk-1", prefsFieldStudentID))
	assert.Equal(t, "pubsub:reminders", PubSubChannel("reminders"))
}

func TestPseudonymizer(t *testing.T) {
	p := NewPseudonymizer("secret")

	a := p.Key("s-1")
	assert.Len(t, a, pseudonymSize*2)
	assert.Equal(t, a, p.Key(" s-1 "), "trimmed input maps to the same key")
	assert.NotEqual(t, a, p.Key("s-2"))
	assert.NotContains(t, a, "s-1")
	assert.Empty(t, p.Key("  "))

	other := NewPseudonymizer("other")
	assert.NotEqual(t, a, other.Key("s-1"), "key changes the pseudonym")

	long := NewPseudonymizer(strings.Repeat("k", 200))
	assert.Len(t, long.Key("s-1"), pseudonymSize*2)
}

func TestPresenceMirror_Entry(t *testing.T) {
	p := NewPseudonymizer("secret")
	m := NewPresenceMirror(nil, p, PresenceMirrorConfig{})
	assert.Equal(t, TTLPresence, m.ttl)

	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.FixedZone("ALMT", 5*3600))
	entry, err := m.entry(presence.Update{StudentID: "s-1", Inside: true, At: at, EnteredAt: &at})
	require.NoError(t, err)
	assert.Equal(t, p.Key("s-1"), entry.Key)
	assert.True(t, entry.Inside)
	assert.Equal(t, time.UTC, entry.At.Location())

	_, err = m.entry(presence.Update{Inside: true, At: at})
	assert.ErrorIs(t, err, ErrNoStudent)
}

func TestNewReminderMessage(t *testing.T) {
	at := time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

	msg := NewReminderMessage(reminder.Break(30, at))
	assert.Equal(t, reminder.KindBreak, msg.Kind)
	assert.True(t, msg.Interactive)
	assert.Equal(t, 30, msg.Minutes)
	assert.Contains(t, msg.Text, "30 minutes")

	msg = NewReminderMessage(reminder.ExitNotice("42 min 17 s", at))
	assert.False(t, msg.Interactive)
	assert.Equal(t, "42 min 17 s", msg.DurationText)
}
