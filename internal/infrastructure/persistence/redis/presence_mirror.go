package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/beacon-presence/internal/domain/presence"
)

// ══════════════════════════════════════════════════════════════════════════════
// PRESENCE MIRROR
// ══════════════════════════════════════════════════════════════════════════════

const (
	// keyPresenceInside is a sorted set of pseudonyms currently inside,
	// scored by entry time.
	keyPresenceInside = PrefixPresence + "inside"

	// ChannelPresence receives every mirrored update.
	ChannelPresence = PrefixPubSub + "presence"
)

// ErrNoStudent is returned when an update carries no student ID.
var ErrNoStudent = errors.New("presence_mirror: update has no student ID")

// MirrorEntry is what other devices read from Redis. The student is
// identified only by pseudonym.
type MirrorEntry struct {
	Key       string     `json:"key"`
	Inside    bool       `json:"inside"`
	At        time.Time  `json:"at"`
	EnteredAt *time.Time `json:"entered_at,omitempty"`
}

// PresenceMirrorConfig configures the mirror.
type PresenceMirrorConfig struct {
	// TTL bounds how long an "inside" entry survives without a matching exit.
	TTL time.Duration

	Logger *slog.Logger
}

// PresenceMirror publishes presence changes to Redis.
type PresenceMirror struct {
	cache  *Cache
	pseudo *Pseudonymizer
	ttl    time.Duration
	logger *slog.Logger
}

// NewPresenceMirror creates a mirror on top of an existing cache.
func NewPresenceMirror(cache *Cache, pseudo *Pseudonymizer, cfg PresenceMirrorConfig) *PresenceMirror {
	if cfg.TTL <= 0 {
		cfg.TTL = TTLPresence
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PresenceMirror{
		cache:  cache,
		pseudo: pseudo,
		ttl:    cfg.TTL,
		logger: cfg.Logger,
	}
}

// PublishPresence implements presence.Mirror.
func (m *PresenceMirror) PublishPresence(ctx context.Context, u presence.Update) error {
	entry, err := m.entry(u)
	if err != nil {
		return err
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}

	pipe := m.cache.Client().Pipeline()

	key := PresenceKey(entry.Key)
	if entry.Inside {
		pipe.Set(ctx, key, data, m.ttl)
		score := entry.At
		if entry.EnteredAt != nil {
			score = *entry.EnteredAt
		}
		pipe.ZAdd(ctx, keyPresenceInside, redis.Z{
			Score:  float64(score.Unix()),
			Member: entry.Key,
		})
	} else {
		// Keep the last exit around briefly for dashboards.
		pipe.Set(ctx, key, data, m.ttl)
		pipe.ZRem(ctx, keyPresenceInside, entry.Key)
	}
	pipe.Publish(ctx, ChannelPresence, data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror presence: %w", err)
	}

	m.logger.Debug("presence mirrored", "key", entry.Key, "inside", entry.Inside)
	return nil
}

// Get returns the mirrored entry for a student.
func (m *PresenceMirror) Get(ctx context.Context, studentID string) (*MirrorEntry, error) {
	pk := m.pseudo.Key(studentID)
	if pk == "" {
		return nil, ErrNoStudent
	}

	var entry MirrorEntry
	if err := m.cache.Get(ctx, PresenceKey(pk), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// InsideCount returns how many mirrored students are currently inside.
func (m *PresenceMirror) InsideCount(ctx context.Context) (int64, error) {
	return m.cache.Client().ZCard(ctx, keyPresenceInside).Result()
}

func (m *PresenceMirror) entry(u presence.Update) (MirrorEntry, error) {
	pk := m.pseudo.Key(u.StudentID)
	if pk == "" {
		return MirrorEntry{}, ErrNoStudent
	}
	return MirrorEntry{
		Key:       pk,
		Inside:    u.Inside,
		At:        u.At.UTC(),
		EnteredAt: u.EnteredAt,
	}, nil
}
