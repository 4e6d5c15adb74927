package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
)

// ReminderMessage is the pub/sub payload for a delivered reminder.
type ReminderMessage struct {
	Kind         reminder.Kind `json:"kind"`
	Text         string        `json:"text"`
	Interactive  bool          `json:"interactive"`
	Minutes      int           `json:"minutes,omitempty"`
	DurationText string        `json:"duration_text,omitempty"`
	Forced       bool          `json:"forced,omitempty"`
	IssuedAt     time.Time     `json:"issued_at"`
}

// NewReminderMessage converts a reminder to its wire form.
func NewReminderMessage(r reminder.Reminder) ReminderMessage {
	return ReminderMessage{
		Kind:         r.Kind,
		Text:         r.Message(),
		Interactive:  r.Kind.Interactive(),
		Minutes:      r.Minutes,
		DurationText: r.DurationText,
		Forced:       r.Forced,
		IssuedAt:     r.IssuedAt.UTC(),
	}
}

// ReminderPublisher delivers reminders to a pub/sub channel, where a
// companion app or notifier picks them up.
type ReminderPublisher struct {
	cache   *Cache
	channel string
}

var _ reminder.Sink = (*ReminderPublisher)(nil)

// NewReminderPublisher creates a sink publishing to channel.
func NewReminderPublisher(cache *Cache, channel string) *ReminderPublisher {
	if channel == "" {
		channel = PubSubChannel("reminders")
	}
	return &ReminderPublisher{cache: cache, channel: channel}
}

// Deliver implements reminder.Sink.
func (p *ReminderPublisher) Deliver(ctx context.Context, r reminder.Reminder) error {
	if err := p.cache.Publish(ctx, p.channel, NewReminderMessage(r)); err != nil {
		return fmt.Errorf("publish reminder %s: %w", r.Kind, err)
	}
	return nil
}
