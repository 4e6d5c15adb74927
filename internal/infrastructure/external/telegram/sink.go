package telegram

import (
	"context"
	"errors"
	"html"

	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
)

var errNoChat = errors.New("telegram: chat id is required")

// ReminderSink delivers reminders to one chat. Interactive reminders ring;
// the rest are sent without a notification sound.
type ReminderSink struct {
	client *Client
	chatID int64
}

// NewReminderSink creates a sink that posts to chatID.
func NewReminderSink(client *Client, chatID int64) (*ReminderSink, error) {
	if chatID == 0 {
		return nil, errNoChat
	}
	return &ReminderSink{client: client, chatID: chatID}, nil
}

// Deliver implements reminder.Sink.
func (s *ReminderSink) Deliver(ctx context.Context, r reminder.Reminder) error {
	text := r.Message()
	if text == "" {
		return nil
	}
	if r.Kind.Interactive() {
		text = "<b>" + html.EscapeString(text) + "</b>"
	} else {
		text = html.EscapeString(text)
	}

	_, err := s.client.SendMessage(ctx, SendMessageParams{
		ChatID:              s.chatID,
		Text:                text,
		ParseMode:           "HTML",
		DisableNotification: !r.Kind.Interactive(),
	})
	return err
}
