package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/alem-hub/beacon-presence/internal/domain/session"
)

// ══════════════════════════════════════════════════════════════════════════════
// KAFKA SESSION STREAM
// ══════════════════════════════════════════════════════════════════════════════

// SessionStreamConfig configures the Kafka session recorder.
type SessionStreamConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	Logger       *slog.Logger
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SessionStream appends completed sessions to a Kafka topic. Messages are
// keyed by student ID so one student's sessions stay ordered in a partition.
type SessionStream struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

var _ session.Recorder = (*SessionStream)(nil)

// SessionMessage is the value written for each session.
type SessionMessage struct {
	SchemaVersion   int       `json:"schema_version"`
	SessionID       string    `json:"session_id"`
	StudentID       string    `json:"student_id"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationSeconds int64     `json:"duration_seconds"`
}

const sessionSchemaVersion = 1

// NewSessionStream creates a recorder writing to cfg.Topic.
func NewSessionStream(cfg SessionStreamConfig) (*SessionStream, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("session stream: topic must not be empty")
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("session stream: at least one broker is required")
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
		WriteTimeout:           cfg.WriteTimeout,
	}
	return newSessionStream(w, cfg), nil
}

func newSessionStream(w messageWriter, cfg SessionStreamConfig) *SessionStream {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SessionStream{
		writer:  w,
		timeout: cfg.WriteTimeout,
		logger:  cfg.Logger.With(slog.String("component", "session_stream")),
	}
}

// Record implements session.Recorder.
func (s *SessionStream) Record(ctx context.Context, rec session.Record) error {
	msg, err := EncodeSessionMessage(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write session %s: %w", rec.ID, err)
	}

	s.logger.Debug("session streamed", "session_id", rec.ID.String())
	return nil
}

// Close flushes and closes the writer.
func (s *SessionStream) Close() error {
	return s.writer.Close()
}

// EncodeSessionMessage builds the Kafka message for a record.
func EncodeSessionMessage(rec session.Record) (kafka.Message, error) {
	value, err := json.Marshal(SessionMessage{
		SchemaVersion:   sessionSchemaVersion,
		SessionID:       rec.ID.String(),
		StudentID:       rec.StudentID,
		Start:           rec.Start.UTC(),
		End:             rec.End.UTC(),
		DurationSeconds: int64(rec.Duration / time.Second),
	})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal session: %w", err)
	}

	return kafka.Message{
		Key:   []byte(rec.StudentID),
		Value: value,
		Time:  rec.End,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
		},
	}, nil
}
