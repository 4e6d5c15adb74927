// Package shared contains common domain types, errors and events that are
// used across all domain packages.
package shared

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types published on the event bus.
const (
	// Presence events
	EventPresenceEntered EventType = "presence.entered"
	EventPresenceExited  EventType = "presence.exited"

	// Session events
	EventSessionRecorded EventType = "session.recorded"
	EventDailySummary    EventType = "session.daily_summary"

	// Reminder events
	EventReminderIssued EventType = "reminder.issued"

	// Student events
	EventStudentCheckedIn EventType = "student.checked_in"

	// Scanner events
	EventScanStatusChanged EventType = "scan.status_changed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the transition time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:          uuid.NewString(),
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
	}
}

// PresenceAggregate is the aggregate ID of the single presence state machine.
const PresenceAggregate = "presence"

// ═══════════════════════════════════════════════════════════════════════════
// Presence Events
// ═══════════════════════════════════════════════════════════════════════════

// PresenceEnteredEvent is emitted on the Outside → Inside transition.
type PresenceEnteredEvent struct {
	BaseEvent
	StudentID string `json:"student_id,omitempty"`
}

// Payload implements Event interface.
func (e PresenceEnteredEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"entered_at": e.Timestamp.Format(time.RFC3339),
	}
}

// NewPresenceEnteredEvent creates a new PresenceEnteredEvent.
func NewPresenceEnteredEvent(studentID string, at time.Time) PresenceEnteredEvent {
	return PresenceEnteredEvent{
		BaseEvent: NewBaseEvent(EventPresenceEntered, PresenceAggregate, at),
		StudentID: studentID,
	}
}

// PresenceExitedEvent is emitted on the Inside → Outside transition.
type PresenceExitedEvent struct {
	BaseEvent
	StudentID string        `json:"student_id,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Payload implements Event interface.
func (e PresenceExitedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
		"exited_at":  e.Timestamp.Format(time.RFC3339),
		"elapsed":    e.Elapsed.String(),
	}
}

// NewPresenceExitedEvent creates a new PresenceExitedEvent.
func NewPresenceExitedEvent(studentID string, elapsed time.Duration, at time.Time) PresenceExitedEvent {
	return PresenceExitedEvent{
		BaseEvent: NewBaseEvent(EventPresenceExited, PresenceAggregate, at),
		StudentID: studentID,
		Elapsed:   elapsed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Session Events
// ═══════════════════════════════════════════════════════════════════════════

// SessionRecordedEvent is emitted once a completed session was handed to the
// recorder.
type SessionRecordedEvent struct {
	BaseEvent
	SessionID string        `json:"session_id"`
	StudentID string        `json:"student_id"`
	Start     time.Time     `json:"start"`
	End       time.Time     `json:"end"`
	Duration  time.Duration `json:"duration"`
}

// Payload implements Event interface.
func (e SessionRecordedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"session_id": e.SessionID,
		"student_id": e.StudentID,
		"start":      e.Start.Format(time.RFC3339),
		"end":        e.End.Format(time.RFC3339),
		"duration":   e.Duration.String(),
	}
}

// NewSessionRecordedEvent creates a new SessionRecordedEvent.
func NewSessionRecordedEvent(sessionID, studentID string, start, end time.Time) SessionRecordedEvent {
	return SessionRecordedEvent{
		BaseEvent: NewBaseEvent(EventSessionRecorded, studentID, end),
		SessionID: sessionID,
		StudentID: studentID,
		Start:     start,
		End:       end,
		Duration:  end.Sub(start),
	}
}

// DailySummaryEvent carries a student's study total for one calendar day.
type DailySummaryEvent struct {
	BaseEvent
	StudentID string        `json:"student_id"`
	Day       string        `json:"day"`
	Total     time.Duration `json:"total"`
	Sessions  int           `json:"sessions"`
}

// Payload implements Event interface.
func (e DailySummaryEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id":    e.StudentID,
		"day":           e.Day,
		"total_seconds": int64(e.Total / time.Second),
		"sessions":      e.Sessions,
	}
}

// NewDailySummaryEvent creates a new DailySummaryEvent. day is formatted as
// YYYY-MM-DD in the location it was computed in.
func NewDailySummaryEvent(studentID string, day time.Time, total time.Duration, sessions int, at time.Time) DailySummaryEvent {
	return DailySummaryEvent{
		BaseEvent: NewBaseEvent(EventDailySummary, studentID, at),
		StudentID: studentID,
		Day:       day.Format("2006-01-02"),
		Total:     total,
		Sessions:  sessions,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Reminder Events
// ═══════════════════════════════════════════════════════════════════════════

// ReminderIssuedEvent is emitted for every reminder handed to the sink.
type ReminderIssuedEvent struct {
	BaseEvent
	Kind    string `json:"kind"`
	Minutes int    `json:"minutes,omitempty"`
	Forced  bool   `json:"forced,omitempty"`
}

// Payload implements Event interface.
func (e ReminderIssuedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"kind":    e.Kind,
		"minutes": e.Minutes,
		"forced":  e.Forced,
	}
}

// NewReminderIssuedEvent creates a new ReminderIssuedEvent.
func NewReminderIssuedEvent(kind string, minutes int, forced bool, at time.Time) ReminderIssuedEvent {
	return ReminderIssuedEvent{
		BaseEvent: NewBaseEvent(EventReminderIssued, PresenceAggregate, at),
		Kind:      kind,
		Minutes:   minutes,
		Forced:    forced,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Student & Scanner Events
// ═══════════════════════════════════════════════════════════════════════════

// StudentCheckedInEvent is emitted when a student identifier is stored.
type StudentCheckedInEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
}

// Payload implements Event interface.
func (e StudentCheckedInEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_id": e.StudentID,
	}
}

// NewStudentCheckedInEvent creates a new StudentCheckedInEvent.
func NewStudentCheckedInEvent(studentID string, at time.Time) StudentCheckedInEvent {
	return StudentCheckedInEvent{
		BaseEvent: NewBaseEvent(EventStudentCheckedIn, studentID, at),
		StudentID: studentID,
	}
}

// ScanStatusChangedEvent is emitted when the scan source reports a new status.
type ScanStatusChangedEvent struct {
	BaseEvent
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Payload implements Event interface.
func (e ScanStatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"status": e.Status,
		"reason": e.Reason,
	}
}

// NewScanStatusChangedEvent creates a new ScanStatusChangedEvent.
func NewScanStatusChangedEvent(status, reason string, at time.Time) ScanStatusChangedEvent {
	return ScanStatusChangedEvent{
		BaseEvent: NewBaseEvent(EventScanStatusChanged, "scanner", at),
		Status:    status,
		Reason:    reason,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Bus contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
