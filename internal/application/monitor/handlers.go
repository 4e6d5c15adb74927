package monitor

import (
	"context"
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/presence"
	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
	"github.com/alem-hub/beacon-presence/internal/domain/scan"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/pkg/logger"
)

var allStatuses = []string{
	string(scan.StatusReady),
	string(scan.StatusAdapterOff),
	string(scan.StatusPermissionDenied),
	string(scan.StatusTransportError),
}

// ══════════════════════════════════════════════════════════════════════════════
// INPUT HANDLERS (loop goroutine only)
// ══════════════════════════════════════════════════════════════════════════════

func (m *Monitor) handleBatch(batch scan.Batch, now time.Time) {
	m.deps.Metrics.Batch(len(batch.Observations))

	if m.scanStatus.BlocksEntry() && !m.tracker.Inside() {
		m.logger.Debug("ignoring scan batch while source is unavailable",
			"status", m.scanStatus.Kind,
			"observations", len(batch.Observations),
		)
		return
	}

	if tr, ok := m.tracker.ObserveBatch(batch.Observations, now); ok {
		m.onEnter(tr.At)
	}
}

func (m *Monitor) handleStatus(status scan.Status) {
	if !status.Kind.IsValid() {
		m.logger.Warn("unknown scan status", "status", status.Kind)
		return
	}
	if status.Kind == m.scanStatus.Kind && status.Reason == m.scanStatus.Reason {
		return
	}
	m.scanStatus = status
	m.deps.Metrics.ScanStatus(string(status.Kind), allStatuses)

	switch status.Kind {
	case scan.StatusReady:
		m.logger.Info("scan source ready")
	case scan.StatusTransportError:
		m.logger.Warn("scan source transport error", logger.Err(status.Err()))
	default:
		m.logger.Warn("scan source unavailable", "status", status.Kind, logger.Err(status.Err()))
	}

	at := status.At
	if at.IsZero() {
		at = m.now()
	}
	m.publish(shared.NewScanStatusChangedEvent(string(status.Kind), status.Reason, at))
}

func (m *Monitor) handlePresenceTick(now time.Time) {
	if tr, ok := m.tracker.Tick(now); ok {
		m.onExit(tr.At)
	}
}

func (m *Monitor) handleClockTick(now time.Time) {
	if !m.clock.Running() {
		return
	}
	m.deps.Metrics.Elapsed(m.clock.Advance(now))
}

func (m *Monitor) handleReminderTick(now time.Time) {
	if !m.clock.Running() {
		return
	}
	minutes := int(m.clock.Advance(now) / time.Minute)
	m.deliver(m.scheduler.Evaluate(minutes, now)...)
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

func (m *Monitor) onEnter(at time.Time) {
	m.clock.Start(at)
	m.realignTimer = true

	m.logger.Info("student entered study room",
		logger.StudentID(m.studentID),
		logger.Time("at", at),
	)
	m.deps.Metrics.Transition(string(presence.Enter), true)

	m.deliver(m.scheduler.OnEnter(at)...)
	m.publish(shared.NewPresenceEnteredEvent(m.studentID, at))
	m.mirror(presence.Update{StudentID: m.studentID, Inside: true, At: at, EnteredAt: &at})
}

func (m *Monitor) onExit(at time.Time) {
	start, running := m.clock.StartedAt()
	elapsed, _ := m.clock.Stop(at)
	text := session.FormatElapsed(elapsed)

	m.logger.Info("student left study room",
		logger.StudentID(m.studentID),
		logger.Time("at", at),
		"elapsed", text,
	)
	m.deps.Metrics.Transition(string(presence.Exit), false)

	m.deliver(m.scheduler.OnExit(at, text)...)
	m.publish(shared.NewPresenceExitedEvent(m.studentID, elapsed, at))
	m.mirror(presence.Update{StudentID: m.studentID, Inside: false, At: at})

	if !running || m.studentID == "" {
		return
	}

	rec, err := session.NewRecord(m.studentID, start, at)
	if err != nil {
		m.logger.Error("failed to build session record", logger.Err(err))
		return
	}
	m.record(rec)
}

// ══════════════════════════════════════════════════════════════════════════════
// SIDE EFFECTS (dispatched to the worker pool)
// ══════════════════════════════════════════════════════════════════════════════

func (m *Monitor) deliver(reminders ...reminder.Reminder) {
	for _, r := range reminders {
		r := r
		m.deps.Metrics.Reminder(string(r.Kind))
		m.publish(shared.NewReminderIssuedEvent(string(r.Kind), r.Minutes, r.Forced, r.IssuedAt))

		if m.deps.Sink == nil {
			continue
		}
		m.pool.submit("sink", func(ctx context.Context) error {
			return m.deps.Sink.Deliver(ctx, r)
		})
	}
}

func (m *Monitor) record(rec session.Record) {
	if m.deps.Recorder == nil {
		m.logger.Warn("no session recorder configured, dropping record", "session_id", rec.ID)
		return
	}
	m.pool.submit("recorder", func(ctx context.Context) error {
		if err := m.deps.Recorder.Record(ctx, rec); err != nil {
			return err
		}
		m.deps.Metrics.SessionRecorded(rec.Duration)
		if m.deps.Bus != nil {
			// Already on a worker; publish inline.
			return m.deps.Bus.Publish(shared.NewSessionRecordedEvent(rec.ID.String(), rec.StudentID, rec.Start, rec.End))
		}
		return nil
	})
}

func (m *Monitor) publish(event shared.Event) {
	if m.deps.Bus == nil {
		return
	}
	m.pool.submit("bus", func(ctx context.Context) error {
		return m.deps.Bus.Publish(event)
	})
}

func (m *Monitor) mirror(u presence.Update) {
	// Anonymous presence is not shared.
	if m.deps.Mirror == nil || u.StudentID == "" {
		return
	}
	m.pool.submit("mirror", func(ctx context.Context) error {
		return m.deps.Mirror.PublishPresence(ctx, u)
	})
}
