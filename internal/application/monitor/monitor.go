// Package monitor runs the presence state machine. A single goroutine owns the
// tracker, the session clock and the reminder scheduler; everything else
// talks to it through channels.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/beacon"
	"github.com/alem-hub/beacon-presence/internal/domain/preferences"
	"github.com/alem-hub/beacon-presence/internal/domain/presence"
	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
	"github.com/alem-hub/beacon-presence/internal/domain/scan"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/observability"
	"github.com/alem-hub/beacon-presence/pkg/logger"
	"github.com/alem-hub/beacon-presence/pkg/timeutil"
)

// Errors returned by the monitor.
var (
	ErrAlreadyStarted = errors.New("monitor: already started")
	ErrNotRunning     = errors.New("monitor: not running")
	ErrNoSource       = errors.New("monitor: scan source is required")
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains the monitor timings and worker settings.
type Config struct {
	Target beacon.TargetIdentity

	// CheckInterval is the presence (absence) tick.
	CheckInterval time.Duration

	// AbsenceThreshold is how long the beacon may stay unseen while inside.
	AbsenceThreshold time.Duration

	// ClockInterval is the elapsed-time sampling tick.
	ClockInterval time.Duration

	// ReminderInterval is the reminder evaluation tick. It is realigned on
	// every enter so evaluations land on whole session minutes.
	ReminderInterval time.Duration

	// Workers and QueueSize bound the side-effect pool.
	Workers   int
	QueueSize int

	// SideEffectTimeout bounds each sink, recorder, bus or mirror call.
	SideEffectTimeout time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the production timings.
func DefaultConfig(target beacon.TargetIdentity) Config {
	return Config{
		Target:            target,
		CheckInterval:     presence.DefaultCheckInterval,
		AbsenceThreshold:  presence.DefaultAbsenceThreshold,
		ClockInterval:     time.Second,
		ReminderInterval:  time.Minute,
		Workers:           4,
		QueueSize:         64,
		SideEffectTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators of the monitor. Only Source is required.
type Deps struct {
	Source      scan.Source
	Preferences preferences.Store
	Recorder    session.Recorder
	Sink        reminder.Sink
	Bus         shared.EventPublisher
	Mirror      presence.Mirror
	Clock       timeutil.Clock
	Metrics     *observability.Metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// MONITOR
// ══════════════════════════════════════════════════════════════════════════════

// Monitor is the presence state machine with its timers.
type Monitor struct {
	config Config
	deps   Deps
	logger *slog.Logger

	// Owned by the loop goroutine.
	tracker      *presence.Tracker
	clock        *session.Clock
	scheduler    *reminder.Scheduler
	scanStatus   scan.Status
	studentID    string
	realignTimer bool

	pool     *workerPool
	commands chan func()

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a monitor in the Outside state.
func New(config Config, deps Deps) (*Monitor, error) {
	if deps.Source == nil {
		return nil, ErrNoSource
	}

	defaults := DefaultConfig(config.Target)
	if config.CheckInterval <= 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.AbsenceThreshold <= 0 {
		config.AbsenceThreshold = defaults.AbsenceThreshold
	}
	if config.ClockInterval <= 0 {
		config.ClockInterval = defaults.ClockInterval
	}
	if config.ReminderInterval <= 0 {
		config.ReminderInterval = defaults.ReminderInterval
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.SideEffectTimeout <= 0 {
		config.SideEffectTimeout = defaults.SideEffectTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}

	log := config.Logger.With(logger.Component("monitor"))

	return &Monitor{
		config:     config,
		deps:       deps,
		logger:     log,
		tracker:    presence.NewTracker(config.Target, presence.WithAbsenceThreshold(config.AbsenceThreshold)),
		clock:      session.NewClock(),
		scheduler:  reminder.NewScheduler(),
		scanStatus: scan.Status{Kind: scan.StatusReady},
		pool:       newWorkerPool(config.Workers, config.QueueSize, config.SideEffectTimeout, deps.Metrics, log),
		commands:   make(chan func()),
		done:       make(chan struct{}),
	}, nil
}

// Start loads the stored student ID, subscribes to the scan source and runs
// the loop until ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return ErrAlreadyStarted
	}

	if m.deps.Preferences != nil {
		id, err := m.deps.Preferences.StudentID(ctx)
		if err != nil && !errors.Is(err, preferences.ErrNotSet) {
			m.logger.Warn("failed to load student id", logger.Err(err))
		}
		m.studentID = id
	}

	loopCtx, cancel := context.WithCancel(ctx)
	batches, statuses, err := m.deps.Source.Subscribe(loopCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe to scan source: %w", err)
	}

	m.started = true
	m.cancel = cancel
	m.pool.start()

	go m.run(loopCtx, batches, statuses)

	m.logger.Info("presence monitor started",
		logger.Beacon(m.config.Target.String()),
		logger.Duration("check_interval", m.config.CheckInterval),
		logger.Duration("absence_threshold", m.config.AbsenceThreshold),
	)
	return nil
}

// Stop cancels all timers, closes the scan source, waits for the loop and
// drains side effects already queued. Safe to call more than once.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	if !m.started || m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	<-m.done

	var err error
	if cerr := m.deps.Source.Close(); cerr != nil {
		err = fmt.Errorf("close scan source: %w", cerr)
	}
	m.pool.close()

	m.logger.Info("presence monitor stopped")
	return err
}

// Done is closed when the loop has exited.
func (m *Monitor) Done() <-chan struct{} {
	return m.done
}

// ══════════════════════════════════════════════════════════════════════════════
// LOOP
// ══════════════════════════════════════════════════════════════════════════════

func (m *Monitor) run(ctx context.Context, batches <-chan scan.Batch, statuses <-chan scan.Status) {
	defer close(m.done)

	presenceTicker := time.NewTicker(m.config.CheckInterval)
	clockTicker := time.NewTicker(m.config.ClockInterval)
	reminderTicker := time.NewTicker(m.config.ReminderInterval)
	defer presenceTicker.Stop()
	defer clockTicker.Stop()
	defer reminderTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case batch, ok := <-batches:
			if !ok {
				m.logger.Warn("scan batch channel closed")
				batches = nil
				continue
			}
			m.handleBatch(batch, m.now())

		case status, ok := <-statuses:
			if !ok {
				statuses = nil
				continue
			}
			m.handleStatus(status)

		case <-presenceTicker.C:
			m.handlePresenceTick(m.now())

		case <-clockTicker.C:
			m.handleClockTick(m.now())

		case <-reminderTicker.C:
			m.handleReminderTick(m.now())

		case fn := <-m.commands:
			fn()
		}

		if m.realignTimer {
			reminderTicker.Reset(m.config.ReminderInterval)
			m.realignTimer = false
		}
	}
}

func (m *Monitor) now() time.Time {
	return m.deps.Clock.Now()
}

// exec runs fn on the loop goroutine and waits for it.
func (m *Monitor) exec(ctx context.Context, fn func()) error {
	m.mu.Lock()
	running := m.started && !m.stopped
	m.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}

	select {
	case m.commands <- wrapped:
	case <-m.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-m.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}
