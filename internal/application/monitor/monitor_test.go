package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/beacon-presence/internal/domain/beacon"
	"github.com/alem-hub/beacon-presence/internal/domain/presence"
	"github.com/alem-hub/beacon-presence/internal/domain/reminder"
	"github.com/alem-hub/beacon-presence/internal/domain/scan"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/pkg/logger"
	"github.com/alem-hub/beacon-presence/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeSource struct {
	batches  chan scan.Batch
	statuses chan scan.Status
	once     sync.Once
	closed   bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		batches:  make(chan scan.Batch, 8),
		statuses: make(chan scan.Status, 8),
	}
}

func (s *fakeSource) Subscribe(ctx context.Context) (<-chan scan.Batch, <-chan scan.Status, error) {
	return s.batches, s.statuses, nil
}

func (s *fakeSource) Close() error {
	s.once.Do(func() { s.closed = true })
	return nil
}

type fakeSink struct {
	mu   sync.Mutex
	got  []reminder.Reminder
	fail error
}

func (s *fakeSink) Deliver(ctx context.Context, r reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, r)
	return s.fail
}

func (s *fakeSink) kinds() []reminder.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]reminder.Kind, 0, len(s.got))
	for _, r := range s.got {
		out = append(out, r.Kind)
	}
	return out
}

func (s *fakeSink) all() []reminder.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reminder.Reminder(nil), s.got...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []session.Record
}

func (r *fakeRecorder) Record(ctx context.Context, rec session.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *fakeRecorder) all() []session.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Record(nil), r.records...)
}

type fakePrefs struct {
	id string
}

func (p *fakePrefs) StudentID(ctx context.Context) (string, error)        { return p.id, nil }
func (p *fakePrefs) SetStudentID(ctx context.Context, id string) error    { p.id = id; return nil }
func (p *fakePrefs) RulesSuppressed(ctx context.Context) (bool, error)    { return false, nil }
func (p *fakePrefs) SetRulesSuppressed(ctx context.Context, v bool) error { return nil }

type fakeBus struct {
	mu     sync.Mutex
	events []shared.EventType
}

func (b *fakeBus) Publish(e shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e.EventType())
	return nil
}

func (b *fakeBus) types() []shared.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]shared.EventType(nil), b.events...)
}

type fakeMirror struct {
	mu      sync.Mutex
	updates []presence.Update
}

func (f *fakeMirror) PublishPresence(ctx context.Context, u presence.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func target(t *testing.T) beacon.TargetIdentity {
	t.Helper()
	id, err := beacon.ParseTargetIdentity("E2C56DB5-DFFB-48D2-B060-D0F5A71096E0", 1, 7)
	require.NoError(t, err)
	return id
}

func seen(tgt beacon.TargetIdentity, ts time.Time) scan.Batch {
	return scan.Batch{
		Observations: []beacon.Observation{
			beacon.NewObservation(beacon.AppleCompanyID, beacon.Encode(tgt, -59), ts),
		},
		ReceivedAt: ts,
	}
}

func foreign(ts time.Time) scan.Batch {
	other := beacon.TargetIdentity{Major: 9, Minor: 9}
	return scan.Batch{
		Observations: []beacon.Observation{
			beacon.NewObservation(beacon.AppleCompanyID, beacon.Encode(other, -59), ts),
		},
		ReceivedAt: ts,
	}
}

type harness struct {
	m        *Monitor
	tgt      beacon.TargetIdentity
	source   *fakeSource
	sink     *fakeSink
	recorder *fakeRecorder
	bus      *fakeBus
	mirror   *fakeMirror
}

func newHarness(t *testing.T, studentID string) *harness {
	t.Helper()
	h := &harness{
		tgt:      target(t),
		source:   newFakeSource(),
		sink:     &fakeSink{},
		recorder: &fakeRecorder{},
		bus:      &fakeBus{},
		mirror:   &fakeMirror{},
	}

	cfg := DefaultConfig(h.tgt)
	cfg.Logger = logger.Discard()

	m, err := New(cfg, Deps{
		Source:   h.source,
		Recorder: h.recorder,
		Sink:     h.sink,
		Bus:      h.bus,
		Mirror:   h.mirror,
		Clock:    timeutil.NewManualClock(t0),
	})
	require.NoError(t, err)
	m.studentID = studentID
	h.m = m
	return h
}

// flush runs every queued side effect.
func (h *harness) flush() {
	h.m.pool.close()
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

func TestMonitor_SessionProducesSingleRecord(t *testing.T) {
	h := newHarness(t, "s-042")

	h.m.handleBatch(seen(h.tgt, at(0)), at(0))
	for d := 5 * time.Second; d <= 42*time.Minute+5*time.Second; d += 5 * time.Second {
		h.m.handleBatch(seen(h.tgt, at(d)), at(d))
		h.m.handlePresenceTick(at(d))
	}
	require.True(t, h.m.tracker.Inside())

	h.m.handlePresenceTick(at(42*time.Minute + 12*time.Second))
	require.True(t, h.m.tracker.Inside(), "7s without sighting is not an exit")

	h.m.handlePresenceTick(at(42*time.Minute + 17*time.Second))
	require.False(t, h.m.tracker.Inside())

	// further ticks never emit a second exit
	h.m.handlePresenceTick(at(43 * time.Minute))
	h.m.handlePresenceTick(at(44 * time.Minute))
	h.flush()

	records := h.recorder.all()
	require.Len(t, records, 1)
	assert.Equal(t, "s-042", records[0].StudentID)
	assert.Equal(t, at(0), records[0].Start)
	assert.Equal(t, at(42*time.Minute+17*time.Second), records[0].End)
	assert.Equal(t, 42*time.Minute+17*time.Second, records[0].Duration)

	var exits []reminder.Reminder
	for _, r := range h.sink.all() {
		if r.Kind == reminder.KindExit {
			exits = append(exits, r)
		}
	}
	require.Len(t, exits, 1)
	assert.Equal(t, "42 min 17 s", exits[0].DurationText)

	assert.Contains(t, h.bus.types(), shared.EventSessionRecorded)
}

func TestMonitor_AbsenceBoundary(t *testing.T) {
	h := newHarness(t, "")

	h.m.handleBatch(seen(h.tgt, at(0)), at(0))
	h.m.handlePresenceTick(at(5 * time.Second))
	h.m.handlePresenceTick(at(10 * time.Second))
	assert.True(t, h.m.tracker.Inside(), "exactly 10s is still inside")

	h.m.handlePresenceTick(at(15 * time.Second))
	assert.False(t, h.m.tracker.Inside())
}

func TestMonitor_EnterDeliversWelcomeAndSilentOnce(t *testing.T) {
	h := newHarness(t, "s-1")

	h.m.handleBatch(seen(h.tgt, at(0)), at(0))
	h.m.handleBatch(seen(h.tgt, at(time.Second)), at(time.Second))
	h.m.handleBatch(foreign(at(2*time.Second)), at(2*time.Second))
	h.flush()

	assert.Equal(t, []reminder.Kind{reminder.KindWelcome, reminder.KindSilentMode}, h.sink.kinds())
	assert.True(t, h.m.realignTimer)

	h.mirror.mu.Lock()
	defer h.mirror.mu.Unlock()
	require.Len(t, h.mirror.updates, 1)
	assert.True(t, h.mirror.updates[0].Inside)
}

func TestMonitor_ForeignBeaconNeverEnters(t *testing.T) {
	h := newHarness(t, "s-1")

	h.m.handleBatch(foreign(at(0)), at(0))
	h.m.handleBatch(scan.Batch{}, at(time.Second))
	h.flush()

	assert.False(t, h.m.tracker.Inside())
	assert.Empty(t, h.sink.kinds())
}

func TestMonitor_TimeSpentAtMinuteFourteen(t *testing.T) {
	h := newHarness(t, "s-1")
	h.m.handleBatch(seen(h.tgt, at(0)), at(0))

	for m := 1; m <= 13; m++ {
		h.m.handleReminderTick(at(time.Duration(m) * time.Minute))
	}
	h.m.handleReminderTick(at(14 * time.Minute))
	h.m.handleReminderTick(at(14*time.Minute + 30*time.Second))
	h.flush()

	var spent []int
	for _, r := range h.sink.all() {
		if r.Kind == reminder.KindTimeSpent {
			spent = append(spent, r.Minutes)
		}
	}
	assert.Equal(t, []int{15}, spent)
}

func TestMonitor_BreakAtThirtyMinutes(t *testing.T) {
	h := newHarness(t, "s-1")
	h.m.handleBatch(seen(h.tgt, at(0)), at(0))

	h.m.handleReminderTick(at(30 * time.Minute))
	h.m.handleReminderTick(at(30*time.Minute + 20*time.Second))
	h.flush()

	var breaks []int
	for _, r := range h.sink.all() {
		if r.Kind == reminder.KindBreak {
			breaks = append(breaks, r.Minutes)
		}
	}
	assert.Equal(t, []int{30}, breaks)
}

func TestMonitor_RemindersIdleWhileOutside(t *testing.T) {
	h := newHarness(t, "s-1")

	h.m.handleReminderTick(at(30 * time.Minute))
	h.m.handleClockTick(at(30 * time.Minute))
	h.flush()

	assert.Empty(t, h.sink.kinds())
	assert.False(t, h.m.clock.Running())
}

func TestMonitor_NoRecordWithoutStudent(t *testing.T) {
	h := newHarness(t, "")

	h.m.handleBatch(seen(h.tgt, at(0)), at(0))
	h.m.handlePresenceTick(at(time.Minute))
	h.flush()

	assert.Empty(t, h.recorder.all())
	assert.Contains(t, h.sink.kinds(), reminder.KindExit)
}

func TestMonitor_ReentryRestartsClockAndCursor(t *testing.T) {
	h := newHarness(t, "s-1")

	h.m.handleBatch(seen(h.tgt, at(0)), at(0))
	h.m.handleReminderTick(at(31 * time.Minute))
	h.m.handlePresenceTick(at(32 * time.Minute))

	h.m.handleBatch(seen(h.tgt, at(time.Hour)), at(time.Hour))
	assert.Equal(t, reminder.Cursor{SilentFired: true}, h.m.scheduler.Cursor())
	assert.Equal(t, time.Duration(0), h.m.clock.Elapsed())

	h.m.handleClockTick(at(time.Hour + 3*time.Second))
	assert.Equal(t, 3*time.Second, h.m.clock.Elapsed())

	h.m.handlePresenceTick(at(2 * time.Hour))
	h.flush()

	records := h.recorder.all()
	require.Len(t, records, 2)
	assert.Equal(t, 32*time.Minute, records[0].Duration)
	assert.Equal(t, time.Hour, records[1].Duration)
}

// ══════════════════════════════════════════════════════════════════════════════
// SCAN STATUS
// ══════════════════════════════════════════════════════════════════════════════

func TestMonitor_AdapterOffBlocksEntry(t *testing.T) {
	h := newHarness(t, "s-1")

	h.m.handleStatus(scan.Status{Kind: scan.StatusAdapterOff, At: at(0)})
	h.m.handleBatch(seen(h.tgt, at(time.Second)), at(time.Second))
	assert.False(t, h.m.tracker.Inside())

	h.m.handleStatus(scan.Status{Kind: scan.StatusPermissionDenied, At: at(2 * time.Second)})
	h.m.handleBatch(seen(h.tgt, at(3*time.Second)), at(3*time.Second))
	assert.False(t, h.m.tracker.Inside())

	h.m.handleStatus(scan.Status{Kind: scan.StatusReady, At: at(4 * time.Second)})
	h.m.handleBatch(seen(h.tgt, at(5*time.Second)), at(5*time.Second))
	assert.True(t, h.m.tracker.Inside())
	h.flush()

	assert.Contains(t, h.bus.types(), shared.EventScanStatusChanged)
}

func TestMonitor_AdapterOffWhileInsideStillTimesOut(t *testing.T) {
	h := newHarness(t, "s-1")

	h.m.handleBatch(seen(h.tgt, at(0)), at(0))
	h.m.handleStatus(scan.Status{Kind: scan.StatusAdapterOff, At: at(time.Second)})

	h.m.handlePresenceTick(at(5 * time.Second))
	assert.True(t, h.m.tracker.Inside())
	h.m.handlePresenceTick(at(15 * time.Second))
	assert.False(t, h.m.tracker.Inside())
	h.flush()

	assert.Len(t, h.recorder.all(), 1)
}

func TestMonitor_TransportErrorDoesNotBlock(t *testing.T) {
	h := newHarness(t, "s-1")

	h.m.handleStatus(scan.Status{Kind: scan.StatusTransportError, Reason: "redis down"})
	h.m.handleBatch(seen(h.tgt, at(0)), at(0))
	assert.True(t, h.m.tracker.Inside())
	h.flush()
}

// ══════════════════════════════════════════════════════════════════════════════
// SIDE EFFECTS
// ══════════════════════════════════════════════════════════════════════════════

func TestMonitor_SinkFailureDoesNotAffectState(t *testing.T) {
	h := newHarness(t, "s-1")
	h.sink.fail = errors.New("notification service down")

	h.m.handleBatch(seen(h.tgt, at(0)), at(0))
	h.flush()

	assert.True(t, h.m.tracker.Inside())
	assert.True(t, h.m.clock.Running())
	assert.Len(t, h.sink.kinds(), 2)
}

func TestMonitor_SideEffectPanicIsContained(t *testing.T) {
	h := newHarness(t, "s-1")
	h.m.deps.Recorder = session.RecorderFunc(func(ctx context.Context, rec session.Record) error {
		panic("boom")
	})

	h.m.handleBatch(seen(h.tgt, at(0)), at(0))
	h.m.handlePresenceTick(at(time.Minute))

	assert.NotPanics(t, h.flush)
	assert.False(t, h.m.tracker.Inside())
}

func TestWorkerPool_DropsWhenFull(t *testing.T) {
	p := newWorkerPool(1, 1, time.Second, nil, logger.Discard())

	ran := 0
	job := func(ctx context.Context) error { ran++; return nil }

	assert.True(t, p.submit("sink", job))
	assert.False(t, p.submit("sink", job))

	p.close()
	assert.Equal(t, 1, ran)
	assert.False(t, p.submit("sink", job), "closed pool rejects jobs")
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(DefaultConfig(target(t)), Deps{})
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestMonitor_StartStop(t *testing.T) {
	tgt := target(t)
	source := newFakeSource()
	sink := &fakeSink{}
	clock := timeutil.NewManualClock(t0)

	cfg := DefaultConfig(tgt)
	cfg.Logger = logger.Discard()
	m, err := New(cfg, Deps{
		Source:      source,
		Sink:        sink,
		Preferences: &fakePrefs{id: "s-7"},
		Clock:       clock,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.ErrorIs(t, m.Start(ctx), ErrAlreadyStarted)

	source.batches <- seen(tgt, t0)

	require.Eventually(t, func() bool {
		snap, err := m.Snapshot(ctx)
		return err == nil && snap.Presence.Inside
	}, time.Second, 5*time.Millisecond)

	clock.Advance(90 * time.Second)
	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "s-7", snap.StudentID)
	assert.Equal(t, 90*time.Second, snap.Elapsed)
	assert.Equal(t, "1 min 30 s", snap.ElapsedText)
	require.NotNil(t, snap.SessionStart)
	assert.Equal(t, t0, *snap.SessionStart)

	require.NoError(t, m.ForceSilentReminder(ctx))
	require.NoError(t, m.ForceSilentReminder(ctx))
	require.NoError(t, m.SetStudentID(ctx, "  s-8 "))

	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
	assert.True(t, source.closed)

	_, err = m.Snapshot(ctx)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, m.ForceSilentReminder(ctx), ErrNotRunning)

	var forced int
	for _, r := range sink.all() {
		if r.Kind == reminder.KindSilentMode && r.Forced {
			forced++
		}
	}
	assert.Equal(t, 2, forced)
}

func TestMonitor_CommandsBeforeStart(t *testing.T) {
	h := newHarness(t, "")
	assert.ErrorIs(t, h.m.ForceSilentReminder(context.Background()), ErrNotRunning)
	assert.NoError(t, h.m.Stop())
}
