package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/beacon-presence/pkg/logger"
	"github.com/alem-hub/beacon-presence/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type memOutbox struct {
	entries []sqlite.Entry
	cursors map[string]int64
}

func newMemOutbox(records ...session.Record) *memOutbox {
	o := &memOutbox{cursors: map[string]int64{}}
	for i, r := range records {
		o.entries = append(o.entries, sqlite.Entry{Seq: int64(i + 1), Record: r})
	}
	return o
}

func (o *memOutbox) ListAfter(_ context.Context, seq int64, limit int) ([]sqlite.Entry, error) {
	var out []sqlite.Entry
	for _, e := range o.entries {
		if e.Seq > seq && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (o *memOutbox) SyncCursor(_ context.Context, target string) (int64, error) {
	return o.cursors[target], nil
}

func (o *memOutbox) SetSyncCursor(_ context.Context, target string, seq int64) error {
	o.cursors[target] = seq
	return nil
}

type flakyRecorder struct {
	got    []session.Record
	failAt int
}

func (r *flakyRecorder) Record(_ context.Context, rec session.Record) error {
	if r.failAt > 0 && len(r.got)+1 == r.failAt {
		r.failAt = 0
		return errors.New("connection reset")
	}
	r.got = append(r.got, rec)
	return nil
}

type prefs struct{ id string }

func (p prefs) StudentID(context.Context) (string, error)      { return p.id, nil }
func (p prefs) SetStudentID(context.Context, string) error     { return nil }
func (p prefs) RulesSuppressed(context.Context) (bool, error)  { return false, nil }
func (p prefs) SetRulesSuppressed(context.Context, bool) error { return nil }

type sessions []session.Record

func (s sessions) ListByStudent(context.Context, string, int) ([]session.Record, error) {
	return s, nil
}

type publisher struct{ events []shared.Event }

func (p *publisher) Publish(e shared.Event) error {
	p.events = append(p.events, e)
	return nil
}

func record(t *testing.T, id string, start time.Time, d time.Duration) session.Record {
	t.Helper()
	rec, err := session.NewRecord(id, start, start.Add(d))
	require.NoError(t, err)
	return rec
}

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// ══════════════════════════════════════════════════════════════════════════════
// OUTBOX SYNC
// ══════════════════════════════════════════════════════════════════════════════

func TestOutboxSync_ReplaysInPages(t *testing.T) {
	var recs []session.Record
	for i := 0; i < 5; i++ {
		recs = append(recs, record(t, "alice", day.Add(time.Duration(i)*time.Hour), time.Minute))
	}
	outbox := newMemOutbox(recs...)
	target := &flakyRecorder{}
	job := NewOutboxSyncJob(outbox, target, OutboxSyncConfig{Target: "postgres", BatchSize: 2, Logger: logger.Discard()})

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, target.got, 5)
	assert.Equal(t, recs[4].ID, target.got[4].ID)
	assert.Equal(t, int64(5), outbox.cursors["postgres"])
	assert.Equal(t, "outbox_sync_postgres", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, target.got, 5, "nothing new to replay")
}

func TestOutboxSync_ResumesAfterFailure(t *testing.T) {
	recs := []session.Record{
		record(t, "alice", day, time.Minute),
		record(t, "alice", day.Add(time.Hour), time.Minute),
		record(t, "alice", day.Add(2*time.Hour), time.Minute),
	}
	outbox := newMemOutbox(recs...)
	target := &flakyRecorder{failAt: 2}
	job := NewOutboxSyncJob(outbox, target, OutboxSyncConfig{Target: "pg", Logger: logger.Discard()})

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, int64(1), outbox.cursors["pg"])

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, target.got, 3)
	assert.Equal(t, recs[1].ID, target.got[1].ID)
	assert.Equal(t, int64(3), outbox.cursors["pg"])
}

// ══════════════════════════════════════════════════════════════════════════════
// DAILY SUMMARY
// ══════════════════════════════════════════════════════════════════════════════

func TestDailySummary_TotalsToday(t *testing.T) {
	clock := timeutil.NewManualClock(day.Add(21 * time.Hour))
	history := sessions{
		record(t, "alice", day.Add(9*time.Hour), 42*time.Minute+17*time.Second),
		record(t, "alice", day.Add(-30*time.Minute), time.Hour), // 30m before midnight
		record(t, "alice", day.Add(-5*time.Hour), time.Hour),    // yesterday
	}
	pub := &publisher{}
	job := NewDailySummaryJob(prefs{id: "alice"}, history, pub, DailySummaryConfig{Clock: clock, Logger: logger.Discard()})

	summary, ok, err := job.Summarize(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, summary.Sessions)
	assert.Equal(t, 72*time.Minute+17*time.Second, summary.Total)
	assert.Equal(t, day, summary.Day)

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, pub.events, 1)
	ev, isSummary := pub.events[0].(shared.DailySummaryEvent)
	require.True(t, isSummary)
	assert.Equal(t, "2026-03-02", ev.Day)
	assert.Equal(t, shared.EventDailySummary, ev.EventType())
}

func TestDailySummary_SkipsWithoutStudent(t *testing.T) {
	pub := &publisher{}
	job := NewDailySummaryJob(prefs{}, sessions{}, pub, DailySummaryConfig{Logger: logger.Discard()})

	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, pub.events)
}
