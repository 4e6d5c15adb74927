package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/preferences"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/pkg/logger"
	"github.com/alem-hub/beacon-presence/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DAILY SUMMARY JOB
// ══════════════════════════════════════════════════════════════════════════════

// DailySummaryConfig configures DailySummaryJob.
type DailySummaryConfig struct {
	// Location decides where the day starts.
	Location *time.Location

	// Lookback bounds how many recent sessions are read (default: 200).
	Lookback int

	Clock  timeutil.Clock
	Logger *slog.Logger
}

// DailySummary is the outcome of one run.
type DailySummary struct {
	StudentID string
	Day       time.Time
	Total     time.Duration
	Sessions  int
}

// DailySummaryJob totals today's study time of the checked-in student and
// publishes it as a DailySummaryEvent.
type DailySummaryJob struct {
	prefs     preferences.Store
	sessions  session.Query
	publisher shared.EventPublisher
	config    DailySummaryConfig
	logger    *slog.Logger
}

// NewDailySummaryJob creates the job. publisher may be nil.
func NewDailySummaryJob(prefs preferences.Store, sessions session.Query, publisher shared.EventPublisher, cfg DailySummaryConfig) *DailySummaryJob {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 200
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &DailySummaryJob{
		prefs:     prefs,
		sessions:  sessions,
		publisher: publisher,
		config:    cfg,
		logger:    cfg.Logger.With(logger.Component("daily_summary")),
	}
}

// Name implements scheduler.Job.
func (j *DailySummaryJob) Name() string { return "daily_summary" }

// Description implements scheduler.Job.
func (j *DailySummaryJob) Description() string {
	return "publish today's study total for the checked-in student"
}

// Run implements scheduler.Job. Nothing is published when nobody is
// checked in.
func (j *DailySummaryJob) Run(ctx context.Context) error {
	summary, ok, err := j.Summarize(ctx)
	if err != nil || !ok {
		return err
	}

	j.logger.Info("daily summary",
		logger.StudentID(summary.StudentID),
		"day", summary.Day.Format("2006-01-02"),
		"sessions", summary.Sessions,
		"total", session.FormatElapsed(summary.Total),
	)

	if j.publisher == nil {
		return nil
	}
	event := shared.NewDailySummaryEvent(summary.StudentID, summary.Day, summary.Total, summary.Sessions, j.config.Clock.Now())
	if err := j.publisher.Publish(event); err != nil {
		return fmt.Errorf("daily_summary: publish: %w", err)
	}
	return nil
}

// Summarize computes today's total. ok is false when no student is stored.
func (j *DailySummaryJob) Summarize(ctx context.Context) (DailySummary, bool, error) {
	id, err := j.prefs.StudentID(ctx)
	if err != nil {
		return DailySummary{}, false, fmt.Errorf("daily_summary: read student id: %w", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		j.logger.Debug("no student checked in, skipping")
		return DailySummary{}, false, nil
	}

	records, err := j.sessions.ListByStudent(ctx, id, j.config.Lookback)
	if err != nil {
		return DailySummary{}, false, fmt.Errorf("daily_summary: list sessions: %w", err)
	}

	now := j.config.Clock.Now()
	summary := DailySummary{StudentID: id, Day: timeutil.StartOfDay(now, j.config.Location)}
	for _, rec := range records {
		if d := timeutil.OverlapWithDay(rec.Start, rec.End, now, j.config.Location); d > 0 {
			summary.Total += d
			summary.Sessions++
		}
	}
	return summary, true, nil
}
