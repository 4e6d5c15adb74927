// Package jobs contains the scheduled jobs of the presence daemon.
package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/persistence/sqlite"
	"github.com/alem-hub/beacon-presence/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// OUTBOX SYNC JOB
// Replays sessions kept in the local outbox into a remote recorder. Remote
// recorders ignore duplicate IDs, so replaying after a crash is safe.
// ══════════════════════════════════════════════════════════════════════════════

// Outbox is the local side read by the sync job.
type Outbox interface {
	ListAfter(ctx context.Context, seq int64, limit int) ([]sqlite.Entry, error)
	SyncCursor(ctx context.Context, target string) (int64, error)
	SetSyncCursor(ctx context.Context, target string, seq int64) error
}

// OutboxSyncConfig configures OutboxSyncJob.
type OutboxSyncConfig struct {
	// Target names the remote recorder; it keys the stored cursor.
	Target string

	// BatchSize is the page size read from the outbox (default: 100).
	BatchSize int

	Logger *slog.Logger
}

// OutboxSyncJob copies outbox rows to Target in insertion order.
type OutboxSyncJob struct {
	outbox Outbox
	target session.Recorder
	config OutboxSyncConfig
	logger *slog.Logger
}

// NewOutboxSyncJob creates the job.
func NewOutboxSyncJob(outbox Outbox, target session.Recorder, cfg OutboxSyncConfig) *OutboxSyncJob {
	if cfg.Target == "" {
		cfg.Target = "remote"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OutboxSyncJob{
		outbox: outbox,
		target: target,
		config: cfg,
		logger: cfg.Logger.With(logger.Component("outbox_sync"), "target", cfg.Target),
	}
}

// Name implements scheduler.Job.
func (j *OutboxSyncJob) Name() string { return "outbox_sync_" + j.config.Target }

// Description implements scheduler.Job.
func (j *OutboxSyncJob) Description() string {
	return "replay locally recorded sessions into " + j.config.Target
}

// Run implements scheduler.Job. The cursor advances past every delivered
// row, so a failure resumes at the first undelivered one.
func (j *OutboxSyncJob) Run(ctx context.Context) error {
	cursor, err := j.outbox.SyncCursor(ctx, j.config.Target)
	if err != nil {
		return fmt.Errorf("outbox_sync: load cursor: %w", err)
	}

	synced := 0
	for {
		entries, err := j.outbox.ListAfter(ctx, cursor, j.config.BatchSize)
		if err != nil {
			return fmt.Errorf("outbox_sync: read outbox: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		delivered := cursor
		var deliverErr error
		for _, e := range entries {
			if deliverErr = j.target.Record(ctx, e.Record); deliverErr != nil {
				break
			}
			delivered = e.Seq
			synced++
		}

		if delivered != cursor {
			if err := j.outbox.SetSyncCursor(ctx, j.config.Target, delivered); err != nil {
				return fmt.Errorf("outbox_sync: save cursor: %w", err)
			}
			cursor = delivered
		}
		if deliverErr != nil {
			return fmt.Errorf("outbox_sync: deliver after seq %d: %w", cursor, deliverErr)
		}
		if len(entries) < j.config.BatchSize {
			break
		}
	}

	if synced > 0 {
		j.logger.Info("outbox synced", "sessions", synced, "cursor", cursor)
	}
	return nil
}
