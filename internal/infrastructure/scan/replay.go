package scan

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	domainscan "github.com/alem-hub/beacon-presence/internal/domain/scan"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/observability"
	"github.com/alem-hub/beacon-presence/pkg/logger"
	"github.com/alem-hub/beacon-presence/pkg/timeutil"
)

// maxLineSize bounds one JSON line.
const maxLineSize = 1 << 20

// ReplayConfig configures a ReplaySource.
type ReplayConfig struct {
	// Interval paces lines; zero replays as fast as the loop consumes them.
	Interval time.Duration

	Clock   timeutil.Clock
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// ReplaySource replays Envelope lines from a reader. Batches without a
// received time are stamped with the current time, so a recorded file can be
// replayed against a live clock. Both channels close at end of input.
type ReplaySource struct {
	r      io.Reader
	closer io.Closer
	cfg    ReplayConfig
	logger *slog.Logger

	mu         sync.Mutex
	subscribed bool
	closed     bool
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

// NewReplaySource creates a source over r. If r is an io.Closer it is closed
// by Close.
func NewReplaySource(r io.Reader, cfg ReplayConfig) *ReplaySource {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &ReplaySource{
		r:      r,
		cfg:    cfg,
		logger: cfg.Logger.With(logger.Component("scan_replay")),
		done:   make(chan struct{}),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Subscribe implements scan.Source.
func (s *ReplaySource) Subscribe(ctx context.Context) (<-chan domainscan.Batch, <-chan domainscan.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, shared.ErrScannerClosed
	}
	if s.subscribed {
		return nil, nil, ErrAlreadySubscribed
	}
	s.subscribed = true

	ctx, s.cancel = context.WithCancel(ctx)
	batches := make(chan domainscan.Batch)
	statuses := make(chan domainscan.Status)

	go s.run(ctx, batches, statuses)
	return batches, statuses, nil
}

// Close stops the replay and closes the underlying reader.
func (s *ReplaySource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		subscribed := s.subscribed
		s.closed = true
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if s.closer != nil {
			err = s.closer.Close()
		}
		if subscribed {
			<-s.done
		}
	})
	return err
}

func (s *ReplaySource) run(ctx context.Context, batches chan<- domainscan.Batch, statuses chan<- domainscan.Status) {
	defer close(s.done)
	defer close(batches)
	defer close(statuses)

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lines := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines++

		if lines > 1 && s.cfg.Interval > 0 {
			if !sleep(ctx, s.cfg.Interval) {
				return
			}
		}

		msg, err := DecodeEnvelope([]byte(line))
		if err != nil {
			s.cfg.Metrics.ScanDecodeError()
			s.logger.Warn("skipping malformed replay line", "line", lines, logger.Err(err))
			continue
		}
		for i := 0; i < msg.Skipped; i++ {
			s.cfg.Metrics.ScanDecodeError()
		}
		if msg.Skipped > 0 {
			s.logger.Warn("skipping malformed advertisements", "line", lines, "count", msg.Skipped)
		}

		now := s.cfg.Clock.Now()
		batch, status := msg.Batch, msg.Status
		switch msg.Type {
		case TypeBatch:
			if batch.ReceivedAt.IsZero() {
				batch.ReceivedAt = now
			}
			for i := range batch.Observations {
				if batch.Observations[i].ObservedAt.IsZero() {
					batch.Observations[i].ObservedAt = now
				}
			}
			if !send(ctx, batches, batch) {
				return
			}
		case TypeStatus:
			if status.At.IsZero() {
				status.At = now
			}
			if !send(ctx, statuses, status) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		s.logger.Error("replay read failed", logger.Err(err))
		return
	}
	s.logger.Info("replay finished", "lines", lines)
}
