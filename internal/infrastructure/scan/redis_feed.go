package scan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	domainscan "github.com/alem-hub/beacon-presence/internal/domain/scan"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/internal/infrastructure/observability"
	redisstore "github.com/alem-hub/beacon-presence/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/beacon-presence/pkg/logger"
	"github.com/alem-hub/beacon-presence/pkg/retry"
	"github.com/alem-hub/beacon-presence/pkg/timeutil"
)

// ErrAlreadySubscribed is returned on a second Subscribe.
var ErrAlreadySubscribed = errors.New("scan: source already subscribed")

// Popper is the blocking list read the feed needs. *redis.Cache implements it
// and returns redis.ErrCacheMiss when the timeout elapses with no element.
type Popper interface {
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) (string, []byte, error)
}

// RedisFeedConfig configures a RedisFeed.
type RedisFeedConfig struct {
	BatchKey    string
	StatusKey   string
	PollTimeout time.Duration

	// Backoff supplies the delay after consecutive pop failures.
	Backoff *retry.Retrier

	Clock   timeutil.Clock
	Metrics *observability.Metrics
	Logger  *slog.Logger
}

// RedisFeed reads scan batches and scanner status reports from two Redis
// lists. Connection failures are reported as StatusTransportError; once the
// connection recovers the last status reported by the scanner is restored.
type RedisFeed struct {
	popper Popper
	cfg    RedisFeedConfig
	logger *slog.Logger

	mu         sync.Mutex
	subscribed bool
	closed     bool
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
}

// NewRedisFeed creates a feed over popper.
func NewRedisFeed(popper Popper, cfg RedisFeedConfig) *RedisFeed {
	if cfg.BatchKey == "" {
		cfg.BatchKey = "presence:scan:batches"
	}
	if cfg.StatusKey == "" {
		cfg.StatusKey = "presence:scan:status"
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 2 * time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = retry.ScanFeedBackoff()
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &RedisFeed{
		popper: popper,
		cfg:    cfg,
		logger: cfg.Logger.With(logger.Component("scan_feed")),
		done:   make(chan struct{}),
	}
}

// Subscribe implements scan.Source.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan domainscan.Batch, <-chan domainscan.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, nil, shared.ErrScannerClosed
	}
	if f.subscribed {
		return nil, nil, ErrAlreadySubscribed
	}
	f.subscribed = true

	ctx, f.cancel = context.WithCancel(ctx)
	batches := make(chan domainscan.Batch, 16)
	statuses := make(chan domainscan.Status, 4)

	go f.run(ctx, batches, statuses)

	f.logger.Info("scan feed subscribed",
		"batch_key", f.cfg.BatchKey,
		"status_key", f.cfg.StatusKey,
	)
	return batches, statuses, nil
}

// Close stops the feed and waits for its goroutine. Safe to call more than once.
func (f *RedisFeed) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		cancel := f.cancel
		subscribed := f.subscribed
		f.closed = true
		f.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if subscribed {
			<-f.done
		}
	})
	return nil
}

func (f *RedisFeed) run(ctx context.Context, batches chan<- domainscan.Batch, statuses chan<- domainscan.Status) {
	defer close(f.done)
	defer close(batches)
	defer close(statuses)

	// Last status the scanner itself reported.
	scanner := domainscan.Status{Kind: domainscan.StatusReady}
	failures := 0

	for {
		key, data, err := f.popper.BRPop(ctx, f.cfg.PollTimeout, f.cfg.BatchKey, f.cfg.StatusKey)
		if ctx.Err() != nil {
			return
		}

		switch {
		case errors.Is(err, redisstore.ErrCacheMiss):
			continue

		case err != nil:
			failures++
			if failures == 1 {
				f.logger.Warn("scan feed read failed", logger.Err(err))
				status := domainscan.Status{
					Kind:   domainscan.StatusTransportError,
					Reason: err.Error(),
					At:     f.cfg.Clock.Now(),
				}
				if !send(ctx, statuses, status) {
					return
				}
			}
			if !sleep(ctx, f.cfg.Backoff.Delay(failures)) {
				return
			}
			continue
		}

		if failures > 0 {
			f.logger.Info("scan feed recovered", "failures", failures)
			failures = 0
			restored := scanner
			restored.At = f.cfg.Clock.Now()
			if !send(ctx, statuses, restored) {
				return
			}
		}

		switch key {
		case f.cfg.BatchKey:
			batch, skipped, err := DecodeBatch(data)
			if err != nil {
				f.badMessage(key, err)
				continue
			}
			if skipped > 0 {
				f.skippedAdvertisements(key, skipped)
			}
			if batch.ReceivedAt.IsZero() {
				batch.ReceivedAt = f.cfg.Clock.Now()
			}
			if !send(ctx, batches, batch) {
				return
			}

		case f.cfg.StatusKey:
			status, err := DecodeStatus(data)
			if err != nil {
				f.badMessage(key, err)
				continue
			}
			if status.At.IsZero() {
				status.At = f.cfg.Clock.Now()
			}
			scanner = status
			if !send(ctx, statuses, status) {
				return
			}
		}
	}
}

func (f *RedisFeed) badMessage(key string, err error) {
	f.cfg.Metrics.ScanDecodeError()
	f.logger.Warn("dropping malformed scan message", "key", key, logger.Err(err))
}

func (f *RedisFeed) skippedAdvertisements(key string, n int) {
	for i := 0; i < n; i++ {
		f.cfg.Metrics.ScanDecodeError()
	}
	f.logger.Warn("skipping malformed advertisements", "key", key, "count", n)
}

func send[T any](ctx context.Context, ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
