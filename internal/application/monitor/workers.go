package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alem-hub/beacon-presence/internal/infrastructure/observability"
	"github.com/alem-hub/beacon-presence/pkg/logger"
)

type job struct {
	effect string
	run    func(ctx context.Context) error
}

// workerPool runs side effects off the loop goroutine. Submission never
// blocks: when the queue is full the job is dropped and counted.
type workerPool struct {
	workers int
	timeout time.Duration
	metrics *observability.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	jobs    chan job
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func newWorkerPool(workers, queueSize int, timeout time.Duration, metrics *observability.Metrics, log *slog.Logger) *workerPool {
	return &workerPool{
		workers: workers,
		timeout: timeout,
		metrics: metrics,
		logger:  log,
		jobs:    make(chan job, queueSize),
	}
}

func (p *workerPool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
}

func (p *workerPool) submit(effect string, run func(ctx context.Context) error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	select {
	case p.jobs <- job{effect: effect, run: run}:
		return true
	default:
		p.metrics.SideEffectDropped()
		p.logger.Warn("side-effect queue full, dropping job", "effect", effect)
		return false
	}
}

// close stops accepting jobs and waits for queued ones to finish.
func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	started := p.started
	p.mu.Unlock()

	if !started {
		// Nobody will drain the queue; run what is left inline.
		for j := range p.jobs {
			p.execute(j)
		}
		return
	}
	p.wg.Wait()
}

func (p *workerPool) work() {
	defer p.wg.Done()
	for j := range p.jobs {
		p.execute(j)
	}
}

func (p *workerPool) execute(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return j.run(ctx)
	}()

	if err != nil {
		p.metrics.SideEffectFailed(j.effect)
		p.logger.Error("side effect failed", "effect", j.effect, logger.Err(err))
	}
}
