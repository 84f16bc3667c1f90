package eventqueue

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type workerState int

const (
	workerIdle workerState = iota
	workerRunning
	workerStopped
)

// PeriodicWorker calls run every interval on the goroutine that called Start.
// It backs the scheduled queue sync and the failed-event resubmission.
type PeriodicWorker struct {
	name       string
	interval   time.Duration
	logger     *zap.Logger
	run        func(ctx context.Context) error
	runOnStart bool

	mu    sync.Mutex
	state workerState
	stop  chan struct{}
	done  chan struct{}

	// only touched by the Start goroutine
	failures int
}

func NewPeriodicWorker(name string, interval time.Duration, logger *zap.Logger, run func(ctx context.Context) error, opts ...WorkerOption) *PeriodicWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &PeriodicWorker{
		name:     name,
		interval: interval,
		logger:   logger.With(zap.String("worker", name)),
		run:      run,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewSyncWorker drains the queue on a schedule. It covers connectivity changes
// and app starts the host never reports, and picks up requests whose backoff has expired.
func NewSyncWorker(q *Queue, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	return NewPeriodicWorker("queue-sync", interval, logger, func(ctx context.Context) error {
		_, err := q.Drain(ctx)
		return err
	}, WithRunOnStart())
}

// NewResubmitWorker hands demoted events back to the queue as bulk requests.
func NewResubmitWorker(f *BatchFeeder, interval time.Duration, logger *zap.Logger) *PeriodicWorker {
	return NewPeriodicWorker("failed-event-resubmit", interval, logger, f.Resubmit)
}

// Start blocks until ctx is done or Stop is called. A worker starts at most once;
// Start after Stop returns immediately.
func (w *PeriodicWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.state != workerIdle {
		state := w.state
		w.mu.Unlock()
		w.logger.Warn("Worker start ignored", zap.Bool("stopped", state == workerStopped))
		return
	}
	w.state = workerRunning
	w.mu.Unlock()
	defer close(w.done)

	w.logger.Info("Worker started", zap.Duration("interval", w.interval))
	defer w.logger.Info("Worker stopped")

	if w.runOnStart {
		w.runOnce(ctx)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			// тик и Stop могли прийти одновременно
			select {
			case <-w.stop:
				return
			default:
			}
			w.runOnce(ctx)
		}
	}
}

func (w *PeriodicWorker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if err := w.run(ctx); err != nil {
		w.failures++
		w.logger.Error("Worker run failed", zap.Int("consecutive_failures", w.failures), zap.Error(err))
		return
	}
	if w.failures > 0 {
		w.logger.Info("Worker recovered", zap.Int("failed_runs", w.failures))
		w.failures = 0
	}
}

// Stop ends the loop and waits for a run in progress. Repeated calls are no-ops.
func (w *PeriodicWorker) Stop() {
	w.mu.Lock()
	prev := w.state
	w.state = workerStopped
	w.mu.Unlock()

	if prev != workerRunning {
		return
	}
	close(w.stop)
	<-w.done
}

func (w *PeriodicWorker) Name() string {
	return w.name
}
