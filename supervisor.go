package eventqueue

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Supervisor starts a set of workers and stops them together.
type Supervisor struct {
	logger *zap.Logger
	wg     sync.WaitGroup

	mu       sync.RWMutex
	workers  []Worker
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

func NewSupervisor(logger *zap.Logger, workers ...Worker) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		logger:   logger,
		workers:  workers,
		stopChan: make(chan struct{}),
	}
}

// Start runs all workers and blocks until ctx is cancelled or Stop is called.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		s.logger.Warn("Supervisor already started")
		return
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Starting supervisor", zap.Int("worker_count", len(s.workers)))

	for _, w := range s.workers {
		s.wg.Add(1)
		go func(worker Worker) {
			defer s.wg.Done()
			s.logger.Info("Starting worker", zap.String("worker_name", worker.Name()))
			worker.Start(ctx)
			s.logger.Info("Worker stopped", zap.String("worker_name", worker.Name()))
		}(w)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("Context cancelled, stopping supervisor")
		s.Stop()
	case <-s.stopChan:
		s.logger.Info("Stop signal received, stopping supervisor")
	}

	s.wg.Wait()
	s.logger.Info("Supervisor shutdown complete")

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// Stop is safe to call multiple times.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if !s.started {
			s.logger.Warn("Attempted to stop a supervisor that was not started")
			return
		}
		close(s.stopChan)
		for _, worker := range s.workers {
			worker.Stop()
		}
	})
}

func (s *Supervisor) IsStarted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// QueueWorker runs Queue.Run as a supervised worker.
type QueueWorker struct {
	queue  *Queue
	logger *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewQueueWorker(q *Queue, logger *zap.Logger) *QueueWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueWorker{queue: q, logger: logger}
}

func (w *QueueWorker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	w.mu.Lock()
	w.cancel = cancel
	w.done = done
	w.mu.Unlock()

	defer close(done)
	defer cancel()

	if err := w.queue.Run(ctx); err != nil {
		w.logger.Error("Queue run loop exited", zap.Error(err))
	}
}

// Stop cancels the run loop and waits for the cycle in flight.
func (w *QueueWorker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (w *QueueWorker) Name() string {
	return "queue-run"
}
