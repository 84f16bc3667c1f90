package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/overtonx/eventqueue/storage"
)

// Queue is the coordinator in front of the durable stores. It lets at most one
// dispatch cycle run at a time and applies the retry and demotion policy to every outcome.
type Queue struct {
	requests   storage.RequestStore
	failed     storage.FailedEventStore
	dispatcher *Dispatcher

	logger         *zap.Logger
	metrics        MetricsCollector
	connectivity   Connectivity
	txManager      TxManager
	now            func() time.Time
	retryInterval  time.Duration
	defaultRetries int
	priorityPath   string
	maxCycles      int
	errorBackoff   time.Duration

	// mu serializes every store mutation.
	mu      sync.Mutex
	status  atomic.Int32
	running atomic.Bool
	trigger chan struct{}
}

// New создает очередь. Диспетчер привязывается к очереди для auto-identify запросов.
func New(requests storage.RequestStore, failed storage.FailedEventStore, dispatcher *Dispatcher, opts ...Option) (*Queue, error) {
	if requests == nil {
		return nil, fmt.Errorf("request store is required")
	}
	if failed == nil {
		return nil, fmt.Errorf("failed event store is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	q := &Queue{
		requests:       requests,
		failed:         failed,
		dispatcher:     dispatcher,
		logger:         zap.NewNop(),
		metrics:        NewNopMetricsCollector(),
		connectivity:   alwaysConnected{},
		txManager:      nopTxManager{},
		now:            time.Now,
		retryInterval:  defaultRetryInterval,
		defaultRetries: defaultRetries,
		priorityPath:   defaultPriorityEndpoint,
		maxCycles:      defaultMaxCyclesPerRun,
		errorBackoff:   defaultErrorBackoff,
		trigger:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}

	dispatcher.enqueue = q.add
	return q, nil
}

// Enqueue persists req and signals the run loop. A zero retry count takes the queue default.
// On error the request is lost; it is not kept in memory.
func (q *Queue) Enqueue(ctx context.Context, req QueuedRequest) error {
	if err := q.add(ctx, req); err != nil {
		return err
	}
	q.Trigger()
	return nil
}

func (q *Queue) add(ctx context.Context, req QueuedRequest) error {
	if req.RetriesLeft == 0 {
		req.RetriesLeft = q.defaultRetries
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	if req.Key == "" {
		req.Key = uuid.NewString()
	}
	req.ID = 0
	req.NextRetryAt = 0
	req.CreatedAt = q.now().UnixMilli()

	q.mu.Lock()
	id, err := q.requests.InsertRequest(ctx, req.record())
	q.mu.Unlock()
	if err != nil {
		q.logger.Error("Failed to persist request, dropping it",
			zap.String("url", req.URL),
			zap.Error(err),
		)
		q.metrics.IncrementCounter("eventqueue.request.dropped", map[string]string{"reason": "insert"})
		return fmt.Errorf("failed to enqueue request: %w", err)
	}

	q.logger.Debug("Request enqueued", zap.Int64("request_id", id), zap.String("url", req.URL))
	q.metrics.IncrementCounter("eventqueue.enqueue", nil)
	return nil
}

// Trigger asks the run loop for a sync. Pending triggers coalesce into one.
func (q *Queue) Trigger() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

// NotifyConnectivityChanged is called by the host when the network state flips.
func (q *Queue) NotifyConnectivityChanged() {
	q.Trigger()
}

// Run drains the queue on every trigger until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return ErrQueueRunning
	}
	defer q.running.Store(false)

	q.logger.Info("Queue run loop started")
	defer q.logger.Info("Queue run loop stopped")

	q.Trigger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.trigger:
			if _, err := q.Drain(ctx); err != nil && ctx.Err() == nil {
				q.logger.Error("Queue drain failed", zap.Error(err), zap.Duration("backoff", q.errorBackoff))
				// пауза, чтобы сломанное хранилище не крутило цикл
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(q.errorBackoff):
				}
			}
		}
	}
}

// Drain runs cycles back to back until nothing is eligible, the gate is closed,
// or the per-call cycle limit is hit. It returns the number of dispatched requests.
func (q *Queue) Drain(ctx context.Context) (int, error) {
	dispatched := 0
	for dispatched < q.maxCycles {
		ran, err := q.SyncOnce(ctx)
		if err != nil {
			return dispatched, err
		}
		if !ran {
			return dispatched, nil
		}
		dispatched++
	}

	q.logger.Warn("Drain stopped at cycle limit", zap.Int("max_cycles", q.maxCycles))
	q.Trigger()
	return dispatched, nil
}

// SyncOnce starts one cycle if the device is online and no other cycle is in flight.
// It reports whether a request was dispatched.
func (q *Queue) SyncOnce(ctx context.Context) (bool, error) {
	if !q.connectivity.IsConnected() {
		q.logger.Debug("No connectivity, sync skipped")
		return false, nil
	}
	if !q.status.CompareAndSwap(int32(StatusAvailable), int32(StatusBusy)) {
		q.logger.Debug("Cycle already in flight, sync skipped")
		return false, nil
	}
	defer q.status.Store(int32(StatusAvailable))

	return q.runCycle(ctx)
}

func (q *Queue) runCycle(ctx context.Context) (bool, error) {
	start := time.Now()

	q.mu.Lock()
	rec, err := q.requests.NextEligible(ctx, q.now())
	q.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("failed to fetch next request: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	outcome := q.dispatcher.Dispatch(ctx, requestFromRecord(*rec))
	if ctx.Err() != nil {
		// Запрос остается в хранилище без изменений
		q.logger.Warn("Context cancelled during dispatch, request left in place",
			zap.Int64("request_id", rec.ID))
		return false, ctx.Err()
	}

	if err := q.handleOutcome(ctx, outcome); err != nil {
		q.Trigger()
		return true, err
	}
	q.metrics.RecordDuration("eventqueue.cycle.duration", time.Since(start), nil)
	return true, nil
}

// handleOutcome removes the original record first and then applies the policy
// for the outcome, all in one transaction when a TxManager is configured.
func (q *Queue) handleOutcome(ctx context.Context, outcome Outcome) error {
	req := outcome.Request

	q.mu.Lock()
	defer q.mu.Unlock()

	err := q.txManager.Do(ctx, func(ctx context.Context) error {
		removed, err := q.requests.RemoveRequest(ctx, req.ID)
		if err != nil {
			return fmt.Errorf("failed to remove request %d: %w", req.ID, err)
		}
		if outcome.Success() {
			return nil
		}
		if !removed {
			q.logger.Info("Request cleared while in flight, not rescheduling",
				zap.Int64("request_id", req.ID))
			return nil
		}
		if q.isPriority(req) {
			return q.demote(ctx, req)
		}
		return q.reschedule(ctx, req)
	})
	if err != nil {
		q.logger.Error("Failed to apply dispatch outcome",
			zap.Int64("request_id", req.ID),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return fmt.Errorf("failed to handle outcome: %w", err)
	}
	return nil
}

// demote moves a failed single-event request into the failed-event store.
// A storage failure there re-adds the original so the event is not lost.
func (q *Queue) demote(ctx context.Context, req QueuedRequest) error {
	params, err := decodeObject(req.Body)
	if err != nil {
		q.logger.Warn("Single event body is not an object, retrying as ordinary request",
			zap.Int64("request_id", req.ID), zap.Error(err))
		return q.reschedule(ctx, req)
	}

	id, err := q.failed.InsertFailedEvent(ctx, params)
	if err == nil {
		q.logger.Info("Request demoted to failed events",
			zap.Int64("request_id", req.ID),
			zap.Int64("failed_event_id", id),
		)
		q.metrics.IncrementCounter("eventqueue.request.demoted", nil)
		return nil
	}

	q.logger.Warn("Failed to demote request, re-queueing original",
		zap.Int64("request_id", req.ID),
		zap.Bool("storage_full", errors.Is(err, storage.ErrStorageFull)),
		zap.Error(err),
	)
	fallback := req.deferred(q.now().Add(q.retryInterval))
	if _, err := q.requests.InsertRequest(ctx, fallback.record()); err != nil {
		return fmt.Errorf("failed to re-queue request after demotion failure: %w", err)
	}
	q.metrics.IncrementCounter("eventqueue.request.fallback_requeued", nil)
	return nil
}

func (q *Queue) reschedule(ctx context.Context, req QueuedRequest) error {
	next := req.retried(q.now().Add(q.retryInterval))
	if next.RetriesLeft <= 0 {
		q.logger.Error("Request exhausted retries, dropping it",
			zap.Int64("request_id", req.ID),
			zap.String("url", req.URL),
		)
		q.metrics.IncrementCounter("eventqueue.request.dropped", map[string]string{"reason": "retries"})
		return nil
	}

	id, err := q.requests.InsertRequest(ctx, next.record())
	if err != nil {
		return fmt.Errorf("failed to reschedule request: %w", err)
	}

	q.logger.Info("Request scheduled for retry",
		zap.Int64("request_id", id),
		zap.String("url", req.URL),
		zap.Int("retries_left", next.RetriesLeft),
		zap.Int64("next_retry_at", next.NextRetryAt),
	)
	q.metrics.IncrementCounter("eventqueue.request.rescheduled", nil)
	return nil
}

func (q *Queue) isPriority(req QueuedRequest) bool {
	path := req.URL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(strings.TrimSuffix(path, "/"), q.priorityPath)
}

// ClearAll wipes both stores. A cycle in flight still finishes its network call,
// but its outcome no longer re-inserts anything.
func (q *Queue) ClearAll(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	err := multierr.Append(
		q.requests.DeleteAllRequests(ctx),
		q.failed.DeleteAllFailedEvents(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	q.logger.Info("Queue cleared")
	return nil
}

// DrainFailedEvents returns up to pageSize oldest failed events without removing them.
func (q *Queue) DrainFailedEvents(ctx context.Context, pageSize int) ([]FailedEvent, error) {
	q.mu.Lock()
	records, err := q.failed.DrainBatch(ctx, pageSize)
	q.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to drain failed events: %w", err)
	}

	events := make([]FailedEvent, len(records))
	for i, rec := range records {
		events[i] = FailedEvent{ID: rec.ID, Params: rec.Params}
	}
	return events, nil
}

// ConfirmFailedEvents deletes failed events after they were handed off.
func (q *Queue) ConfirmFailedEvents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.failed.DeleteFailedEvents(ctx, ids); err != nil {
		return fmt.Errorf("failed to confirm failed events: %w", err)
	}
	return nil
}

func (q *Queue) Status() Status {
	return Status(q.status.Load())
}

// Len returns the number of pending requests, eligible or not.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.requests.CountRequests(ctx)
}
