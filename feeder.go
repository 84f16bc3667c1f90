package eventqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FeederQueue is the part of Queue the BatchFeeder works through.
type FeederQueue interface {
	Enqueue(ctx context.Context, req QueuedRequest) error
	DrainFailedEvents(ctx context.Context, pageSize int) ([]FailedEvent, error)
	ConfirmFailedEvents(ctx context.Context, ids []int64) error
}

// BatchFeeder turns low-priority events into bulk requests. It buffers tracked events
// and pages demoted events out of the failed-event store.
type BatchFeeder struct {
	queue    FeederQueue
	bulkURL  string
	batchKey string
	pageSize int
	maxPages int
	logger   *zap.Logger
	metrics  MetricsCollector

	mu     sync.Mutex
	buffer []map[string]any
}

// NewBatchFeeder создает фидер, отправляющий пакеты на bulkURL.
func NewBatchFeeder(queue FeederQueue, bulkURL string, opts ...FeederOption) (*BatchFeeder, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if _, err := NewRequest(MethodPost, bulkURL, ""); err != nil {
		return nil, fmt.Errorf("invalid bulk url: %w", err)
	}

	f := &BatchFeeder{
		queue:    queue,
		bulkURL:  bulkURL,
		batchKey: defaultBatchKey,
		pageSize: defaultFeederPageSize,
		maxPages: defaultFeederMaxPages,
		logger:   zap.NewNop(),
		metrics:  NewNopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Track buffers one event. A full buffer is flushed right away.
func (f *BatchFeeder) Track(ctx context.Context, params map[string]any) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: empty event", ErrInvalidRequest)
	}

	f.mu.Lock()
	f.buffer = append(f.buffer, params)
	full := len(f.buffer) >= f.pageSize
	f.mu.Unlock()

	if full {
		return f.Flush(ctx)
	}
	return nil
}

// Flush enqueues all buffered events as one bulk request.
// The buffer is restored when the enqueue fails.
func (f *BatchFeeder) Flush(ctx context.Context) error {
	f.mu.Lock()
	events := f.buffer
	f.buffer = nil
	f.mu.Unlock()

	if len(events) == 0 {
		return nil
	}

	if err := f.enqueueBatch(ctx, events); err != nil {
		f.mu.Lock()
		f.buffer = append(events, f.buffer...)
		f.mu.Unlock()
		return err
	}

	f.logger.Debug("Buffered events flushed", zap.Int("count", len(events)))
	return nil
}

// Buffered returns the number of events waiting for the next Flush.
func (f *BatchFeeder) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buffer)
}

// Resubmit pages demoted events back onto the queue as bulk requests.
// Each page is deleted from the failed-event store only after it was enqueued.
func (f *BatchFeeder) Resubmit(ctx context.Context) error {
	start := time.Now()
	defer func() {
		f.metrics.RecordDuration("eventqueue.resubmit.duration", time.Since(start), nil)
	}()

	total := 0
	for page := 0; page < f.maxPages; page++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		events, err := f.queue.DrainFailedEvents(ctx, f.pageSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			break
		}

		f.metrics.RecordGauge("eventqueue.resubmit.batch_size", float64(len(events)), nil)

		ids := make([]int64, len(events))
		params := make([]map[string]any, len(events))
		for i, e := range events {
			ids[i] = e.ID
			params[i] = e.Params
		}

		if err := f.enqueueBatch(ctx, params); err != nil {
			return err
		}
		// Если подтверждение не удалось, страница уйдет повторно (at-least-once)
		if err := f.queue.ConfirmFailedEvents(ctx, ids); err != nil {
			return err
		}

		total += len(events)
		f.metrics.IncrementCounter("eventqueue.failed_events.resubmitted", nil)
		if len(events) < f.pageSize {
			break
		}
	}

	if total > 0 {
		f.logger.Info("Failed events resubmitted", zap.Int("count", total))
	}
	return nil
}

func (f *BatchFeeder) enqueueBatch(ctx context.Context, events []map[string]any) error {
	body, err := encodeEnvelope(f.batchKey, events)
	if err != nil {
		return err
	}
	req, err := NewRequest(MethodPost, f.bulkURL, body)
	if err != nil {
		return err
	}
	if err := f.queue.Enqueue(ctx, req); err != nil {
		return fmt.Errorf("failed to enqueue batch: %w", err)
	}
	return nil
}
