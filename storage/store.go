package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrStorageFull is returned when the backing store refuses a write because it is out of space
	// or the row is too large.
	ErrStorageFull = errors.New("storage full")
	// ErrStorageUnavailable is returned when the store cannot be reached at all.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// RequestStore - персистентная очередь исходящих запросов.
type RequestStore interface {
	// InsertRequest добавляет запрос и возвращает присвоенный идентификатор
	InsertRequest(ctx context.Context, record RequestRecord) (int64, error)
	// NextEligible возвращает самый старый запрос, готовый к отправке на момент now
	NextEligible(ctx context.Context, now time.Time) (*RequestRecord, error)
	// RemoveRequest удаляет запрос; повторное удаление не является ошибкой
	RemoveRequest(ctx context.Context, id int64) (bool, error)
	// CountRequests возвращает количество запросов в очереди
	CountRequests(ctx context.Context) (int64, error)
	// DeleteAllRequests очищает очередь
	DeleteAllRequests(ctx context.Context) error
}

// FailedEventStore - хранилище событий, понижённых до пакетной повторной отправки.
type FailedEventStore interface {
	// InsertFailedEvent сохраняет параметры события
	InsertFailedEvent(ctx context.Context, params map[string]any) (int64, error)
	// DrainBatch возвращает до pageSize самых старых событий, не удаляя их
	DrainBatch(ctx context.Context, pageSize int) ([]FailedEventRecord, error)
	// DeleteFailedEvents удаляет события после успешной передачи
	DeleteFailedEvents(ctx context.Context, ids []int64) error
	// DeleteAllFailedEvents очищает хранилище
	DeleteAllFailedEvents(ctx context.Context) error
}

// RequestRecord is the persisted form of a queued outbound call.
type RequestRecord struct {
	ID          int64
	Key         string
	URL         string
	Method      string
	Body        string
	RetriesLeft int
	// NextRetryAt is epoch millis; 0 means eligible immediately.
	NextRetryAt int64
	CreatedAt   int64
}

// Eligible reports whether the record may be dispatched at now.
func (r RequestRecord) Eligible(now time.Time) bool {
	return r.NextRetryAt == 0 || r.NextRetryAt < now.UnixMilli()
}

// FailedEventRecord is a demoted event payload waiting for batch resubmission.
type FailedEventRecord struct {
	ID     int64
	Params map[string]any
}
