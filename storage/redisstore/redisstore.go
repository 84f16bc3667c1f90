package redisstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/overtonx/eventqueue/storage"
)

const defaultKeyPrefix = "eventqueue:failed_events"

type Option func(*FailedEventStore)

func WithKeyPrefix(prefix string) Option {
	return func(s *FailedEventStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *FailedEventStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// FailedEventStore keeps demoted events in Redis.
// Order is kept in a sorted set scored by a monotonic id; payloads live in a hash keyed by that id.
type FailedEventStore struct {
	client redis.Cmdable
	prefix string
	logger *zap.Logger
}

var _ storage.FailedEventStore = (*FailedEventStore)(nil)

func NewFailedEventStore(client redis.Cmdable, opts ...Option) *FailedEventStore {
	s := &FailedEventStore{
		client: client,
		prefix: defaultKeyPrefix,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FailedEventStore) seqKey() string   { return s.prefix + ":seq" }
func (s *FailedEventStore) orderKey() string { return s.prefix + ":order" }
func (s *FailedEventStore) dataKey() string  { return s.prefix + ":data" }

func (s *FailedEventStore) InsertFailedEvent(ctx context.Context, params map[string]any) (int64, error) {
	payload, err := storage.EncodeParams(params)
	if err != nil {
		return 0, err
	}

	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate failed event id: %w", convertError(err))
	}

	field := strconv.FormatInt(id, 10)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.dataKey(), field, payload)
		pipe.ZAdd(ctx, s.orderKey(), redis.Z{Score: float64(id), Member: field})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert failed event: %w", convertError(err))
	}
	return id, nil
}

// DrainBatch returns up to pageSize of the oldest failed events without removing them.
// Entries with a malformed id, a missing payload or an undecodable payload are deleted.
func (s *FailedEventStore) DrainBatch(ctx context.Context, pageSize int) ([]storage.FailedEventRecord, error) {
	if pageSize <= 0 {
		return nil, nil
	}
	for {
		records, broken, err := s.readPage(ctx, pageSize)
		if err != nil {
			return nil, err
		}
		if len(broken) == 0 {
			return records, nil
		}
		if err := s.removeFields(ctx, broken); err != nil {
			return nil, fmt.Errorf("failed to drop broken failed events: %w", err)
		}
		s.logger.Error("Broken failed events dropped", zap.Strings("ids", broken))
	}
}

func (s *FailedEventStore) readPage(ctx context.Context, pageSize int) ([]storage.FailedEventRecord, []string, error) {
	fields, err := s.client.ZRange(ctx, s.orderKey(), 0, int64(pageSize-1)).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read failed event order: %w", convertError(err))
	}
	if len(fields) == 0 {
		return nil, nil, nil
	}

	payloads, err := s.client.HMGet(ctx, s.dataKey(), fields...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read failed events: %w", convertError(err))
	}

	records := make([]storage.FailedEventRecord, 0, len(fields))
	var broken []string
	for i, field := range fields {
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			s.logger.Warn("Failed event has malformed id", zap.String("id", field))
			broken = append(broken, field)
			continue
		}
		raw, ok := payloads[i].(string)
		if !ok {
			s.logger.Warn("Failed event payload missing", zap.Int64("id", id))
			broken = append(broken, field)
			continue
		}
		params, err := storage.DecodeParams([]byte(raw))
		if err != nil {
			s.logger.Warn("Failed event is not decodable", zap.Int64("id", id), zap.Error(err))
			broken = append(broken, field)
			continue
		}
		records = append(records, storage.FailedEventRecord{ID: id, Params: params})
	}
	return records, broken, nil
}

func (s *FailedEventStore) DeleteFailedEvents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	fields := make([]string, len(ids))
	for i, id := range ids {
		fields[i] = strconv.FormatInt(id, 10)
	}
	if err := s.removeFields(ctx, fields); err != nil {
		return fmt.Errorf("failed to delete failed events: %w", err)
	}
	return nil
}

func (s *FailedEventStore) removeFields(ctx context.Context, fields []string) error {
	members := make([]interface{}, len(fields))
	for i, f := range fields {
		members[i] = f
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.orderKey(), members...)
		pipe.HDel(ctx, s.dataKey(), fields...)
		return nil
	})
	return convertError(err)
}

// DeleteAllFailedEvents drops the stored events but keeps the id sequence so ids stay monotonic.
func (s *FailedEventStore) DeleteAllFailedEvents(ctx context.Context) error {
	if err := s.client.Del(ctx, s.orderKey(), s.dataKey()).Err(); err != nil {
		return fmt.Errorf("failed to delete failed events: %w", err)
	}
	return nil
}

// convertError maps Redis OOM replies (maxmemory reached) to storage.ErrStorageFull
// and closed or unreachable connections to storage.ErrStorageUnavailable.
func convertError(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	var redisErr redis.Error
	if errors.As(err, &redisErr) && strings.HasPrefix(redisErr.Error(), "OOM") {
		return fmt.Errorf("%w: %v", storage.ErrStorageFull, err)
	}
	return err
}
