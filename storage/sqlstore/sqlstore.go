package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	sqlite "modernc.org/sqlite"

	"github.com/overtonx/eventqueue/storage"
)

const (
	tableRequests     = "queued_requests"
	tableFailedEvents = "failed_events"
)

// SQL queries
const (
	insertRequestQuery = `
		INSERT INTO %s (request_key, url, method, body, retries_left, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	nextEligibleQuery = `
		SELECT id, request_key, url, method, body, retries_left, next_retry_at, created_at
		FROM %s
		WHERE next_retry_at = 0 OR next_retry_at < ?
		ORDER BY id
		LIMIT 1`

	removeRequestQuery = `DELETE FROM %s WHERE id = ?`

	countRequestsQuery = `SELECT COUNT(*) FROM %s`

	deleteAllQuery = `DELETE FROM %s`

	insertFailedEventQuery = `INSERT INTO %s (params, created_at) VALUES (?, ?)`

	drainFailedEventsQuery = `
		SELECT id, params
		FROM %s
		ORDER BY id
		LIMIT ?`

	deleteFailedEventsQuery = `DELETE FROM %s WHERE id IN (%s)`
)

const (
	mysqlErrRecordFileFull = 1114
	mysqlErrDataTooLong    = 1406
	mysqlErrNetPacketLarge = 1153

	// primary result codes, extended codes keep them in the low byte
	sqliteFull     = 13
	sqliteCantOpen = 14
	sqliteTooBig   = 18
)

// Dialect selects the DDL flavour used by EnsureTables.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectMySQL
)

type Option func(*SQLStore)

func WithDialect(dialect Dialect) Option {
	return func(s *SQLStore) {
		s.dialect = dialect
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *SQLStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCtxGetter overrides how the store picks up a transaction from the context.
func WithCtxGetter(getter *trmsql.CtxGetter) Option {
	return func(s *SQLStore) {
		if getter != nil {
			s.getter = getter
		}
	}
}

// SQLStore implements both storage.RequestStore and storage.FailedEventStore on top of database/sql.
// Every statement runs inside the transaction carried by ctx, if any.
type SQLStore struct {
	db      *sql.DB
	getter  *trmsql.CtxGetter
	logger  *zap.Logger
	dialect Dialect
}

var (
	_ storage.RequestStore     = (*SQLStore)(nil)
	_ storage.FailedEventStore = (*SQLStore)(nil)
)

func NewSQLStore(db *sql.DB, opts ...Option) *SQLStore {
	s := &SQLStore{
		db:      db,
		getter:  trmsql.DefaultCtxGetter,
		logger:  zap.NewNop(),
		dialect: DialectSQLite,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenSQLite opens (or creates) an on-device SQLite database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty db path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// :memory: databases are per connection
	db.SetMaxOpenConns(1)

	s := NewSQLStore(db, append([]Option{WithDialect(DialectSQLite)}, opts...)...)
	if err := s.EnsureTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB returns the underlying handle, e.g. to build a transaction manager factory.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) conn(ctx context.Context) trmsql.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

func (s *SQLStore) InsertRequest(ctx context.Context, record storage.RequestRecord) (int64, error) {
	query := fmt.Sprintf(insertRequestQuery, tableRequests)
	res, err := s.conn(ctx).ExecContext(ctx, query,
		record.Key,
		record.URL,
		record.Method,
		record.Body,
		record.RetriesLeft,
		record.NextRetryAt,
		record.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert request: %w", convertError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted request id: %w", err)
	}
	return id, nil
}

func (s *SQLStore) NextEligible(ctx context.Context, now time.Time) (*storage.RequestRecord, error) {
	query := fmt.Sprintf(nextEligibleQuery, tableRequests)
	row := s.conn(ctx).QueryRowContext(ctx, query, now.UnixMilli())

	var record storage.RequestRecord
	err := row.Scan(
		&record.ID,
		&record.Key,
		&record.URL,
		&record.Method,
		&record.Body,
		&record.RetriesLeft,
		&record.NextRetryAt,
		&record.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query next eligible request: %w", err)
	}
	return &record, nil
}

func (s *SQLStore) RemoveRequest(ctx context.Context, id int64) (bool, error) {
	query := fmt.Sprintf(removeRequestQuery, tableRequests)
	res, err := s.conn(ctx).ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func (s *SQLStore) CountRequests(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(countRequestsQuery, tableRequests)
	var count int64
	if err := s.conn(ctx).QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return count, nil
}

func (s *SQLStore) DeleteAllRequests(ctx context.Context) error {
	query := fmt.Sprintf(deleteAllQuery, tableRequests)
	if _, err := s.conn(ctx).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to delete requests: %w", err)
	}
	return nil
}

func (s *SQLStore) InsertFailedEvent(ctx context.Context, params map[string]any) (int64, error) {
	payload, err := storage.EncodeParams(params)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf(insertFailedEventQuery, tableFailedEvents)
	res, err := s.conn(ctx).ExecContext(ctx, query, payload, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to insert failed event: %w", convertError(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted failed event id: %w", err)
	}
	return id, nil
}

// DrainBatch returns up to pageSize of the oldest failed events without removing them.
// Rows that cannot be decoded are deleted so they never hold a page slot.
func (s *SQLStore) DrainBatch(ctx context.Context, pageSize int) ([]storage.FailedEventRecord, error) {
	if pageSize <= 0 {
		return nil, nil
	}
	for {
		records, broken, err := s.readFailedEvents(ctx, pageSize)
		if err != nil {
			return nil, err
		}
		if len(broken) == 0 {
			return records, nil
		}
		if err := s.DeleteFailedEvents(ctx, broken); err != nil {
			return nil, fmt.Errorf("failed to drop undecodable failed events: %w", err)
		}
		s.logger.Error("Undecodable failed events dropped", zap.Int64s("ids", broken))
	}
}

func (s *SQLStore) readFailedEvents(ctx context.Context, pageSize int) ([]storage.FailedEventRecord, []int64, error) {
	query := fmt.Sprintf(drainFailedEventsQuery, tableFailedEvents)
	rows, err := s.conn(ctx).QueryContext(ctx, query, pageSize)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query failed events: %w", err)
	}
	defer rows.Close()

	var (
		records []storage.FailedEventRecord
		broken  []int64
	)
	for rows.Next() {
		var (
			id      int64
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, nil, fmt.Errorf("failed to scan failed event row: %w", err)
		}
		params, err := storage.DecodeParams(payload)
		if err != nil {
			s.logger.Warn("Failed event is not decodable", zap.Int64("id", id), zap.Error(err))
			broken = append(broken, id)
			continue
		}
		records = append(records, storage.FailedEventRecord{ID: id, Params: params})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error reading failed event rows: %w", err)
	}
	return records, broken, nil
}

func (s *SQLStore) DeleteFailedEvents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	query := fmt.Sprintf(deleteFailedEventsQuery, tableFailedEvents, placeholders)

	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	if _, err := s.conn(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete failed events: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteAllFailedEvents(ctx context.Context) error {
	query := fmt.Sprintf(deleteAllQuery, tableFailedEvents)
	if _, err := s.conn(ctx).ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to delete failed events: %w", err)
	}
	return nil
}

// convertError maps driver-specific "out of space" errors to storage.ErrStorageFull
// and lost connections to storage.ErrStorageUnavailable.
func convertError(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, mysql.ErrInvalidConn) {
		return fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrRecordFileFull, mysqlErrDataTooLong, mysqlErrNetPacketLarge:
			return fmt.Errorf("%w: %v", storage.ErrStorageFull, err)
		}
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqliteFull, sqliteTooBig:
			return fmt.Errorf("%w: %v", storage.ErrStorageFull, err)
		case sqliteCantOpen:
			return fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
		}
	}
	return err
}
