package sqlstore

import (
	"context"
	"fmt"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS queued_requests (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		request_key   TEXT    NOT NULL,
		url           TEXT    NOT NULL,
		method        TEXT    NOT NULL,
		body          TEXT    NOT NULL,
		retries_left  INTEGER NOT NULL,
		next_retry_at INTEGER NOT NULL DEFAULT 0,
		created_at    INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_queued_requests_next_retry
		ON queued_requests(next_retry_at, id)`,
	`CREATE TABLE IF NOT EXISTS failed_events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		params     BLOB    NOT NULL,
		created_at INTEGER NOT NULL
	)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS queued_requests (
		id            BIGINT AUTO_INCREMENT PRIMARY KEY,
		request_key   CHAR(36)      NOT NULL,
		url           VARCHAR(2048) NOT NULL,
		method        VARCHAR(8)    NOT NULL,
		body          MEDIUMTEXT    NOT NULL,
		retries_left  INT           NOT NULL,
		next_retry_at BIGINT        NOT NULL DEFAULT 0 COMMENT 'epoch millis, 0 - eligible now',
		created_at    BIGINT        NOT NULL,
		INDEX idx_next_retry (next_retry_at, id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	`CREATE TABLE IF NOT EXISTS failed_events (
		id         BIGINT AUTO_INCREMENT PRIMARY KEY,
		params     MEDIUMBLOB NOT NULL,
		created_at BIGINT     NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

// EnsureTables создает таблицы, если они не существуют
func (s *SQLStore) EnsureTables(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == DialectMySQL {
		statements = mysqlSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}
