package requestlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgInsert = `INSERT INTO ` + tableName + ` (` + insertColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (id) DO NOTHING`

// PostgreSQLStore implements Store for PostgreSQL databases.
type PostgreSQLStore struct {
	pool          *pgxpool.Pool
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewPostgreSQLStore creates the table and indexes if needed and starts the
// retention cleanup when retentionDays > 0.
func NewPostgreSQLStore(ctx context.Context, pool *pgxpool.Pool, retentionDays int) (*PostgreSQLStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			id UUID PRIMARY KEY,
			request_id TEXT NOT NULL DEFAULT '',
			timestamp TIMESTAMPTZ NOT NULL,
			client_ip TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			duration_ns BIGINT NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			bytes_out BIGINT NOT NULL DEFAULT 0,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			error_type TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT ''
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create request log table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_request_log_timestamp ON " + tableName + "(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_request_log_host ON " + tableName + "(host)",
		"CREATE INDEX IF NOT EXISTS idx_request_log_model ON " + tableName + "(model)",
	}
	for _, idx := range indexes {
		if _, err := pool.Exec(ctx, idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &PostgreSQLStore{
		pool:          pool,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch sends every insert in a single pgx batch. Conflicting IDs are
// skipped; any other failure is reported per entry.
func (s *PostgreSQLStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(pgInsert,
			e.ID, e.RequestID, e.Timestamp.UTC(), e.ClientIP, e.Method, e.Path, e.Host, e.Model,
			e.StatusCode, e.DurationNs, e.Attempts, e.BytesOut, e.PromptTokens, e.CompletionTokens,
			e.ErrorType, e.ErrorMessage)
	}

	results := s.pool.SendBatch(ctx, batch)

	var errs []error
	for _, e := range entries {
		if _, err := results.Exec(); err != nil {
			slog.Warn("failed to insert request log entry", "error", err, "id", e.ID)
			errs = append(errs, fmt.Errorf("insert %s: %w", e.ID, err))
		}
	}
	if err := results.Close(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to insert %d of %d request log entries: %w", len(errs), len(entries), errors.Join(errs...))
	}
	return nil
}

// Flush is a no-op; writes are synchronous.
func (s *PostgreSQLStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The pool belongs to the storage layer.
func (s *PostgreSQLStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

func (s *PostgreSQLStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	result, err := s.pool.Exec(ctx, "DELETE FROM "+tableName+" WHERE timestamp < $1", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old request log entries", "error", err)
		return
	}

	if result.RowsAffected() > 0 {
		slog.Info("cleaned up old request log entries", "deleted", result.RowsAffected())
	}
}
