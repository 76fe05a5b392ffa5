package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// SQLite binds at most 999 parameters per statement.
const (
	maxSQLiteParams    = 999
	columnsPerEntry    = 16
	maxEntriesPerBatch = maxSQLiteParams / columnsPerEntry
)

const insertColumns = `id, request_id, timestamp, client_ip, method, path, host, model,
	status_code, duration_ns, attempts, bytes_out, prompt_tokens, completion_tokens,
	error_type, error_message`

// SQLiteStore implements Store for SQLite databases.
type SQLiteStore struct {
	db            *sql.DB
	retentionDays int
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

// NewSQLiteStore creates the table and indexes if needed and starts the
// retention cleanup when retentionDays > 0.
func NewSQLiteStore(db *sql.DB, retentionDays int) (*SQLiteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL DEFAULT '',
			timestamp DATETIME NOT NULL,
			client_ip TEXT NOT NULL DEFAULT '',
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			status_code INTEGER NOT NULL DEFAULT 0,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			attempts INTEGER NOT NULL DEFAULT 0,
			bytes_out INTEGER NOT NULL DEFAULT 0,
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
		if _, err := db.Exec(idx); err != nil {
			slog.Warn("failed to create index", "error", err)
		}
	}

	store := &SQLiteStore{
		db:            db,
		retentionDays: retentionDays,
		stopCleanup:   make(chan struct{}),
	}

	if retentionDays > 0 {
		go RunCleanupLoop(store.stopCleanup, store.cleanup)
	}

	return store, nil
}

// WriteBatch inserts entries in chunks that fit the parameter limit.
// Entries whose ID already exists are skipped.
func (s *SQLiteStore) WriteBatch(ctx context.Context, entries []*Entry) error {
	if len(entries) == 0 {
		return nil
	}

	rowPlaceholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", columnsPerEntry), ", ") + ")"

	for i := 0; i < len(entries); i += maxEntriesPerBatch {
		end := min(i+maxEntriesPerBatch, len(entries))
		chunk := entries[i:end]

		placeholders := make([]string, len(chunk))
		values := make([]interface{}, 0, len(chunk)*columnsPerEntry)

		for j, e := range chunk {
			placeholders[j] = rowPlaceholder
			values = append(values,
				e.ID,
				e.RequestID,
				e.Timestamp.UTC().Format(time.RFC3339Nano),
				e.ClientIP,
				e.Method,
				e.Path,
				e.Host,
				e.Model,
				e.StatusCode,
				e.DurationNs,
				e.Attempts,
				e.BytesOut,
				e.PromptTokens,
				e.CompletionTokens,
				e.ErrorType,
				e.ErrorMessage,
			)
		}

		query := `INSERT OR IGNORE INTO ` + tableName + ` (` + insertColumns + `) VALUES ` +
			strings.Join(placeholders, ",")

		if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
			return fmt.Errorf("failed to insert request log batch %d: %w", i/maxEntriesPerBatch, err)
		}
	}

	return nil
}

// Flush is a no-op; writes are synchronous.
func (s *SQLiteStore) Flush(_ context.Context) error {
	return nil
}

// Close stops the cleanup goroutine. The database itself belongs to the
// storage layer.
func (s *SQLiteStore) Close() error {
	if s.retentionDays > 0 && s.stopCleanup != nil {
		s.closeOnce.Do(func() {
			close(s.stopCleanup)
		})
	}
	return nil
}

func (s *SQLiteStore) cleanup() {
	if s.retentionDays <= 0 {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UTC().Format(time.RFC3339Nano)

	result, err := s.db.Exec("DELETE FROM "+tableName+" WHERE timestamp < ?", cutoff)
	if err != nil {
		slog.Error("failed to cleanup old request log entries", "error", err)
		return
	}

	if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected > 0 {
		slog.Info("cleaned up old request log entries", "deleted", rowsAffected)
	}
}
