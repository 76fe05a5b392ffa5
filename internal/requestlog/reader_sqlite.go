package requestlog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

const selectColumns = `id, request_id, timestamp, client_ip, method, path, host, model,
	status_code, duration_ns, attempts, bytes_out, prompt_tokens, completion_tokens,
	error_type, error_message`

// SQLiteReader implements Reader for SQLite databases.
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader creates a new SQLite request log reader.
func NewSQLiteReader(db *sql.DB) (*SQLiteReader, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLiteReader{db: db}, nil
}

// List returns a page of entries, newest first.
func (r *SQLiteReader) List(ctx context.Context, params QueryParams) (*LogPage, error) {
	limit, offset := clampLimitOffset(params.Limit, params.Offset)

	var conditions []string
	var args []interface{}
	if params.Host != "" {
		conditions = append(conditions, "host = ?")
		args = append(args, params.Host)
	}
	if params.Model != "" {
		conditions = append(conditions, "model LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLikeWildcards(params.Model)+"%")
	}
	where := buildWhereClause(conditions)

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+tableName+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count request log entries: %w", err)
	}

	query := "SELECT " + selectColumns + " FROM " + tableName + where + " ORDER BY timestamp DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(append([]interface{}(nil), args...), limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query request log: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.RequestID, &ts, &e.ClientIP, &e.Method, &e.Path, &e.Host, &e.Model,
			&e.StatusCode, &e.DurationNs, &e.Attempts, &e.BytesOut, &e.PromptTokens, &e.CompletionTokens,
			&e.ErrorType, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan request log row: %w", err)
		}
		e.Timestamp = parseSQLTimestamp(ts, e.ID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request log rows: %w", err)
	}

	return &LogPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}

func parseSQLTimestamp(ts, id string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC()
		}
	}
	slog.Warn("failed to parse request log timestamp", "id", id, "timestamp", ts)
	return time.Time{}
}
