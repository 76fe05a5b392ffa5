package requestlog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgreSQLReader implements Reader for PostgreSQL databases.
type PostgreSQLReader struct {
	pool *pgxpool.Pool
}

// NewPostgreSQLReader creates a new PostgreSQL request log reader.
func NewPostgreSQLReader(pool *pgxpool.Pool) (*PostgreSQLReader, error) {
	if pool == nil {
		return nil, fmt.Errorf("connection pool is required")
	}
	return &PostgreSQLReader{pool: pool}, nil
}

// List returns a page of entries, newest first.
func (r *PostgreSQLReader) List(ctx context.Context, params QueryParams) (*LogPage, error) {
	limit, offset := clampLimitOffset(params.Limit, params.Offset)

	var conditions []string
	var args []interface{}
	argIdx := 1
	if params.Host != "" {
		conditions = append(conditions, fmt.Sprintf("host = $%d", argIdx))
		args = append(args, params.Host)
		argIdx++
	}
	if params.Model != "" {
		conditions = append(conditions, fmt.Sprintf("model ILIKE $%d ESCAPE '\\'", argIdx))
		args = append(args, "%"+escapeLikeWildcards(params.Model)+"%")
		argIdx++
	}
	where := buildWhereClause(conditions)

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+tableName+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count request log entries: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d",
		selectColumns, tableName, where, argIdx, argIdx+1)
	rows, err := r.pool.Query(ctx, query, append(append([]interface{}(nil), args...), limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query request log: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.ClientIP, &e.Method, &e.Path, &e.Host, &e.Model,
			&e.StatusCode, &e.DurationNs, &e.Attempts, &e.BytesOut, &e.PromptTokens, &e.CompletionTokens,
			&e.ErrorType, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("failed to scan request log row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating request log rows: %w", err)
	}

	return &LogPage{Entries: entries, Total: total, Limit: limit, Offset: offset}, nil
}
