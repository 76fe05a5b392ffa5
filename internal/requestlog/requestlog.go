// Package requestlog records proxied requests in the configured database
// and serves them back to the admin API.
package requestlog

import (
	"context"
	"time"
)

// Entry is one proxied request as seen by the router.
type Entry struct {
	ID        string    `json:"id" bson:"_id"`
	RequestID string    `json:"request_id" bson:"request_id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	ClientIP  string    `json:"client_ip,omitempty" bson:"client_ip,omitempty"`
	Method    string    `json:"method" bson:"method"`
	Path      string    `json:"path" bson:"path"`

	// Host is the backend that produced the response. Empty when no host
	// could be reached at all.
	Host       string `json:"host" bson:"host"`
	Model      string `json:"model,omitempty" bson:"model,omitempty"`
	StatusCode int    `json:"status_code" bson:"status_code"`
	DurationNs int64  `json:"duration_ns" bson:"duration_ns"`
	Attempts   int    `json:"attempts" bson:"attempts"`
	BytesOut   int64  `json:"bytes_out" bson:"bytes_out"`

	PromptTokens     int `json:"prompt_tokens,omitempty" bson:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty" bson:"completion_tokens,omitempty"`

	ErrorType    string `json:"error_type,omitempty" bson:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty" bson:"error_message,omitempty"`
}

// Store persists batches of entries.
type Store interface {
	WriteBatch(ctx context.Context, entries []*Entry) error
	Flush(ctx context.Context) error
	Close() error
}

// Config holds request log settings.
type Config struct {
	Enabled       bool
	BufferSize    int
	FlushInterval time.Duration
	RetentionDays int
}

// QueryParams filters a listing. Empty strings match everything.
type QueryParams struct {
	Host   string
	Model  string
	Limit  int
	Offset int
}

// LogPage is one page of a listing, newest first.
type LogPage struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Reader lists stored entries.
type Reader interface {
	List(ctx context.Context, params QueryParams) (*LogPage, error)
}
