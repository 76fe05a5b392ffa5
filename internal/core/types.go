package core

import (
	"encoding/json"
	"time"
)

// HostEntry describes one registered backend.
type HostEntry struct {
	URL                 string    `json:"url"`
	RegisteredAt        time.Time `json:"registered_at"`
	Healthy             bool      `json:"healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastCheckedAt       time.Time `json:"last_checked_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
	Version             string    `json:"version,omitempty"`
}

// ResultStatus is the outcome of one per-host admin call.
type ResultStatus string

const (
	ResultSuccess   ResultStatus = "success"
	ResultError     ResultStatus = "error"
	ResultCancelled ResultStatus = "cancelled"
)

// AggregatedResult is the outcome of an admin operation on a single host.
type AggregatedResult struct {
	URL        string          `json:"url"`
	Status     ResultStatus    `json:"status"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// OK reports whether the host call succeeded.
func (r AggregatedResult) OK() bool {
	return r.Status == ResultSuccess
}

// HostRequest is the body of POST /register and POST /unregister.
type HostRequest struct {
	URL string `json:"url"`
}

// PullRequest is the body of POST /admin/pull.
type PullRequest struct {
	Model string `json:"model"`
}

// HostsResponse is returned by GET /hosts.
type HostsResponse struct {
	Hosts   []string    `json:"hosts"`
	Entries []HostEntry `json:"entries"`
}

// RegisterResponse is returned by POST /register.
type RegisterResponse struct {
	Status string   `json:"status"`
	Added  bool     `json:"added"`
	Hosts  []string `json:"hosts"`
}

// UnregisterResponse is returned by POST /unregister.
type UnregisterResponse struct {
	Status  string   `json:"status"`
	Removed bool     `json:"removed"`
	Hosts   []string `json:"hosts"`
}

// AggregateResponse wraps the per-host results of an admin fan-out.
type AggregateResponse struct {
	Results map[string]AggregatedResult `json:"results"`
}

// OverviewResponse is returned by GET /admin/overview.
type OverviewResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	TotalHosts    int    `json:"total_hosts"`
	HealthyHosts  int    `json:"healthy_hosts"`
	RequestLog    bool   `json:"request_log_enabled"`
}

// HostURLs extracts the URLs of entries in order.
func HostURLs(entries []HostEntry) []string {
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.URL
	}
	return urls
}
