// Package httpclient builds the shared outbound client used to reach backends.
package httpclient

import (
	"net"
	"net/http"
	"time"

	"ollamaswarm/config"
)

// ClientConfig holds configuration options for creating HTTP clients
type ClientConfig struct {
	// MaxIdleConns controls the maximum number of idle (keep-alive) connections across all hosts
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle (keep-alive) connections to keep per-host
	MaxIdleConnsPerHost int

	IdleConnTimeout time.Duration

	// DialTimeout bounds TCP connect. A backend that cannot be dialled within
	// it is reported as unreachable rather than timed out.
	DialTimeout time.Duration

	KeepAlive time.Duration

	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout of 0 leaves header waits to the request context,
	// which matters for model loads that can take minutes before the first byte.
	ResponseHeaderTimeout time.Duration
}

// DefaultConfig returns a ClientConfig suited to a handful of long-lived backends.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		KeepAlive:           30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// FromConfig overlays the http section of the application config on the defaults.
func FromConfig(cfg config.HTTPConfig) ClientConfig {
	cc := DefaultConfig()
	if cfg.DialTimeout > 0 {
		cc.DialTimeout = cfg.DialTimeout
	}
	if cfg.MaxIdleConnsPerHost > 0 {
		cc.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
	}
	cc.ResponseHeaderTimeout = cfg.ResponseHeaderTimeout
	return cc
}

// NewHTTPClient creates a new HTTP client with the provided configuration.
// If config is nil, DefaultConfig() is used. The client carries no overall
// timeout: callers bound each request with its context so that streamed
// responses are not cut off mid-body.
func NewHTTPClient(config *ClientConfig) *http.Client {
	if config == nil {
		cfg := DefaultConfig()
		config = &cfg
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.DialTimeout,
			KeepAlive: config.KeepAlive,
		}).DialContext,
		MaxIdleConns:          config.MaxIdleConns,
		MaxIdleConnsPerHost:   config.MaxIdleConnsPerHost,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   config.TLSHandshakeTimeout,
		ResponseHeaderTimeout: config.ResponseHeaderTimeout,
		// Ollama speaks plain HTTP/1.1; compressed bodies are passed through untouched.
		DisableCompression:    true,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		// Redirects from a backend are relayed to the caller, not followed.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
