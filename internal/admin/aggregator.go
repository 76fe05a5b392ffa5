// Package admin fans management operations out to every registered host
// and serves the admin REST API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"ollamaswarm/internal/core"
	"ollamaswarm/internal/observability"
)

// HostSource is the part of the registry the aggregator needs.
type HostSource interface {
	URLs() []string
	RecordSuccess(url string)
	RecordFailure(url string, err error)
}

// Backend performs the per-host calls.
type Backend interface {
	ListModels(ctx context.Context, baseURL string) (json.RawMessage, error)
	Pull(ctx context.Context, baseURL, model string) (json.RawMessage, error)
}

// AggregatorConfig bounds the fan-out.
type AggregatorConfig struct {
	MaxConcurrency    int
	ListModelsTimeout time.Duration
	PullTimeout       time.Duration
}

// DefaultAggregatorConfig returns the admin section defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		MaxConcurrency:    8,
		ListModelsTimeout: 15 * time.Second,
		PullTimeout:       600 * time.Second,
	}
}

// Aggregator runs an operation against every host concurrently. A failing
// host produces an error result; it never aborts the others.
type Aggregator struct {
	hosts   HostSource
	backend Backend
	cfg     AggregatorConfig
}

// NewAggregator creates an aggregator. Zero config fields take defaults.
func NewAggregator(hosts HostSource, backend Backend, cfg AggregatorConfig) *Aggregator {
	def := DefaultAggregatorConfig()
	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.ListModelsTimeout <= 0 {
		cfg.ListModelsTimeout = def.ListModelsTimeout
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = def.PullTimeout
	}
	return &Aggregator{hosts: hosts, backend: backend, cfg: cfg}
}

// ListModels asks every host for its installed models.
// Zero registered hosts yields an empty map.
func (a *Aggregator) ListModels(ctx context.Context) map[string]core.AggregatedResult {
	return a.fanOut(ctx, "list_models", a.cfg.ListModelsTimeout, func(ctx context.Context, url string) (json.RawMessage, error) {
		return a.backend.ListModels(ctx, url)
	})
}

// Pull asks every host to download model. Only an invalid model name fails
// the call as a whole; per-host problems are reported in the results.
func (a *Aggregator) Pull(ctx context.Context, model string) (map[string]core.AggregatedResult, error) {
	model = strings.TrimSpace(model)
	if err := ValidateModelName(model); err != nil {
		return nil, err
	}
	return a.fanOut(ctx, "pull", a.cfg.PullTimeout, func(ctx context.Context, url string) (json.RawMessage, error) {
		return a.backend.Pull(ctx, url, model)
	}), nil
}

type hostCall func(ctx context.Context, url string) (json.RawMessage, error)

func (a *Aggregator) fanOut(ctx context.Context, op string, timeout time.Duration, call hostCall) map[string]core.AggregatedResult {
	urls := a.hosts.URLs()
	results := make([]core.AggregatedResult, len(urls))

	// Plain Group, not WithContext: one host failing must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(a.cfg.MaxConcurrency)
	for i, url := range urls {
		g.Go(func() error {
			results[i] = a.callHost(ctx, op, timeout, url, call)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]core.AggregatedResult, len(results))
	for _, r := range results {
		out[r.URL] = r
	}
	return out
}

func (a *Aggregator) callHost(parent context.Context, op string, timeout time.Duration, url string, call hostCall) core.AggregatedResult {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	payload, err := call(ctx, url)
	elapsed := time.Since(start)

	result := core.AggregatedResult{
		URL:        url,
		DurationMs: elapsed.Milliseconds(),
	}

	if err != nil && parent.Err() != nil {
		// The caller went away; the host did nothing wrong.
		result.Status = core.ResultCancelled
		result.Error = parent.Err().Error()
		slog.Debug("admin call cancelled", "operation", op, "host", url, "duration", elapsed)
		return result
	}

	if err != nil {
		result.Status = core.ResultError
		result.Error = errorDetail(err)
		if isHostFault(err) {
			a.hosts.RecordFailure(url, err)
		}
		observability.ObserveAdminCall(op, false)
		slog.Warn("admin call failed", "operation", op, "host", url, "duration", elapsed, "error", err)
		return result
	}

	a.hosts.RecordSuccess(url)
	observability.ObserveAdminCall(op, true)
	result.Status = core.ResultSuccess
	result.Payload = payload
	slog.Debug("admin call succeeded", "operation", op, "host", url, "duration", elapsed)
	return result
}

func errorDetail(err error) string {
	var gwErr *core.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	return err.Error()
}

// isHostFault reports whether err says something about the host's health,
// as opposed to the request (an unknown model, say).
func isHostFault(err error) bool {
	var gwErr *core.GatewayError
	if !errors.As(err, &gwErr) {
		return true
	}
	switch gwErr.Type {
	case core.ErrorTypeUpstreamUnreachable, core.ErrorTypeUpstreamTimeout:
		return true
	case core.ErrorTypeUpstream:
		return gwErr.StatusCode >= 500
	}
	return false
}

// modelNamePattern accepts Ollama references such as "llama3",
// "llama3.1:8b-instruct-q4_K_M" and "registry.example.com/team/model:tag".
var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-/:@]*$`)

const maxModelNameLength = 256

// ValidateModelName rejects empty and malformed model references.
func ValidateModelName(model string) error {
	if model == "" || len(model) > maxModelNameLength || !modelNamePattern.MatchString(model) {
		return core.NewInvalidModelNameError(model)
	}
	return nil
}
