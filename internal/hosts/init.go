package hosts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ollamaswarm/config"
	"ollamaswarm/internal/cache"
)

// InitResult holds the registry and the resources started with it.
type InitResult struct {
	Registry *Registry
	Prober   *Prober
	Cache    cache.Cache

	stopProber func()
}

// Close stops the prober, waits for pending snapshot writes and releases
// the cache. Safe to call multiple times.
func (r *InitResult) Close() error {
	if r.stopProber != nil {
		r.stopProber()
		r.stopProber = nil
	}
	if r.Registry != nil {
		r.Registry.Flush()
	}
	if r.Cache != nil {
		err := r.Cache.Close()
		r.Cache = nil
		return err
	}
	return nil
}

// Init builds the registry from configuration:
//  1. open the snapshot cache (if configured)
//  2. restore the persisted host list
//  3. register the seed hosts
//  4. start the background prober (if health.interval > 0)
//
// The caller must call InitResult.Close() during shutdown.
func Init(ctx context.Context, cfg *config.Config, checker VersionChecker) (*InitResult, error) {
	snapshotCache, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	registry := NewRegistry(Options{
		FailureThreshold: cfg.Health.FailureThreshold,
		SuccessThreshold: 1,
		Cooldown:         cfg.Health.Cooldown,
		Cache:            snapshotCache,
	})

	result := &InitResult{Registry: registry, Cache: snapshotCache}

	restored, err := registry.LoadFromCache(ctx)
	if err != nil {
		slog.Warn("starting without persisted hosts", "error", err)
	} else if restored > 0 {
		slog.Info("restored hosts from cache", "count", restored)
	}

	var seedErrs []error
	for _, raw := range cfg.Hosts.Seed {
		if _, _, err := registry.Register(ctx, raw); err != nil {
			seedErrs = append(seedErrs, err)
		}
	}
	if err := errors.Join(seedErrs...); err != nil {
		_ = result.Close()
		return nil, fmt.Errorf("invalid seed host: %w", err)
	}

	if checker != nil {
		result.Prober = NewProber(registry, checker, cfg.Health.Timeout, cfg.Admin.MaxConcurrency)
		if cfg.Health.Interval > 0 {
			result.stopProber = result.Prober.Start(cfg.Health.Interval)
			slog.Info("health prober started", "interval", cfg.Health.Interval)
		}
	}

	slog.Info("host registry configured", "hosts", registry.Len())
	return result, nil
}
