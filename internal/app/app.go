// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the swarm router.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/labstack/gommon/bytes"

	"ollamaswarm/config"
	"ollamaswarm/internal/admin"
	"ollamaswarm/internal/hosts"
	"ollamaswarm/internal/httpclient"
	"ollamaswarm/internal/ollama"
	"ollamaswarm/internal/proxy"
	"ollamaswarm/internal/requestlog"
	"ollamaswarm/internal/server"
	"ollamaswarm/internal/version"
)

// App represents the main application with all its dependencies.
type App struct {
	config     *config.Config
	hosts      *hosts.InitResult
	requestLog *requestlog.Result
	server     *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app config is required")
	}

	app := &App{config: cfg}

	clientCfg := httpclient.FromConfig(cfg.HTTP)
	httpClient := httpclient.NewHTTPClient(&clientCfg)
	backend := ollama.New(httpClient)

	hostResult, err := hosts.Init(ctx, cfg, backend)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize host registry: %w", err)
	}
	app.hosts = hostResult

	logResult, err := requestlog.New(ctx, cfg)
	if err != nil {
		if closeErr := app.hosts.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize request log: %w (also: hosts close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize request log: %w", err)
	}
	app.requestLog = logResult

	app.logStartupInfo()

	registry := hostResult.Registry

	aggregator := admin.NewAggregator(registry, backend, admin.AggregatorConfig{
		MaxConcurrency:    cfg.Admin.MaxConcurrency,
		ListModelsTimeout: cfg.Admin.ListModelsTimeout,
		PullTimeout:       cfg.Admin.PullTimeout,
	})
	adminOpts := []admin.Option{admin.WithVersion(version.Version)}
	if logResult.Reader != nil {
		adminOpts = append(adminOpts, admin.WithRequestLog(logResult.Reader))
	}
	adminHandler := admin.NewHandler(aggregator, registry, adminOpts...)

	proxyCfg := proxy.Config{
		Timeout:     cfg.Proxy.Timeout,
		PullTimeout: cfg.Proxy.PullTimeout,
		Failover:    cfg.Proxy.Failover,
	}
	if cfg.Server.BodySizeLimit != "" {
		limit, err := bytes.Parse(cfg.Server.BodySizeLimit)
		if err != nil {
			closeErr := errors.Join(app.requestLog.Close(), app.hosts.Close())
			return nil, errors.Join(fmt.Errorf("invalid server.body_size_limit %q: %w", cfg.Server.BodySizeLimit, err), closeErr)
		}
		proxyCfg.MaxBodyBytes = limit
	}
	forwarder := proxy.New(registry, httpClient, proxyCfg, logResult.Logger)

	if cfg.Server.SwaggerEnabled {
		slog.Info("swagger UI enabled", "path", "/swagger/index.html")
	}

	app.server = server.New(server.Deps{
		Registry: registry,
		Admin:    adminHandler,
		Proxy:    forwarder.Handle,
	}, &server.Config{
		MasterKey:       cfg.Server.MasterKey,
		BodySizeLimit:   cfg.Server.BodySizeLimit,
		ProxyPrefixes:   cfg.Proxy.Prefixes,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		SwaggerEnabled:  cfg.Server.SwaggerEnabled,
	})

	return app, nil
}

// Registry returns the host registry.
func (a *App) Registry() *hosts.Registry {
	if a.hosts == nil {
		return nil
	}
	return a.hosts.Registry
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	slog.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first (honoring ctx), then the prober and snapshot cache,
// then the request log, which flushes pending entries.
//
// Shutdown is idempotent; calls after the first are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	slog.Info("shutting down application...")

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	if a.hosts != nil {
		if err := a.hosts.Close(); err != nil {
			slog.Error("host registry close error", "error", err)
			errs = append(errs, fmt.Errorf("hosts close: %w", err))
		}
	}

	if a.requestLog != nil {
		if err := a.requestLog.Close(); err != nil {
			slog.Error("request log close error", "error", err)
			errs = append(errs, fmt.Errorf("request log close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	slog.Info("application shutdown complete")
	return nil
}

func (a *App) logStartupInfo() {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		slog.Warn("SECURITY WARNING: OLLAMASWARM_MASTER_KEY not set - management routes are unauthenticated",
			"security_risk", "anyone can register hosts or pull models",
			"recommendation", "set OLLAMASWARM_MASTER_KEY to protect /register, /unregister, /hosts and /admin")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		slog.Info("prometheus metrics disabled")
	}

	slog.Info("proxy configured",
		"prefixes", cfg.Proxy.Prefixes,
		"timeout", cfg.Proxy.Timeout,
		"pull_timeout", cfg.Proxy.PullTimeout,
		"failover", cfg.Proxy.Failover,
	)

	if cfg.RequestLog.Enabled {
		slog.Info("request log enabled",
			"storage_type", cfg.Storage.Type,
			"buffer_size", cfg.RequestLog.BufferSize,
			"flush_interval", cfg.RequestLog.FlushInterval,
			"retention_days", cfg.RequestLog.RetentionDays,
		)
	} else {
		slog.Info("request log disabled")
	}
}
