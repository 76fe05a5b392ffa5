package server

import (
	"context"
	"net/http"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	"ollamaswarm/internal/admin"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Deps are the components the routes are served by.
type Deps struct {
	Registry HostRegistry
	Admin    *admin.Handler
	Proxy    echo.HandlerFunc
}

// Config holds server configuration options
type Config struct {
	MasterKey       string   // protects management routes when set
	BodySizeLimit   string   // echo size string, e.g. "10M"
	ProxyPrefixes   []string // path prefixes forwarded to a backend
	MetricsEnabled  bool
	MetricsEndpoint string // defaults to /metrics
	SwaggerEnabled  bool
}

// DefaultProxyPrefixes are forwarded when Config.ProxyPrefixes is empty.
var DefaultProxyPrefixes = []string{"/api", "/v1"}

// New creates the HTTP server.
func New(deps Deps, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	handler := NewHandler(deps.Registry)

	// Order matters: the request ID must exist before anything logs.
	e.Use(RequestIDMiddleware())
	e.Use(requestLogger())
	e.Use(middleware.Recover())
	if cfg.BodySizeLimit != "" {
		e.Use(middleware.BodyLimit(cfg.BodySizeLimit))
	}

	e.GET("/health", handler.Health)

	if cfg.MetricsEnabled {
		metricsPath := "/metrics"
		if cfg.MetricsEndpoint != "" {
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	if cfg.SwaggerEnabled {
		e.GET("/swagger/*", echoSwagger.WrapHandler)
	}

	// Per-route rather than a group: a root group would install a
	// catch-all that answers 401 for unknown paths.
	auth := AuthMiddleware(cfg.MasterKey)
	e.GET("/hosts", handler.Hosts, auth)
	e.POST("/register", handler.Register, auth)
	e.POST("/unregister", handler.Unregister, auth)
	if deps.Admin != nil {
		e.GET("/admin/list_models", deps.Admin.ListModels, auth)
		e.POST("/admin/pull", deps.Admin.Pull, auth)
		e.GET("/admin/requests", deps.Admin.Requests, auth)
		e.GET("/admin/overview", deps.Admin.Overview, auth)
	}

	if deps.Proxy != nil {
		prefixes := cfg.ProxyPrefixes
		if len(prefixes) == 0 {
			prefixes = DefaultProxyPrefixes
		}
		for _, prefix := range prefixes {
			prefix = "/" + strings.Trim(prefix, "/")
			e.Any(prefix, deps.Proxy)
			e.Any(prefix+"/*", deps.Proxy)
		}
	}

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler so the server can be driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
