// Package server wires the HTTP routes of the swarm router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/labstack/echo/v4"

	"ollamaswarm/internal/core"
)

// HostRegistry is the registry as seen by the management routes.
type HostRegistry interface {
	Register(ctx context.Context, rawURL string) (bool, core.HostEntry, error)
	Unregister(ctx context.Context, rawURL string) (bool, error)
	List() []core.HostEntry
}

// Handler holds the registry handlers
type Handler struct {
	registry HostRegistry
}

// NewHandler creates the registry handlers.
func NewHandler(registry HostRegistry) *Handler {
	return &Handler{registry: registry}
}

// Health handles GET /health
//
// @Summary      Liveness probe
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// Hosts handles GET /hosts
//
// @Summary      List registered hosts
// @Tags         hosts
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  core.HostsResponse
// @Success      304
// @Failure      401  {object}  core.GatewayError
// @Router       /hosts [get]
func (h *Handler) Hosts(c echo.Context) error {
	entries := h.registry.List()
	body, err := json.Marshal(core.HostsResponse{
		Hosts:   core.HostURLs(entries),
		Entries: entries,
	})
	if err != nil {
		return handleError(c, err)
	}

	etag := `W/"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	c.Response().Header().Set("ETag", etag)
	c.Response().Header().Set("Cache-Control", "no-cache")
	if etagMatches(c.Request().Header.Get("If-None-Match"), etag) {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, body)
}

// Register handles POST /register
//
// @Summary      Register a host
// @Tags         hosts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      core.HostRequest  true  "Host base URL"
// @Success      200      {object}  core.RegisterResponse
// @Failure      400      {object}  core.GatewayError
// @Failure      401      {object}  core.GatewayError
// @Router       /register [post]
func (h *Handler) Register(c echo.Context) error {
	var req core.HostRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	added, _, err := h.registry.Register(c.Request().Context(), req.URL)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, core.RegisterResponse{
		Status: "registered",
		Added:  added,
		Hosts:  core.HostURLs(h.registry.List()),
	})
}

// Unregister handles POST /unregister
//
// @Summary      Unregister a host
// @Tags         hosts
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      core.HostRequest  true  "Host base URL"
// @Success      200      {object}  core.UnregisterResponse
// @Failure      400      {object}  core.GatewayError
// @Failure      401      {object}  core.GatewayError
// @Router       /unregister [post]
func (h *Handler) Unregister(c echo.Context) error {
	var req core.HostRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	removed, err := h.registry.Unregister(c.Request().Context(), req.URL)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, core.UnregisterResponse{
		Status:  "unregistered",
		Removed: removed,
		Hosts:   core.HostURLs(h.registry.List()),
	})
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag || "W/"+candidate == etag {
			return true
		}
	}
	return false
}

// handleError writes err as the JSON error envelope.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	return c.JSON(http.StatusInternalServerError, map[string]interface{}{
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}

// errorHandler renders errors raised by echo itself (unknown route, body
// limit, method not allowed) in the same envelope as handler errors.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var he *echo.HTTPError
	if !errors.As(err, &he) {
		_ = handleError(c, err)
		return
	}

	msg := http.StatusText(he.Code)
	if m, ok := he.Message.(string); ok && m != "" {
		msg = m
	}

	var gwErr *core.GatewayError
	switch {
	case he.Code == http.StatusNotFound:
		gwErr = core.NewNotFoundError(msg)
	case he.Code >= 500:
		_ = handleError(c, err)
		return
	default:
		gwErr = core.NewInvalidRequestError(msg, err)
		gwErr.StatusCode = he.Code
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(gwErr.HTTPStatusCode())
		return
	}
	_ = c.JSON(gwErr.HTTPStatusCode(), gwErr.ToJSON())
}
