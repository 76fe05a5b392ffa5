package admin

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"ollamaswarm/internal/core"
	"ollamaswarm/internal/requestlog"
)

// HostStats reports registry size for the overview.
type HostStats interface {
	Len() int
	HealthyCount() int
}

// Handler serves the /admin endpoints.
type Handler struct {
	aggregator *Aggregator
	hosts      HostStats
	reader     requestlog.Reader
	version    string
	startedAt  time.Time
	now        func() time.Time
}

// Option customises a Handler.
type Option func(*Handler)

// WithRequestLog exposes stored request entries through GET /admin/requests.
func WithRequestLog(reader requestlog.Reader) Option {
	return func(h *Handler) { h.reader = reader }
}

// WithVersion sets the version reported by the overview.
func WithVersion(v string) Option {
	return func(h *Handler) { h.version = v }
}

// NewHandler creates the admin API handler.
func NewHandler(aggregator *Aggregator, hosts HostStats, opts ...Option) *Handler {
	h := &Handler{
		aggregator: aggregator,
		hosts:      hosts,
		startedAt:  time.Now(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// handleError converts errors to the JSON error envelope.
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

// ListModels handles GET /admin/list_models
//
// @Summary      List models on every host
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  core.AggregateResponse
// @Failure      401  {object}  core.GatewayError
// @Router       /admin/list_models [get]
func (h *Handler) ListModels(c echo.Context) error {
	results := h.aggregator.ListModels(c.Request().Context())
	return c.JSON(http.StatusOK, core.AggregateResponse{Results: results})
}

// Pull handles POST /admin/pull
//
// @Summary      Pull a model on every host
// @Tags         admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body      core.PullRequest  true  "Model to pull"
// @Success      200      {object}  core.AggregateResponse
// @Failure      400      {object}  core.GatewayError
// @Failure      401      {object}  core.GatewayError
// @Router       /admin/pull [post]
func (h *Handler) Pull(c echo.Context) error {
	var req core.PullRequest
	if err := c.Bind(&req); err != nil {
		return handleError(c, core.NewInvalidRequestError("invalid request body: "+err.Error(), err))
	}

	results, err := h.aggregator.Pull(c.Request().Context(), req.Model)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, core.AggregateResponse{Results: results})
}

// Requests handles GET /admin/requests
//
// @Summary      List recent proxied requests
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Param        limit   query     int     false  "Page size (default 50, max 200)"
// @Param        offset  query     int     false  "Offset"
// @Param        host    query     string  false  "Exact host URL"
// @Param        model   query     string  false  "Model substring"
// @Success      200  {object}  requestlog.LogPage
// @Failure      400  {object}  core.GatewayError
// @Failure      401  {object}  core.GatewayError
// @Router       /admin/requests [get]
func (h *Handler) Requests(c echo.Context) error {
	params := requestlog.QueryParams{
		Host:  c.QueryParam("host"),
		Model: c.QueryParam("model"),
	}
	for name, dst := range map[string]*int{"limit": &params.Limit, "offset": &params.Offset} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return handleError(c, core.NewInvalidRequestError("invalid "+name+": must be an integer", err))
		}
		*dst = n
	}

	if h.reader == nil {
		return c.JSON(http.StatusOK, requestlog.LogPage{Entries: []requestlog.Entry{}, Limit: params.Limit, Offset: params.Offset})
	}

	page, err := h.reader.List(c.Request().Context(), params)
	if err != nil {
		return handleError(c, err)
	}
	return c.JSON(http.StatusOK, page)
}

// Overview handles GET /admin/overview
//
// @Summary      Router overview
// @Tags         admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  core.OverviewResponse
// @Failure      401  {object}  core.GatewayError
// @Router       /admin/overview [get]
func (h *Handler) Overview(c echo.Context) error {
	return c.JSON(http.StatusOK, core.OverviewResponse{
		Version:       h.version,
		UptimeSeconds: int64(h.now().Sub(h.startedAt).Seconds()),
		TotalHosts:    h.hosts.Len(),
		HealthyHosts:  h.hosts.HealthyCount(),
		RequestLog:    h.reader != nil,
	})
}
