// Package proxy forwards Ollama API calls to one registered backend,
// failing over to the next candidate when a host cannot serve them.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"ollamaswarm/internal/core"
	"ollamaswarm/internal/observability"
	"ollamaswarm/internal/requestlog"
)

// HeaderUpstreamHost names the backend that served a proxied response.
const HeaderUpstreamHost = "X-Swarm-Upstream"

// statusClientClosedRequest is recorded when the caller goes away first.
const statusClientClosedRequest = 499

const copyBufferSize = 32 * 1024

// HostPicker is the part of the registry the proxy needs.
type HostPicker interface {
	Candidates() []string
	BeginAttempt(url string)
	RecordSuccess(url string)
	RecordFailure(url string, err error)
}

// Config controls forwarding.
type Config struct {
	// Timeout is an idle limit: it bounds the wait for response headers and
	// every gap between body chunks, never the length of a stream.
	Timeout time.Duration
	// PullTimeout replaces Timeout for model downloads.
	PullTimeout time.Duration
	// Failover retries on the next host after a transport error or 5xx.
	Failover bool
	// MaxBodyBytes caps the buffered request body. Zero means no cap.
	MaxBodyBytes int64
}

// Proxy is an http.Handler that relays requests to the swarm.
type Proxy struct {
	hosts  HostPicker
	client *http.Client
	cfg    Config
	log    requestlog.LoggerInterface
}

// New creates a Proxy. A nil logger disables request logging.
func New(hosts HostPicker, client *http.Client, cfg Config, log requestlog.LoggerInterface) *Proxy {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = requestlog.NoopLogger{}
	}
	return &Proxy{hosts: hosts, client: client, cfg: cfg, log: log}
}

// Handle adapts the proxy to echo.
func (p *Proxy) Handle(c echo.Context) error {
	p.serve(c.Response(), c.Request(), c.RealIP())
	return nil
}

// ServeHTTP implements http.Handler.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.serve(w, r, clientIP(r))
}

type attempt struct {
	entry *requestlog.Entry
	tail  requestlog.TailBuffer
}

func (p *Proxy) serve(w http.ResponseWriter, r *http.Request, ip string) {
	start := time.Now()
	ctx := r.Context()

	requestID := core.GetRequestID(ctx)
	if requestID == "" {
		requestID = r.Header.Get("X-Request-ID")
	}

	a := &attempt{entry: &requestlog.Entry{
		ID:        uuid.NewString(),
		RequestID: requestID,
		Timestamp: start.UTC(),
		ClientIP:  ip,
		Method:    r.Method,
		Path:      r.URL.Path,
	}}
	defer func() {
		elapsed := time.Since(start)
		a.entry.DurationNs = elapsed.Nanoseconds()
		observability.ObserveProxy(a.entry.Host, a.entry.StatusCode, elapsed)
		p.log.Write(a.entry)

		level := slog.LevelInfo
		if a.entry.StatusCode >= http.StatusInternalServerError || a.entry.StatusCode == 0 {
			level = slog.LevelWarn
		}
		slog.Log(ctx, level, "proxied request",
			"host", a.entry.Host,
			"method", a.entry.Method,
			"path", a.entry.Path,
			"status", a.entry.StatusCode,
			"attempts", a.entry.Attempts,
			"duration", elapsed,
			"request_id", requestID,
		)
	}()

	body, err := p.readBody(r)
	if err != nil {
		p.fail(w, a, core.NewInvalidRequestError("failed to read request body", err))
		return
	}
	a.entry.Model = requestlog.ExtractModel(body)

	candidates := p.hosts.Candidates()
	if len(candidates) == 0 {
		p.fail(w, a, core.NewNoHostsAvailableError(""))
		return
	}
	if !p.cfg.Failover {
		candidates = candidates[:1]
	}

	var lastErr *core.GatewayError
	for i, host := range candidates {
		a.entry.Attempts = i + 1
		last := i == len(candidates)-1

		p.hosts.BeginAttempt(host)
		attemptCtx, idle, cancel := p.attemptContext(ctx, r.URL.Path)
		resp, err := p.send(attemptCtx, host, r, body, requestID)
		if err != nil {
			cancel()
			if ctx.Err() != nil {
				a.entry.Host = host
				a.entry.StatusCode = statusClientClosedRequest
				a.entry.ErrorMessage = ctx.Err().Error()
				return
			}
			lastErr = idle.classify(host, err)
			p.hosts.RecordFailure(host, lastErr)
			if !last {
				p.failover(r, host, failoverReason(lastErr), lastErr)
			}
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			upstreamErr := core.ParseUpstreamError(host, resp.StatusCode, nil)
			p.hosts.RecordFailure(host, upstreamErr)
			if !last {
				_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, copyBufferSize))
				_ = resp.Body.Close()
				cancel()
				p.failover(r, host, "status_5xx", upstreamErr)
				continue
			}
		} else {
			p.hosts.RecordSuccess(host)
		}

		p.relay(w, resp, host, a, idle)
		_ = resp.Body.Close()
		cancel()
		return
	}

	a.entry.Host = lastErr.Host
	p.fail(w, a, lastErr)
}

func (p *Proxy) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	var reader io.Reader = r.Body
	if p.cfg.MaxBodyBytes > 0 {
		reader = io.LimitReader(r.Body, p.cfg.MaxBodyBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if p.cfg.MaxBodyBytes > 0 && int64(len(body)) > p.cfg.MaxBodyBytes {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

func (p *Proxy) attemptContext(ctx context.Context, path string) (context.Context, *idleTimer, context.CancelFunc) {
	timeout := p.cfg.Timeout
	if strings.Contains(path, "pull") && p.cfg.PullTimeout > 0 {
		timeout = p.cfg.PullTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	idle := &idleTimer{timeout: timeout}
	if timeout > 0 {
		idle.timer = time.AfterFunc(timeout, func() {
			idle.expired.Store(true)
			cancel()
		})
	}
	return ctx, idle, func() {
		idle.stop()
		cancel()
	}
}

// idleTimer cancels an attempt once the backend has been silent for timeout.
type idleTimer struct {
	timeout time.Duration
	timer   *time.Timer
	expired atomic.Bool
}

// touch restarts the countdown after progress from the backend.
func (t *idleTimer) touch() {
	if t.timer != nil && !t.expired.Load() {
		t.timer.Reset(t.timeout)
	}
}

func (t *idleTimer) stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

// classify maps an attempt error, reporting a timeout when the idle limit
// was what cancelled it.
func (t *idleTimer) classify(host string, err error) *core.GatewayError {
	if t.expired.Load() {
		return core.NewUpstreamTimeoutError(host, err)
	}
	return core.ClassifyTransportError(host, err)
}

func (p *Proxy) send(ctx context.Context, host string, r *http.Request, body []byte, requestID string) (*http.Response, error) {
	target := host + r.URL.EscapedPath()
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.ContentLength = int64(len(body))
	if len(body) == 0 {
		req.Body = http.NoBody
	}

	req.Header = r.Header.Clone()
	removeHopHeaders(req.Header)
	req.Header.Del("Content-Length")
	if requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}
	if ip := clientIP(r); ip != "" {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		req.Header.Set("X-Forwarded-For", ip)
	}
	if r.Host != "" {
		req.Header.Set("X-Forwarded-Host", r.Host)
	}
	proto := "http"
	if r.TLS != nil {
		proto = "https"
	}
	req.Header.Set("X-Forwarded-Proto", proto)

	return p.client.Do(req)
}

// relay copies resp to w, flushing after every chunk so that streamed
// tokens reach the caller as they are produced.
func (p *Proxy) relay(w http.ResponseWriter, resp *http.Response, host string, a *attempt, idle *idleTimer) {
	header := w.Header()
	for k, vv := range resp.Header {
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	removeHopHeaders(header)
	header.Set(HeaderUpstreamHost, host)
	w.WriteHeader(resp.StatusCode)

	a.entry.Host = host
	a.entry.StatusCode = resp.StatusCode

	idle.touch()
	rc := http.NewResponseController(w)
	buf := make([]byte, copyBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			idle.touch()
			_, _ = a.tail.Write(buf[:n])
			if _, err := w.Write(buf[:n]); err != nil {
				a.entry.ErrorMessage = "client write failed: " + err.Error()
				break
			}
			_ = rc.Flush()
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			gwErr := idle.classify(host, readErr)
			a.entry.ErrorType = string(gwErr.Type)
			a.entry.ErrorMessage = "response interrupted: " + readErr.Error()
			slog.Warn("upstream response interrupted", "host", host, "path", a.entry.Path, "error", readErr)
			break
		}
	}

	a.entry.BytesOut = a.tail.Total()
	if resp.StatusCode >= http.StatusBadRequest && a.entry.ErrorType == "" {
		a.entry.ErrorType = string(core.ErrorTypeUpstream)
		if a.tail.Complete() {
			a.entry.ErrorMessage = core.ParseUpstreamError(host, resp.StatusCode, a.tail.Bytes()).Message
		}
	}
	if tokens, ok := requestlog.ExtractTokens(a.tail.Bytes(), resp.Header.Get("Content-Encoding"), a.tail.Complete()); ok {
		a.entry.PromptTokens = tokens.Prompt
		a.entry.CompletionTokens = tokens.Completion
	}
}

func (p *Proxy) failover(r *http.Request, host, reason string, err error) {
	observability.ObserveFailover(host, reason)
	slog.Warn("failing over to next host",
		"host", host,
		"reason", reason,
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
}

func (p *Proxy) fail(w http.ResponseWriter, a *attempt, gwErr *core.GatewayError) {
	status := gwErr.HTTPStatusCode()
	a.entry.StatusCode = status
	a.entry.ErrorType = string(gwErr.Type)
	a.entry.ErrorMessage = gwErr.Message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(gwErr.ToJSON())
}

func failoverReason(err *core.GatewayError) string {
	if err.Type == core.ErrorTypeUpstreamTimeout {
		return "timeout"
	}
	return "unreachable"
}

var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
