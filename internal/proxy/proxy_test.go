package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ollamaswarm/internal/core"
	"ollamaswarm/internal/hosts"
	"ollamaswarm/internal/requestlog"
)

type captureLogger struct {
	mu      sync.Mutex
	entries []*requestlog.Entry
}

func (l *captureLogger) Write(e *requestlog.Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}
func (l *captureLogger) Config() requestlog.Config { return requestlog.Config{Enabled: true} }
func (l *captureLogger) Close() error              { return nil }

func (l *captureLogger) last(t *testing.T) *requestlog.Entry {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	require.NotEmpty(t, l.entries)
	return l.entries[len(l.entries)-1]
}

func newRegistry(t *testing.T, urls ...string) *hosts.Registry {
	t.Helper()
	opts := hosts.DefaultOptions()
	opts.Cooldown = time.Hour
	r := hosts.NewRegistry(opts)
	for _, u := range urls {
		_, _, err := r.Register(context.Background(), u)
		require.NoError(t, err)
	}
	return r
}

func defaultConfig() Config {
	return Config{Timeout: 5 * time.Second, PullTimeout: 10 * time.Second, Failover: true}
}

func backend(name string, hits *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"backend":%q,"path":%q}`, name, r.URL.Path)
	}))
}

func deadURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func doRequest(p *Proxy, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) core.ErrorType {
	t.Helper()
	var body struct {
		Error struct {
			Type core.ErrorType `json:"type"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error.Type
}

func TestProxy_NoHosts(t *testing.T) {
	p := New(newRegistry(t), nil, defaultConfig(), nil)
	rec := doRequest(p, http.MethodGet, "/api/tags", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, core.ErrorTypeNoHosts, errorType(t, rec))
}

func TestProxy_ForwardsPathQueryAndBody(t *testing.T) {
	var gotPath, gotQuery, gotBody, gotReqID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotReqID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	log := &captureLogger{}
	p := New(newRegistry(t, srv.URL), nil, defaultConfig(), log)

	req := httptest.NewRequest(http.MethodPost, "/api/generate?keep_alive=5m", strings.NewReader(`{"model":"llama3","prompt":"hi"}`))
	req = req.WithContext(core.WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, `{"ok":true}`, rec.Body.String())
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Connection"))
	assert.Equal(t, srv.URL, rec.Header().Get(HeaderUpstreamHost))

	assert.Equal(t, "/api/generate", gotPath)
	assert.Equal(t, "keep_alive=5m", gotQuery)
	assert.Equal(t, `{"model":"llama3","prompt":"hi"}`, gotBody)
	assert.Equal(t, "req-1", gotReqID)

	entry := log.last(t)
	assert.Equal(t, srv.URL, entry.Host)
	assert.Equal(t, "llama3", entry.Model)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, int64(len(`{"ok":true}`)), entry.BytesOut)
}

func TestProxy_RoundRobin(t *testing.T) {
	var hitsA, hitsB atomic.Int32
	a := backend("a", &hitsA)
	defer a.Close()
	b := backend("b", &hitsB)
	defer b.Close()

	p := New(newRegistry(t, a.URL, b.URL), nil, defaultConfig(), nil)
	for i := 0; i < 10; i++ {
		rec := doRequest(p, http.MethodGet, "/api/tags", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, int32(5), hitsA.Load())
	assert.Equal(t, int32(5), hitsB.Load())
}

func TestProxy_FailoverOnUnreachable(t *testing.T) {
	var hits atomic.Int32
	good := backend("good", &hits)
	defer good.Close()
	dead := deadURL(t)

	log := &captureLogger{}
	reg := newRegistry(t, dead, good.URL)
	p := New(reg, nil, defaultConfig(), log)

	for i := 0; i < 4; i++ {
		rec := doRequest(p, http.MethodGet, "/api/tags", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"backend":"good"`)
	}
	assert.Equal(t, int32(4), hits.Load())

	var deadEntry core.HostEntry
	for _, e := range reg.List() {
		if e.URL == dead {
			deadEntry = e
		}
	}
	assert.Positive(t, deadEntry.ConsecutiveFailures)
	assert.NotEmpty(t, deadEntry.LastError)
}

func TestProxy_FailoverOn5xx(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"out of memory"}`))
	}))
	defer broken.Close()
	good := backend("good", nil)
	defer good.Close()

	log := &captureLogger{}
	p := New(newRegistry(t, broken.URL, good.URL), nil, defaultConfig(), log)

	rec := doRequest(p, http.MethodPost, "/api/chat", `{"model":"m"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend":"good"`)
	assert.Equal(t, 2, log.last(t).Attempts)
}

func TestProxy_LastHost5xxIsRelayed(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"loading model"}`))
	}))
	defer broken.Close()

	log := &captureLogger{}
	p := New(newRegistry(t, broken.URL), nil, defaultConfig(), log)

	rec := doRequest(p, http.MethodGet, "/api/tags", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, `{"error":"loading model"}`, rec.Body.String())
	assert.Equal(t, "loading model", log.last(t).ErrorMessage)
}

func TestProxy_4xxIsRelayedWithoutFailover(t *testing.T) {
	var hitsB atomic.Int32
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'x' not found"}`))
	}))
	defer a.Close()
	b := backend("b", &hitsB)
	defer b.Close()

	reg := newRegistry(t, a.URL, b.URL)
	p := New(reg, nil, defaultConfig(), nil)

	rec := doRequest(p, http.MethodPost, "/api/generate", `{"model":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, `{"error":"model 'x' not found"}`, rec.Body.String())
	assert.Zero(t, hitsB.Load())
	assert.Equal(t, 2, reg.HealthyCount())
}

func TestProxy_AllUnreachable(t *testing.T) {
	p := New(newRegistry(t, deadURL(t), deadURL(t)), nil, defaultConfig(), nil)
	rec := doRequest(p, http.MethodGet, "/api/tags", "")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, core.ErrorTypeUpstreamUnreachable, errorType(t, rec))
}

func TestProxy_FailoverDisabled(t *testing.T) {
	good := backend("good", nil)
	defer good.Close()

	cfg := defaultConfig()
	cfg.Failover = false
	p := New(newRegistry(t, deadURL(t), good.URL), nil, cfg, nil)

	rec := doRequest(p, http.MethodGet, "/api/tags", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestProxy_Timeout(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	cfg := defaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	p := New(newRegistry(t, slow.URL), nil, cfg, nil)

	rec := doRequest(p, http.MethodPost, "/api/generate", `{"model":"m"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, core.ErrorTypeUpstreamTimeout, errorType(t, rec))
}

func TestProxy_PullUsesPullTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	defer slow.Close()

	cfg := defaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.PullTimeout = 5 * time.Second
	p := New(newRegistry(t, slow.URL), nil, cfg, nil)

	rec := doRequest(p, http.MethodPost, "/api/pull", `{"model":"m"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProxy_StreamsAndExtractsTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{
			`{"response":"he","done":false}`,
			`{"response":"llo","done":false}`,
			`{"response":"","done":true,"prompt_eval_count":4,"eval_count":2}`,
		} {
			_, _ = w.Write([]byte(chunk + "\n"))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	log := &captureLogger{}
	p := New(newRegistry(t, srv.URL), nil, defaultConfig(), log)

	rec := doRequest(p, http.MethodPost, "/api/generate", `{"model":"llama3","stream":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, strings.Count(rec.Body.String(), "\n"))
	assert.True(t, rec.Flushed)

	entry := log.last(t)
	assert.Equal(t, 4, entry.PromptTokens)
	assert.Equal(t, 2, entry.CompletionTokens)
}

func TestProxy_LongStreamOutlivesTimeout(t *testing.T) {
	const lines = 11
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for i := 0; i < lines; i++ {
			done := i == lines-1
			_, _ = fmt.Fprintf(w, "{\"response\":\"t%d\",\"done\":%t}\n", i, done)
			flusher.Flush()
			if !done {
				time.Sleep(50 * time.Millisecond)
			}
		}
	}))
	defer srv.Close()

	log := &captureLogger{}
	cfg := defaultConfig()
	cfg.Timeout = 200 * time.Millisecond
	p := New(newRegistry(t, srv.URL), nil, cfg, log)

	rec := doRequest(p, http.MethodPost, "/api/generate", `{"model":"m","stream":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lines, strings.Count(rec.Body.String(), "\n"))
	assert.Contains(t, rec.Body.String(), `"done":true`)
	assert.Empty(t, log.last(t).ErrorType)
}

func TestProxy_StalledStreamIsCutAsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{\"response\":\"a\",\"done\":false}\n"))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	log := &captureLogger{}
	cfg := defaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	p := New(newRegistry(t, srv.URL), nil, cfg, log)

	rec := doRequest(p, http.MethodPost, "/api/generate", `{"model":"m"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(core.ErrorTypeUpstreamTimeout), log.last(t).ErrorType)
}

func TestProxy_BodyTooLarge(t *testing.T) {
	good := backend("good", nil)
	defer good.Close()

	cfg := defaultConfig()
	cfg.MaxBodyBytes = 8
	p := New(newRegistry(t, good.URL), nil, cfg, nil)

	rec := doRequest(p, http.MethodPost, "/api/generate", `{"model":"much too long"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProxy_ClientCancelDoesNotMarkHost(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	log := &captureLogger{}
	reg := newRegistry(t, srv.URL)
	p := New(reg, nil, defaultConfig(), log)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{}`)).WithContext(ctx)
	done := make(chan struct{})
	go func() {
		p.ServeHTTP(httptest.NewRecorder(), req)
		close(done)
	}()
	<-started
	cancel()
	<-done

	assert.Equal(t, statusClientClosedRequest, log.last(t).StatusCode)
	assert.Zero(t, reg.List()[0].ConsecutiveFailures)
}

func TestRemoveHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom, keep-alive")
	h.Set("X-Custom", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("Content-Type", "application/json")

	removeHopHeaders(h)

	assert.Equal(t, http.Header{"Content-Type": {"application/json"}}, h)
}
