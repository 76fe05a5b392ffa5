// Package ollama is a small client for the management endpoints of an
// Ollama server: model listing, model pulls and version checks.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"ollamaswarm/internal/core"
	"ollamaswarm/internal/httpclient"
)

// Endpoint paths on the backend.
const (
	TagsPath    = "/api/tags"
	PullPath    = "/api/pull"
	VersionPath = "/api/version"
)

// maxResponseBytes caps how much of a management response is buffered.
const maxResponseBytes = 16 << 20

// Client talks to any number of backends; the base URL is given per call.
// It does not retry: callers decide whether another host should be tried.
type Client struct {
	httpClient *http.Client
}

// New creates a client on top of httpClient. Nil means a default client.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewHTTPClient(nil)
	}
	return &Client{httpClient: httpClient}
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	Body     interface{} // Will be JSON marshaled if not nil
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Body       []byte
}

// DoRaw executes a single request against baseURL and returns the raw body.
// Transport failures become UpstreamUnreachable/UpstreamTimeout errors and
// non-2xx answers become upstream errors carrying the backend status.
func (c *Client) DoRaw(ctx context.Context, baseURL string, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, baseURL, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.ClassifyTransportError(baseURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, core.ClassifyTransportError(baseURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, core.ParseUpstreamError(baseURL, resp.StatusCode, body)
	}

	return &Response{StatusCode: resp.StatusCode, Body: body}, nil
}

// Do executes a request and unmarshals the response into result.
func (c *Client) Do(ctx context.Context, baseURL string, req Request, result interface{}) error {
	resp, err := c.DoRaw(ctx, baseURL, req)
	if err != nil {
		return err
	}
	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return &core.GatewayError{
				Type:       core.ErrorTypeUpstream,
				Message:    "failed to decode response: " + err.Error(),
				StatusCode: http.StatusBadGateway,
				Host:       baseURL,
				Err:        err,
			}
		}
	}
	return nil
}

func (c *Client) buildRequest(ctx context.Context, baseURL string, req Request) (*http.Request, error) {
	url := strings.TrimRight(baseURL, "/") + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to marshal request", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if id := core.GetRequestID(ctx); id != "" {
		httpReq.Header.Set("X-Request-ID", id)
	}

	return httpReq, nil
}

// ListModels returns the raw /api/tags document of one backend.
func (c *Client) ListModels(ctx context.Context, baseURL string) (json.RawMessage, error) {
	resp, err := c.DoRaw(ctx, baseURL, Request{Method: http.MethodGet, Endpoint: TagsPath})
	if err != nil {
		return nil, err
	}
	if !json.Valid(resp.Body) {
		return nil, &core.GatewayError{
			Type:       core.ErrorTypeUpstream,
			Message:    "backend returned invalid JSON",
			StatusCode: http.StatusBadGateway,
			Host:       baseURL,
		}
	}
	return resp.Body, nil
}

// PullRequest is the body sent to /api/pull.
type PullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// Pull asks one backend to download model and waits for it to finish.
func (c *Client) Pull(ctx context.Context, baseURL, model string) (json.RawMessage, error) {
	resp, err := c.DoRaw(ctx, baseURL, Request{
		Method:   http.MethodPost,
		Endpoint: PullPath,
		Body:     PullRequest{Model: model, Stream: false},
	})
	if err != nil {
		return nil, err
	}

	// A backend that ignores stream=false answers with NDJSON progress
	// lines; the last one carries the outcome. Failures can also arrive
	// inside a 200 body.
	body := resp.Body
	if !json.Valid(body) {
		body = LastJSONLine(body)
	}
	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		return nil, core.ParseUpstreamError(baseURL, http.StatusBadGateway, body)
	}
	if !json.Valid(body) {
		return json.Marshal(map[string]string{"status": strings.TrimSpace(string(resp.Body))})
	}
	return body, nil
}

// LastJSONLine returns the last non-empty line of an NDJSON body.
func LastJSONLine(body []byte) []byte {
	trimmed := bytes.TrimRight(body, "\r\n\t ")
	if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
		trimmed = trimmed[i+1:]
	}
	return bytes.TrimSpace(trimmed)
}

// VersionResponse is the body of /api/version.
type VersionResponse struct {
	Version string `json:"version"`
}

// Version returns the backend's reported version.
func (c *Client) Version(ctx context.Context, baseURL string) (string, error) {
	var v VersionResponse
	if err := c.Do(ctx, baseURL, Request{Method: http.MethodGet, Endpoint: VersionPath}, &v); err != nil {
		return "", err
	}
	return v.Version, nil
}
