// Package core provides the shared types and error taxonomy for the swarm router.
package core

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates a malformed request body (400)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeInvalidURL indicates a host URL that cannot be registered (400)
	ErrorTypeInvalidURL ErrorType = "invalid_url_error"
	// ErrorTypeInvalidModel indicates an empty or malformed model name (400)
	ErrorTypeInvalidModel ErrorType = "invalid_model_error"
	// ErrorTypeAuthentication indicates an authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeNotFound indicates a not found error (404)
	ErrorTypeNotFound ErrorType = "not_found_error"
	// ErrorTypeNoHosts indicates that the registry holds no backend (503)
	ErrorTypeNoHosts ErrorType = "no_hosts_available"
	// ErrorTypeUpstreamUnreachable indicates a backend that did not respond (502)
	ErrorTypeUpstreamUnreachable ErrorType = "upstream_unreachable"
	// ErrorTypeUpstreamTimeout indicates a backend that exceeded its deadline (504)
	ErrorTypeUpstreamTimeout ErrorType = "upstream_timeout"
	// ErrorTypeUpstream indicates a backend that answered with an error status
	ErrorTypeUpstream ErrorType = "upstream_error"
)

// GatewayError is the base error type for all router errors
type GatewayError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Host       string    `json:"host,omitempty"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Host != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Host, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest, ErrorTypeInvalidURL, ErrorTypeInvalidModel:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeNoHosts:
		return http.StatusServiceUnavailable
	case ErrorTypeUpstreamUnreachable, ErrorTypeUpstream:
		return http.StatusBadGateway
	case ErrorTypeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to a JSON-compatible map
func (e *GatewayError) ToJSON() map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"type":    e.Type,
			"message": e.Message,
		},
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewInvalidURLError reports a host URL that failed validation.
func NewInvalidURLError(rawURL string, reason string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidURL,
		Message:    fmt.Sprintf("invalid host url %q: %s", rawURL, reason),
		StatusCode: http.StatusBadRequest,
	}
}

// NewInvalidModelNameError reports an empty or malformed model name.
func NewInvalidModelNameError(model string) *GatewayError {
	msg := "model name is required"
	if model != "" {
		msg = fmt.Sprintf("invalid model name %q", model)
	}
	return &GatewayError{
		Type:       ErrorTypeInvalidModel,
		Message:    msg,
		StatusCode: http.StatusBadRequest,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewNotFoundError creates a new not found error (404)
func NewNotFoundError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewNoHostsAvailableError is returned when no backend can take the request.
func NewNoHostsAvailableError(message string) *GatewayError {
	if message == "" {
		message = "no hosts registered"
	}
	return &GatewayError{
		Type:       ErrorTypeNoHosts,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
	}
}

// NewUpstreamUnreachableError wraps a transport failure talking to host.
func NewUpstreamUnreachableError(host string, err error) *GatewayError {
	msg := "host did not respond"
	if err != nil {
		msg = fmt.Sprintf("host did not respond: %v", err)
	}
	return &GatewayError{
		Type:       ErrorTypeUpstreamUnreachable,
		Message:    msg,
		StatusCode: http.StatusBadGateway,
		Host:       host,
		Err:        err,
	}
}

// NewUpstreamTimeoutError reports a host that exceeded its deadline.
func NewUpstreamTimeoutError(host string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeUpstreamTimeout,
		Message:    "host timed out",
		StatusCode: http.StatusGatewayTimeout,
		Host:       host,
		Err:        err,
	}
}

// ParseUpstreamError builds an error from a non-2xx backend response.
// Ollama reports failures as {"error": "..."}; OpenAI-compatible routes use
// {"error": {"message": "..."}}. Both shapes are understood.
func ParseUpstreamError(host string, statusCode int, body []byte) *GatewayError {
	message := string(body)
	if gjson.ValidBytes(body) {
		if m := gjson.GetBytes(body, "error"); m.Type == gjson.String && m.Str != "" {
			message = m.Str
		} else if m := gjson.GetBytes(body, "error.message"); m.Type == gjson.String && m.Str != "" {
			message = m.Str
		}
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	return &GatewayError{
		Type:       ErrorTypeUpstream,
		Message:    message,
		StatusCode: statusCode,
		Host:       host,
	}
}
