package core

import (
	"context"
	"errors"
	"net"
)

// ClassifyTransportError maps a failed round trip to host onto the error
// taxonomy: deadline expiry becomes UpstreamTimeoutError, everything else
// (refused, reset, DNS) becomes UpstreamUnreachableError.
func ClassifyTransportError(host string, err error) *GatewayError {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewUpstreamTimeoutError(host, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewUpstreamTimeoutError(host, err)
	}
	return NewUpstreamUnreachableError(host, err)
}
