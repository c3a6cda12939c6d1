package reliability

import (
	"context"
	"errors"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableTransport reports whether a network-level failure is worth
// trying again. A caller that cancelled its own request is not.
func IsRetryableTransport(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, context.Canceled)
}
