package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse is returned when a stream completes without delivering
// any text.
var ErrEmptyResponse = errors.New("provider stream completed with no content")

// APIError represents a request-level error from a provider. StatusCode 0
// means a connection-level (transport) failure.
type APIError struct {
	Message    string
	StatusCode int
	Type       string
	Code       string
	Retryable  bool
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error: %s", e.Message)
}

// IsRateLimit reports whether the error is a 429 or 503 response, the two
// statuses the adapter retries internally before surfacing.
func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusServiceUnavailable
}

// IsTransport reports whether the error was a connection-level failure.
func (e *APIError) IsTransport() bool {
	return e.StatusCode == 0
}

func statusCodeRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusInternalServerError ||
		statusCode == http.StatusBadGateway ||
		statusCode == http.StatusServiceUnavailable ||
		statusCode == http.StatusGatewayTimeout
}
