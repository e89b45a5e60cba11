package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Sentinel errors for transport-level failures. Both are retryable within
// the envelope's retry budget.
var (
	// ErrTimeout marks a request that exceeded its per-request deadline.
	ErrTimeout = errors.New("backend: request timed out")

	// ErrNetwork marks a connect, reset, or read failure below HTTP.
	ErrNetwork = errors.New("backend: network failure")
)

// HTTPError is returned when the backend answered with a non-2xx status
// that the envelope does not retry (or whose retry budget is exhausted).
// Body holds the raw response body so callers can decode per-field
// validation errors.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend: http status %d", e.Status)
}

// NotFound reports whether the error is an HTTP 404.
func (e *HTTPError) NotFound() bool { return e.Status == http.StatusNotFound }

// Validation reports whether the error is an HTTP 400 carrying per-field
// validation detail.
func (e *HTTPError) Validation() bool { return e.Status == http.StatusBadRequest }

// classifyTransport maps a transport-level error from the HTTP client onto
// the envelope's sentinel errors. Context cancellation is deliberately left
// outside both sentinels: a cancelled call must not be retried.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("backend: request cancelled: %w", err)
	}
	var nerr net.Error
	if (errors.As(err, &nerr) && nerr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
