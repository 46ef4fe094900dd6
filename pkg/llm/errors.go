package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrRateLimited marks provider throttling.
	ErrRateLimited = errors.New("rate limited")

	// ErrEmptyResponse is returned when a provider answers without text.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrInvalidOutput is returned when structured output fails to parse or validate.
	ErrInvalidOutput = errors.New("invalid model output")
)

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == 429
}

// Retryable reports whether the same request may succeed later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 408 || e.StatusCode == 409 || e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryable classifies err for callers running their own retry loop.
// Cancellation is never retryable; throttling, server errors, timeouts,
// network failures and malformed output are.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrInvalidOutput) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return false
}
