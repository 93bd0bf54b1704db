package providers

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrContextLengthExceeded marks a query that overflowed the model's context
// window. Consensus condenses the history and retries exactly once.
var ErrContextLengthExceeded = errors.New("context length exceeded")

// HTTPError is a non-2xx response from a provider API.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request may be retried (rate limit or
// transient server error). Context overflow is a 400 and never retryable
// at this layer.
func (e *HTTPError) Retryable() bool {
	return e.Status == 429 || e.Status >= 500
}

// overflowMarkers are the substrings provider APIs use to signal context
// overflow in 400 error bodies.
var overflowMarkers = []string{
	"context_length_exceeded",
	"prompt is too long",
	"maximum context length",
	"input is too long",
}

// classifyHTTPError maps overflow 400s onto ErrContextLengthExceeded so
// callers can errors.Is() without knowing the provider.
func classifyHTTPError(e *HTTPError) error {
	if e.Status == 400 {
		lower := strings.ToLower(e.Body)
		for _, m := range overflowMarkers {
			if strings.Contains(lower, m) {
				return fmt.Errorf("%w: %s", ErrContextLengthExceeded, e.Body)
			}
		}
	}
	return e
}

// ParseRetryAfter converts a Retry-After header value (seconds) to a duration.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
