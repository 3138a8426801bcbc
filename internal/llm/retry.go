package llm

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// RetryConfig controls retry behavior for transient provider failures.
type RetryConfig struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	// Jitter is the fractional random spread applied to each wait,
	// e.g. 0.2 for +/-20%.
	Jitter float64
}

// DefaultRetryConfig returns the standard retry policy: up to 3 retries,
// 2s initial wait doubling per attempt, capped at 60s, +/-20% jitter.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		InitialWait: 2 * time.Second,
		MaxWait:     60 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.2,
	}
}

// HTTPStatusError marks a provider failure with a known HTTP status,
// so retryability can be decided from the status code rather than by
// matching error text.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// retryableStatuses are the HTTP statuses worth retrying: rate limiting
// and transient upstream failures.
var retryableStatuses = map[int]bool{
	429: true,
	502: true,
	503: true,
	504: true,
}

// IsRetryable reports whether err is a transient failure that a later
// attempt may succeed on. Client-side errors (400, 401, 404) and JSON
// parse failures are not retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return retryableStatuses[statusErr.StatusCode]
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// Wrapped transport errors from HTTP clients that do not expose the
	// underlying syscall error.
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"connection reset",
		"connection refused",
		"timeout",
		"timed out",
		"no such host",
		"temporary failure in name resolution",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// WithRetry runs fn, retrying transient failures with exponential backoff
// and jitter per cfg. Non-retryable errors and context cancellation
// return immediately. onRetry, when non-nil, is called before each wait.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error, onRetry func(attempt int, wait time.Duration, err error)) error {
	wait := cfg.InitialWait
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= cfg.MaxRetries {
			return err
		}
		if wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
		sleep := jittered(wait, cfg.Jitter)
		if onRetry != nil {
			onRetry(attempt+1, sleep, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		wait = time.Duration(float64(wait) * cfg.Multiplier)
	}
}

// jittered spreads d by +/-(frac*d) so concurrent clients do not retry
// in lockstep.
func jittered(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * frac * float64(d)
	return time.Duration(float64(d) + delta)
}
