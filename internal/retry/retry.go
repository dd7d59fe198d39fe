// Package retry computes exponential backoff for failed job runs.
package retry

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
)

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 1 * time.Minute
)

// Policy represents retry configuration. The zero value never retries.
type Policy struct {
	MaxAttempts    int           // Total runs including the first one; <= 1 disables retries
	InitialBackoff time.Duration // Delay before the first retry (default: 1s)
	MaxBackoff     time.Duration // Upper bound of the delay (default: 1m)
}

// Next reports whether a run that failed with err on the given attempt
// (1-based) should be retried and after which delay.
func (p Policy) Next(attempt int, err error) (time.Duration, bool) {
	if attempt >= p.MaxAttempts || !IsRetryable(err) {
		return 0, false
	}
	return p.Backoff(attempt), true
}

// Backoff returns 2^(attempt-1) * InitialBackoff capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	initial, max := p.InitialBackoff, p.MaxBackoff
	if initial <= 0 {
		initial = defaultInitialBackoff
	}
	if max <= 0 {
		max = defaultMaxBackoff
	}
	if attempt < 1 {
		attempt = 1
	}

	backoff := initial
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= max || backoff <= 0 {
			return max
		}
	}
	if backoff > max {
		return max
	}
	return backoff
}

// IsRetryable checks if a failed run is worth repeating.
// Cancellation is final; a timeout, a non-zero exit status and errors that
// look transient are retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// 126 and 127: the shell could not run the command at all
		code := exitErr.ExitCode()
		return code != 126 && code != 127
	}

	errLower := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "temporary", "connection reset", "connection refused", "too many requests"} {
		if strings.Contains(errLower, pattern) {
			return true
		}
	}

	// Unknown error - not retryable by default
	return false
}
