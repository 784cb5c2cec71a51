package httpx

import (
	"fmt"
	"strings"
	"time"
)

type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func (e *RetryableError) IsRetryable() bool {
	return true
}

// transientMarkers are lowercase substrings of error messages that
// indicate a transient network failure worth retrying.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"no such host",
	"name resolution",
	"fetch failed",
	"socket hang up",
	"broken pipe",
	"eof",
}

// IsTransient reports whether err looks like a transient network failure.
// Matching is case-insensitive: the standard client reports timeouts as
// "Client.Timeout exceeded".
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
