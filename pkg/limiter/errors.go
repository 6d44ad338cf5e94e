package limiter

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

var (
	// ErrInvalidConfig is returned at construction for missing or invalid
	// settings. It is never retried.
	ErrInvalidConfig = errors.New("limiter: invalid configuration")

	// ErrInvalidRequest is returned for a call with an empty identifier or
	// an invalid policy.
	ErrInvalidRequest = errors.New("limiter: invalid request")

	ErrNotConnected  = errors.New("limiter: store is not connected")
	ErrSessionFailed = errors.New("limiter: store session failed permanently")
	ErrClosed        = errors.New("limiter: session is closed")
)

// TooManyRequestsError reports a rejected admission.
type TooManyRequestsError struct {
	ID         string
	RetryAfter int64 // seconds
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("rate limit exceeded for {%s}", e.ID)
}

func (e *TooManyRequestsError) StatusCode() int {
	return http.StatusTooManyRequests
}

func (e *TooManyRequestsError) Headers() map[string]string {
	return map[string]string{"Retry-After": strconv.FormatInt(e.RetryAfter, 10)}
}

// StoreError wraps a connectivity or script execution failure.
// Callers may retry later.
type StoreError struct {
	Op      string
	Attempt int // reconnect attempt, 0 outside the reconnect loop
	Err     error
}

func (e *StoreError) Error() string {
	if e.Attempt > 0 {
		return fmt.Sprintf("limiter: %s attempt %d: %v", e.Op, e.Attempt, e.Err)
	}
	return fmt.Sprintf("limiter: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Reasons a session enters the failed state.
const (
	ReasonConnectionRefused = "connection refused"
	ReasonRetryExhausted    = "retry time exhausted"
)

// FatalError is emitted on the error channel when the reconnect policy
// gives up. The session is unusable afterwards.
type FatalError struct {
	Reason   string
	Attempts int
	Err      error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("limiter: store connection failed (%s) after %d attempts: %v", e.Reason, e.Attempts, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsTooManyRequests reports whether err is a rejection and returns it.
func IsTooManyRequests(err error) (*TooManyRequestsError, bool) {
	var tmr *TooManyRequestsError
	if errors.As(err, &tmr) {
		return tmr, true
	}
	return nil, false
}

func IsStoreFailure(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
