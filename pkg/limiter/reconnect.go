package limiter

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// State is the connection state of a Session.
type State int32

const (
	StateConnected State = iota
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	DefaultReconnectStep         = 200 * time.Millisecond
	DefaultReconnectCap          = 3 * time.Second
	DefaultReconnectMaxRetryTime = 60 * time.Second
)

// ReconnectPolicy controls how a Session recovers a lost connection.
// The delay after the n-th failed attempt is min(n*Step, Cap); the session
// gives up once MaxRetryTime has elapsed since the connection was lost, or
// immediately when the store refuses the connection.
type ReconnectPolicy struct {
	Step         time.Duration
	Cap          time.Duration
	MaxRetryTime time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Step:         DefaultReconnectStep,
		Cap:          DefaultReconnectCap,
		MaxRetryTime: DefaultReconnectMaxRetryTime,
	}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.Step <= 0 {
		p.Step = DefaultReconnectStep
	}
	if p.Cap <= 0 {
		p.Cap = DefaultReconnectCap
	}
	if p.MaxRetryTime <= 0 {
		p.MaxRetryTime = DefaultReconnectMaxRetryTime
	}
	return p
}

// Delay returns the wait after the given failed attempt (1-based).
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * p.Step
	if d > p.Cap || d <= 0 {
		return p.Cap
	}
	return d
}

// backoff is linear up to Cap and stops once MaxRetryTime has passed.
func (p ReconnectPolicy) backoff() retry.Backoff {
	attempt := 0
	linear := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * p.Step, false
	})
	return retry.WithMaxDuration(p.MaxRetryTime, retry.WithCappedDuration(p.Cap, linear))
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// isConnectionError reports whether err means the link to the store is gone.
// Server replies, caller cancellation and timeouts leave the session as is:
// a timeout is bounded by the caller's deadline or WithTimeout and says
// nothing about the link, so it must not stop traffic for every caller.
func isConnectionError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var replyErr redis.Error
	if errors.As(err, &replyErr) {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return !netErr.Timeout()
	}
	return false
}
