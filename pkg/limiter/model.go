package limiter

import (
	"context"
	"fmt"
	"time"
)

var errEmptyID = fmt.Errorf("%w: id is empty", ErrInvalidRequest)

// Policy is a sliding-window limit: at most Limit admissions in any
// Window. Window must be a whole number of seconds.
type Policy struct {
	Window time.Duration
	Limit  int64
}

// Validate reports whether p can be evaluated. Errors wrap ErrInvalidRequest.
func (p Policy) Validate() error {
	if p.Window < time.Second || p.Window%time.Second != 0 {
		return fmt.Errorf("%w: window must be a positive whole number of seconds, got %s", ErrInvalidRequest, p.Window)
	}
	if p.Limit < 1 {
		return fmt.Errorf("%w: limit must be at least 1, got %d", ErrInvalidRequest, p.Limit)
	}
	return nil
}

func (p Policy) windowSeconds() int64 {
	return int64(p.Window / time.Second)
}

type Decision struct {
	Allow      bool
	Remaining  int64
	RetryAfter time.Duration
	ResetTime  time.Time
}

// Result is the raw outcome of one admission evaluation.
// RetryAfter is in whole seconds and is reported exactly as computed,
// so a rejection may carry a zero or negative hint.
type Result struct {
	Admitted   bool
	RetryAfter int64
	Remaining  int64
}

type RateLimiter interface {
	Allow(ctx context.Context, id string, policy Policy) (Decision, error)
	Try(ctx context.Context, id string, policy Policy) error
}

func decisionFrom(res Result, now time.Time) Decision {
	retry := time.Duration(res.RetryAfter) * time.Second
	return Decision{
		Allow:      res.Admitted,
		Remaining:  res.Remaining,
		RetryAfter: retry,
		ResetTime:  now.Add(retry),
	}
}
