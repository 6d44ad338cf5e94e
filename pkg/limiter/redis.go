package limiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/herculesinc/credo.rate-limiter/pkg/clock"
)

// RedisLimiter is a distributed sliding-window limiter. All state lives in
// Redis and every decision is one atomic script execution, so any number of
// processes can share a limit without coordinating.
type RedisLimiter struct {
	session  *Session
	name     string
	prefix   string
	recorder MetricsRecorder
	logger   *slog.Logger
	clock    clock.Clock
	token    func() string
}

// NewRedisLimiter opens a Session for cfg and wraps it.
func NewRedisLimiter(cfg Config, opts ...Option) (*RedisLimiter, error) {
	s, err := NewSession(cfg, opts...)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	prefix := o.prefix
	if cfg.Namespace != "" {
		prefix = buildKey(prefix, cfg.Namespace)
	}

	return &RedisLimiter{
		session:  s,
		name:     s.Name(),
		prefix:   prefix,
		recorder: o.recorder,
		logger:   o.logger.With("limiter", s.Name()),
		clock:    o.clock,
		token:    o.token,
	}, nil
}

// Key returns the Redis key holding the rate record for id.
func (r *RedisLimiter) Key(id string) string {
	return buildKey(r.prefix, id)
}

func (r *RedisLimiter) Session() *Session { return r.session }

// Errors is shorthand for Session().Errors().
func (r *RedisLimiter) Errors() <-chan error { return r.session.Errors() }

func (r *RedisLimiter) Close() error { return r.session.Close() }

// Allow evaluates one request for id. A rejection is a Decision with
// Allow=false and a nil error; errors are reserved for invalid input and
// store failures.
func (r *RedisLimiter) Allow(ctx context.Context, id string, policy Policy) (Decision, error) {
	if id == "" {
		return Decision{}, errEmptyID
	}
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	start := time.Now()
	r.logger.Debug("checking rate limit", "id", id)

	now := r.clock.Now()
	res, err := r.session.Evaluate(ctx, r.Key(id), r.token(), now.UnixMilli(), policy.windowSeconds(), policy.Limit)
	recordCall(r.recorder, r.name, "try", start, err == nil, err == nil && !res.Admitted)
	if err != nil {
		r.logger.Debug("rate limit check failed", "id", id, "error", err)
		return Decision{}, err
	}

	r.logger.Debug("checked rate limit",
		"id", id,
		"admitted", res.Admitted,
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
	)
	return decisionFrom(res, now), nil
}

// Try returns nil when the request is admitted and *TooManyRequestsError
// when it is not. The hint is reported as computed, so a rejection may carry
// RetryAfter <= 0 when the oldest entry is about to leave the window.
func (r *RedisLimiter) Try(ctx context.Context, id string, policy Policy) error {
	dec, err := r.Allow(ctx, id, policy)
	if err != nil {
		return err
	}
	if !dec.Allow {
		return &TooManyRequestsError{ID: id, RetryAfter: int64(dec.RetryAfter / time.Second)}
	}
	return nil
}
