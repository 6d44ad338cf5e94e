package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/herculesinc/credo.rate-limiter/pkg/clock"
)

// sweepEvery is how many Allow calls pass between automatic sweeps.
const sweepEvery = 256

// MemoryLimiter is an in-process sliding-window rate limiter running the
// same admission step as the Redis script.
//
// It is safe for concurrent use by multiple goroutines, but its state is local
// to the process and is not shared across replicas. Use RedisLimiter when you
// need a single global limit across multiple instances.
type MemoryLimiter struct {
	mu         sync.Mutex
	records    map[string]*record
	clock      clock.Clock
	prefix     string
	token      func() string
	calls      int
	sweepEvery int
}

// NewMemoryLimiter constructs a MemoryLimiter with empty state. It accepts
// WithClock, WithPrefix and WithTokenFunc; other options are ignored.
func NewMemoryLimiter(opts ...Option) *MemoryLimiter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &MemoryLimiter{
		records:    make(map[string]*record),
		clock:      o.clock,
		prefix:     o.prefix,
		token:      o.token,
		sweepEvery: sweepEvery,
	}
}

// Allow evaluates one request for id under policy.
func (m *MemoryLimiter) Allow(ctx context.Context, id string, policy Policy) (Decision, error) {
	if id == "" {
		return Decision{}, errEmptyID
	}
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	key := buildKey(m.prefix, id)
	rec, res := admit(m.records[key], m.token(), now.UnixMilli(), policy.windowSeconds(), policy.Limit)
	m.records[key] = rec

	m.calls++
	if m.calls >= m.sweepEvery {
		m.calls = 0
		m.sweepLocked(now.UnixMilli())
	}

	return decisionFrom(res, now), nil
}

// Try is Allow with rejection reported as *TooManyRequestsError. As with
// RedisLimiter.Try, a rejection may carry RetryAfter <= 0.
func (m *MemoryLimiter) Try(ctx context.Context, id string, policy Policy) error {
	dec, err := m.Allow(ctx, id, policy)
	if err != nil {
		return err
	}
	if !dec.Allow {
		return &TooManyRequestsError{ID: id, RetryAfter: int64(dec.RetryAfter / time.Second)}
	}
	return nil
}

// Sweep drops records whose expiry has passed and returns how many were
// removed. Allow already sweeps every few hundred calls; Sweep is for
// callers that want memory back without further traffic.
func (m *MemoryLimiter) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked(m.clock.Now().UnixMilli())
}

func (m *MemoryLimiter) sweepLocked(now int64) int {
	removed := 0
	for key, rec := range m.records {
		if rec.expired(now) {
			delete(m.records, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of records currently held.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
