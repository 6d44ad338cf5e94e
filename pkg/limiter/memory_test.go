package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/herculesinc/credo.rate-limiter/pkg/clock"
)

var epoch = time.UnixMilli(1_700_000_000_000)

func TestMemoryLimiter_Allow_Basics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	limiter := NewMemoryLimiter()

	policy := Policy{Window: 10 * time.Second, Limit: 10}

	decision, err := limiter.Allow(ctx, "user_1", policy)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !decision.Allow {
		t.Error("Expected request to be allowed, but got denied!")
	}
	if decision.Remaining != 9 {
		t.Errorf("Expected 9 remaining, got %d instead", decision.Remaining)
	}
	if decision.RetryAfter != 0 {
		t.Errorf("Expected zero RetryAfter on admission, got %v", decision.RetryAfter)
	}
}

func TestMemoryLimiter_Exhaustion(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(WithClock(clock.NewVirtualClock(epoch)))
	policy := Policy{Window: time.Minute, Limit: 5}

	for i := 0; i < 5; i++ {
		dec, _ := limiter.Allow(ctx, "user_1", policy)
		if !dec.Allow {
			t.Fatalf("Request %d was unexpectedly denied", i)
		}
	}

	dec, _ := limiter.Allow(ctx, "user_1", policy)
	if dec.Allow {
		t.Errorf("The 6th request should have been denied (Limit=5), but was allowed")
	}
	if dec.RetryAfter != time.Minute {
		t.Errorf("Expected RetryAfter 1m, got %v", dec.RetryAfter)
	}
}

func TestMemoryLimiter_WindowSlides(t *testing.T) {
	ctx := context.Background()
	vc := clock.NewVirtualClock(epoch)
	limiter := NewMemoryLimiter(WithClock(vc))
	policy := Policy{Window: 2 * time.Second, Limit: 3}

	for i := 0; i < 3; i++ {
		if err := limiter.Try(ctx, "id1", policy); err != nil {
			t.Fatalf("call %d: unexpected error %v", i+1, err)
		}
	}

	err := limiter.Try(ctx, "id1", policy)
	tmr, ok := IsTooManyRequests(err)
	if !ok {
		t.Fatalf("4th call: expected TooManyRequestsError, got %v", err)
	}
	if tmr.RetryAfter != 2 {
		t.Errorf("RetryAfter = %d, want 2", tmr.RetryAfter)
	}
	if tmr.ID != "id1" {
		t.Errorf("ID = %q, want id1", tmr.ID)
	}

	vc.Advance(2 * time.Second)
	if err := limiter.Try(ctx, "id1", policy); err != nil {
		t.Fatalf("call after window slid: unexpected error %v", err)
	}
}

func TestMemoryLimiter_RetryAfterTracksOldestEntry(t *testing.T) {
	ctx := context.Background()
	vc := clock.NewVirtualClock(epoch)
	limiter := NewMemoryLimiter(WithClock(vc))
	policy := Policy{Window: 2 * time.Second, Limit: 3}

	for _, step := range []time.Duration{0, 500 * time.Millisecond, 700 * time.Millisecond} {
		vc.Advance(step)
		if dec, _ := limiter.Allow(ctx, "k", policy); !dec.Allow {
			t.Fatalf("expected admission at +%v", vc.Now().Sub(epoch))
		}
	}

	// t=1200ms: 2 - ceil(1200/1000) = 0, still a rejection.
	dec, _ := limiter.Allow(ctx, "k", policy)
	if dec.Allow {
		t.Fatal("expected rejection at t=1200ms")
	}
	if dec.RetryAfter != 0 {
		t.Errorf("RetryAfter = %v, want 0", dec.RetryAfter)
	}

	// t=1500ms: the oldest entry (t=0) is still inside the window.
	vc.Advance(300 * time.Millisecond)
	dec, _ = limiter.Allow(ctx, "k", policy)
	if dec.Allow || dec.RetryAfter != 0 {
		t.Fatalf("t=1500ms: got %+v, want rejection with RetryAfter 0", dec)
	}

	// t=2000ms: the entry at t=0 leaves the window.
	vc.Advance(500 * time.Millisecond)
	dec, _ = limiter.Allow(ctx, "k", policy)
	if !dec.Allow {
		t.Fatal("expected admission at t=2000ms")
	}
}

func TestMemoryLimiter_NoDriftAfterExpiry(t *testing.T) {
	ctx := context.Background()
	vc := clock.NewVirtualClock(epoch)
	limiter := NewMemoryLimiter(WithClock(vc))
	policy := Policy{Window: time.Second, Limit: 1}

	if dec, _ := limiter.Allow(ctx, "k", policy); !dec.Allow {
		t.Fatal("first call should be admitted")
	}

	vc.Advance(time.Second)
	for i := 0; i < 50; i++ {
		dec, _ := limiter.Allow(ctx, "k", policy)
		if i == 0 && !dec.Allow {
			t.Fatal("expired entry still counted")
		}
		if i > 0 && dec.Allow {
			t.Fatalf("query %d admitted past the limit", i)
		}
	}

	vc.Advance(time.Second)
	if dec, _ := limiter.Allow(ctx, "k", policy); !dec.Allow {
		t.Fatal("expected admission once the second entry expired")
	}
}

func TestMemoryLimiter_RejectionIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	vc := clock.NewVirtualClock(epoch)
	limiter := NewMemoryLimiter(WithClock(vc))
	policy := Policy{Window: 10 * time.Second, Limit: 2}

	limiter.Allow(ctx, "k", policy)
	vc.Advance(5 * time.Second)
	limiter.Allow(ctx, "k", policy)

	for i := 0; i < 10; i++ {
		vc.Advance(100 * time.Millisecond)
		limiter.Allow(ctx, "k", policy)
	}

	// Only the two admitted entries exist; the first leaves the window at
	// +10s, so one more admission fits.
	vc.Set(epoch.Add(10 * time.Second))
	if dec, _ := limiter.Allow(ctx, "k", policy); !dec.Allow {
		t.Fatal("rejected attempts must not occupy the window")
	}
}

func TestMemoryLimiter_InvalidRequest(t *testing.T) {
	limiter := NewMemoryLimiter()
	ctx := context.Background()

	cases := []struct {
		name   string
		id     string
		policy Policy
	}{
		{"empty id", "", Policy{Window: time.Second, Limit: 1}},
		{"zero window", "k", Policy{Window: 0, Limit: 1}},
		{"fractional window", "k", Policy{Window: 1500 * time.Millisecond, Limit: 1}},
		{"zero limit", "k", Policy{Window: time.Second, Limit: 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := limiter.Allow(ctx, tc.id, tc.policy)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	limiter := NewMemoryLimiter(WithClock(vc))
	policy := Policy{Window: time.Second, Limit: 1}

	limiter.Allow(context.Background(), "a", policy)
	limiter.Allow(context.Background(), "b", policy)
	if limiter.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", limiter.Len())
	}

	vc.Advance(time.Second)
	if n := limiter.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if limiter.Len() != 0 {
		t.Errorf("Len() = %d after sweep, want 0", limiter.Len())
	}
}

func TestMemoryLimiter_RejectionWithZeroHint(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	limiter := NewMemoryLimiter(WithClock(vc))
	policy := Policy{Window: 2 * time.Second, Limit: 3}
	ctx := context.Background()

	for range 3 {
		if err := limiter.Try(ctx, "edge", policy); err != nil {
			t.Fatalf("Try: %v", err)
		}
	}

	vc.Advance(1500 * time.Millisecond)
	err := limiter.Try(ctx, "edge", policy)
	tmr, ok := IsTooManyRequests(err)
	if !ok {
		t.Fatalf("Try() = %v, want *TooManyRequestsError", err)
	}
	if tmr.RetryAfter != 0 {
		t.Errorf("RetryAfter = %d, want 0", tmr.RetryAfter)
	}
	if got := tmr.Headers()["Retry-After"]; got != "0" {
		t.Errorf("Retry-After header = %q, want 0", got)
	}
}

func TestMemoryLimiter_AllowDropsIdleRecords(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	limiter := NewMemoryLimiter(WithClock(vc))
	policy := Policy{Window: time.Second, Limit: 1}

	for i := range 1000 {
		if _, err := limiter.Allow(context.Background(), fmt.Sprintf("client-%d", i), policy); err != nil {
			t.Fatalf("Allow(%d): %v", i, err)
		}
		vc.Advance(10 * time.Second)
	}

	if n := limiter.Len(); n > sweepEvery {
		t.Errorf("Len() = %d after 1000 idle identifiers, want at most %d", n, sweepEvery)
	}
}

func TestMemoryLimiter_SweepKeepsLiveRecords(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	limiter := NewMemoryLimiter(WithClock(vc))
	limiter.sweepEvery = 2
	ctx := context.Background()

	limiter.Allow(ctx, "idle", Policy{Window: time.Second, Limit: 1})
	vc.Advance(2 * time.Second)
	limiter.Allow(ctx, "live", Policy{Window: time.Minute, Limit: 1})

	if n := limiter.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
	if err := limiter.Try(ctx, "live", Policy{Window: time.Minute, Limit: 1}); err == nil {
		t.Error("live record was swept: second call admitted")
	}
}

// Race Test
func TestMemoryLimiter_ThreadSafety(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	limiter := NewMemoryLimiter(WithClock(clock.NewVirtualClock(epoch)))
	policy := Policy{Window: time.Minute, Limit: 99}

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
		rejected atomic.Int64
	)

	wg.Add(100)
	for range 100 {
		go func() {
			defer wg.Done()
			err := limiter.Try(ctx, "user_1", policy)
			if err == nil {
				admitted.Add(1)
			} else if _, ok := IsTooManyRequests(err); ok {
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 99 || rejected.Load() != 1 {
		t.Errorf("admitted=%d rejected=%d, want 99 and 1", admitted.Load(), rejected.Load())
	}
}

func BenchmarkMemoryLimiter_Allow(b *testing.B) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	limiter := NewMemoryLimiter()
	policy := Policy{Window: time.Second, Limit: 100000}

	for b.Loop() {
		limiter.Allow(ctx, "user_1", policy)
	}
}
