package limiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRedisLimiter_ContextCancellation(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := limiter.Allow(ctx, "user_cancel", Policy{Window: time.Second, Limit: 100})

	if err == nil {
		t.Fatal("Expected an error due to cancelled context, but got nil")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected error to be context.Canceled, but got: %v", err)
	}
	if !IsStoreFailure(err) {
		t.Errorf("Expected a *StoreError, got %T", err)
	}
	if st := limiter.Session().State(); st != StateConnected {
		t.Errorf("caller cancellation changed state to %v", st)
	}
}

func TestRedisLimiter_Deadline(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := limiter.Allow(ctx, "user_deadline", Policy{Window: time.Second, Limit: 100})

	if err == nil {
		t.Fatal("Expected timeout error, but got nil")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected error to be context.DeadlineExceeded, but got: %v", err)
	}
	if st := limiter.Session().State(); st != StateConnected {
		t.Errorf("deadline changed state to %v", st)
	}

	if err := limiter.Try(context.Background(), "user_deadline", Policy{Window: time.Second, Limit: 100}); err != nil {
		t.Errorf("session should still serve calls: %v", err)
	}
}

func TestMemoryLimiter_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMemoryLimiter().Allow(ctx, "user", Policy{Window: time.Second, Limit: 1})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
