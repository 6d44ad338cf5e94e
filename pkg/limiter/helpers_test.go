package limiter

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/herculesinc/credo.rate-limiter/pkg/clock"
)

var fastReconnect = ReconnectPolicy{
	Step:         5 * time.Millisecond,
	Cap:          20 * time.Millisecond,
	MaxRetryTime: 2 * time.Second,
}

func testConfig(t *testing.T, mr *miniredis.Miniredis) Config {
	t.Helper()
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}
	return Config{
		Name: "test",
		Redis: RedisConfig{
			Host:        mr.Host(),
			Port:        port,
			MaxRetries:  -1,
			DialTimeout: time.Second,
		},
		Reconnect: fastReconnect,
	}
}

// newTestLimiter returns a limiter on a fresh miniredis driven by a virtual
// clock starting at epoch.
func newTestLimiter(t *testing.T, opts ...Option) (*RedisLimiter, *miniredis.Miniredis, *clock.VirtualClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	vc := clock.NewVirtualClock(epoch)

	l, err := NewRedisLimiter(testConfig(t, mr), append([]Option{WithClock(vc)}, opts...)...)
	if err != nil {
		t.Fatalf("NewRedisLimiter() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	if st := l.Session().State(); st != StateConnected {
		t.Fatalf("session state = %v, want connected", st)
	}
	return l, mr, vc
}

func withProbe(f func(ctx context.Context) error) Option {
	return func(o *options) {
		o.probe = f
	}
}
