package limiter

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/herculesinc/credo.rate-limiter/pkg/clock"
)

const (
	DefaultPrefix      = "credo::rate-limiter"
	defaultTimeout     = 5 * time.Second
	defaultErrorBuffer = 16
)

type options struct {
	prefix      string
	timeout     time.Duration
	recorder    MetricsRecorder
	logger      *slog.Logger
	clock       clock.Clock
	token       func() string
	errorBuffer int
	reconnect   *ReconnectPolicy
	probe       func(context.Context) error
}

func defaultOptions() options {
	return options{
		prefix:      DefaultPrefix,
		timeout:     defaultTimeout,
		recorder:    &NoOpMetricsRecorder{},
		logger:      slog.New(slog.DiscardHandler),
		clock:       clock.NewRealClock(),
		token:       uuid.NewString,
		errorBuffer: defaultErrorBuffer,
	}
}

// Option configures a Session, RedisLimiter or MemoryLimiter.
type Option func(*options)

// WithPrefix sets the fixed part of every key (default "credo::rate-limiter").
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithTimeout bounds each store round trip. Zero leaves the caller's
// context as the only bound.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

func WithRecorder(r MetricsRecorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the source of evaluation timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithTokenFunc replaces the per-call token generator. Tokens must be unique
// across concurrent calls for the same identifier.
func WithTokenFunc(f func() string) Option {
	return func(o *options) {
		if f != nil {
			o.token = f
		}
	}
}

// WithErrorBuffer sets the capacity of the Errors channel.
func WithErrorBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.errorBuffer = n
		}
	}
}

// WithReconnectPolicy overrides Config.Reconnect.
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(o *options) {
		o.reconnect = &p
	}
}

func buildKey(prefix, id string) string {
	return prefix + "::" + id
}
