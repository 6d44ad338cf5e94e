// Package limiter provides local and distributed rate limiting based on a
// sliding window log.
//
// The primary entry point is the RateLimiter interface:
//
//	err := limiter.Try(ctx, id, policy)
//
// Try returns nil when the request is admitted and a *TooManyRequestsError
// carrying the suggested retry delay when it is not. Allow returns the same
// evaluation as a Decision for callers that want to set rate-limit headers
// themselves.
//
// # Overview
//
// Every admitted request leaves one entry (a unique token scored by its
// timestamp in milliseconds) in the identifier's rate record. An evaluation:
//
//   - drops entries at or older than now - window,
//   - rejects when the remaining count has reached the limit, without
//     recording the attempt,
//   - otherwise records the request and refreshes the record's expiry to
//     one window.
//
// On rejection the retry hint is window - ceil((now - oldest) / 1s), the
// time until the oldest counted entry leaves the window. The hint is
// reported exactly as computed and is not clamped.
//
// Unlike fixed-window counters the window moves continuously with the
// clock, so there is no burst at bucket boundaries.
//
// # Core Types
//
// Policy defines the limit:
//
//   - Window: the length of the sliding window, in whole seconds
//   - Limit: the maximum number of admissions in any window
//
// Identifiers are plain strings (a user id, an API key, a client address).
//
// # Backends
//
//   - RedisLimiter: a distributed limiter. The prune/count/decide/write cycle
//     runs as a single Lua script, so Redis linearizes concurrent evaluations
//     of the same key and the limit holds across any number of processes.
//
//   - MemoryLimiter: an in-process limiter running the same admission step
//     over a Go map. Useful for tests and single-instance deployments.
//
// # Sessions and Reconnection
//
// A RedisLimiter owns a Session, which owns the pooled go-redis client. The
// session is in one of three states:
//
//	connected --(connection error)--> reconnecting --(ping ok)--> connected
//	                                        |
//	                                        +--(refused / retry time exceeded)--> failed
//
// While reconnecting the session pings the store, waiting min(n*Step, Cap)
// after the n-th failed attempt (200ms and 3s by default). It gives up when
// the store actively refuses the connection or when MaxRetryTime (60s by
// default) has passed. Failed is terminal: build a new limiter to recover.
//
// Calls made while the session is not connected fail immediately with a
// *StoreError wrapping ErrNotConnected or ErrSessionFailed. Nothing is queued.
//
// Connection events are delivered on Errors(): a *StoreError when the
// connection is lost and for each failed attempt, and a *FatalError when the
// session fails. Delivery never blocks; events are dropped while the channel
// buffer is full.
//
// # Context and Error Policy
//
// Allow and Try accept a context.Context which is passed through to Redis.
// A call abandoned by its caller may still have been recorded as admitted;
// the script is never rolled back.
//
// This package does not impose a "fail open" vs "fail closed" policy. If the
// store is unavailable Try returns a *StoreError and the caller decides.
//
// # Storage Details
//
// Records are Redis sorted sets stored under:
//
//	"{prefix}::{id}"              e.g. credo::rate-limiter::user_123
//	"{prefix}::{namespace}::{id}" when Config.Namespace is set
//
// The key expires one window after its last admission so idle identifiers
// do not leak memory. The script is sent with EVALSHA and reloaded
// automatically if the script cache was flushed.
//
// # Configuration
//
// Limiters are configured with a Config plus functional options:
//
//	l, err := limiter.NewRedisLimiter(limiter.Config{
//		Name:  "api",
//		Redis: limiter.RedisConfig{Host: "localhost", Port: 6379},
//	},
//		limiter.WithPrefix("myapp::rate"),
//		limiter.WithTimeout(2*time.Second),
//		limiter.WithRecorder(myMetrics),
//		limiter.WithLogger(slog.Default()),
//	)
//
// Supported options:
//
//   - WithPrefix(string): fixed key prefix (default "credo::rate-limiter").
//   - WithTimeout(time.Duration): per round-trip timeout (default 5s).
//   - WithRecorder(MetricsRecorder): telemetry sink.
//   - WithLogger(*slog.Logger): structured logger (default discards).
//   - WithClock(clock.Clock): timestamp source.
//   - WithTokenFunc(func() string): per-call token generator (default UUIDv4).
//   - WithReconnectPolicy(ReconnectPolicy): overrides Config.Reconnect.
//   - WithErrorBuffer(int): capacity of the Errors channel (default 16).
package limiter
