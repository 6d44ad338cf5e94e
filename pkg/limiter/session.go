package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second
)

// Config describes the store connection of a Session.
type Config struct {
	Name      string // logical name used in logs and metrics
	Namespace string // optional deployment namespace, part of every key
	Redis     RedisConfig
	Reconnect ReconnectPolicy
}

type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	Cluster      bool
	ClusterNodes []string
	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
}

// Session owns the pooled connection to Redis and runs the admission
// script on it. Calls made while the session is not connected fail
// immediately with a *StoreError; connection problems are reported on
// Errors() and never panic into callers.
type Session struct {
	name    string
	client  redis.UniversalClient
	policy  ReconnectPolicy
	timeout time.Duration
	dial    time.Duration
	logger  *slog.Logger
	probe   func(context.Context) error

	state   atomic.Int32
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	errs   chan error

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewSession validates cfg, builds the Redis client and probes it once.
// Connectivity problems do not fail construction; they start the reconnect
// loop and are reported on Errors().
func NewSession(cfg Config, opts ...Option) (*Session, error) {
	conf, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	policy := conf.Reconnect
	if o.reconnect != nil {
		policy = o.reconnect.withDefaults()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		name:    conf.Name,
		client:  newRedisClient(conf.Redis),
		policy:  policy,
		timeout: o.timeout,
		dial:    conf.Redis.DialTimeout,
		logger:  o.logger.With("limiter", conf.Name),
		probe:   o.probe,
		errs:    make(chan error, o.errorBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
	if s.probe == nil {
		s.probe = func(ctx context.Context) error {
			return s.client.Ping(ctx).Err()
		}
	}

	s.connect()
	return s, nil
}

func (s *Session) connect() {
	ctx, cancel := context.WithTimeout(s.ctx, s.dial)
	defer cancel()

	if err := s.probe(ctx); err != nil {
		if isConnRefused(err) {
			s.fail(ReasonConnectionRefused, 1, err)
			return
		}
		s.state.Store(int32(StateReconnecting))
		s.startReconnect(err)
		return
	}
	s.state.Store(int32(StateConnected))
	s.logger.Info("store connected")
}

// Name returns the logical name of the session.
func (s *Session) Name() string { return s.name }

// State returns the current connection state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Errors delivers connection notifications: a *StoreError for a lost
// connection and for every failed reconnect attempt, and a *FatalError
// when the reconnect policy gives up. Sends never block; notifications are
// dropped while the buffer is full. The channel is closed by Close.
func (s *Session) Errors() <-chan error {
	return s.errs
}

// Evaluate runs one atomic admission step for key.
func (s *Session) Evaluate(ctx context.Context, key, token string, timestamp, window, limit int64) (Result, error) {
	if err := s.available(); err != nil {
		return Result{}, &StoreError{Op: "evaluate", Err: err}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := evaluate(ctx, s.client, key, token, timestamp, window, limit)
	if err != nil {
		if isConnectionError(err) {
			s.connectionLost(err)
		}
		return Result{}, &StoreError{Op: "evaluate", Err: err}
	}
	return res, nil
}

func (s *Session) available() error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	switch st := s.State(); {
	case closed:
		return ErrClosed
	case st == StateFailed:
		return ErrSessionFailed
	case st != StateConnected:
		return ErrNotConnected
	default:
		return nil
	}
}

func (s *Session) connectionLost(err error) {
	if !s.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) {
		return
	}
	s.startReconnect(err)
}

func (s *Session) startReconnect(cause error) {
	s.logger.Warn("store connection lost", "error", cause)
	s.emit(&StoreError{Op: "connection", Err: cause})

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.wg.Add(1)
	go s.reconnect()
}

func (s *Session) reconnect() {
	defer s.wg.Done()

	attempt := 0
	err := retry.Do(s.ctx, s.policy.backoff(), func(ctx context.Context) error {
		attempt++
		pctx, cancel := context.WithTimeout(ctx, s.dial)
		defer cancel()

		err := s.probe(pctx)
		if err == nil {
			return nil
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}

		s.logger.Warn("store reconnect attempt failed",
			"attempt", attempt,
			"next_delay", s.policy.Delay(attempt),
			"error", err,
		)
		s.emit(&StoreError{Op: "reconnect", Attempt: attempt, Err: err})
		if isConnRefused(err) {
			return err
		}
		return retry.RetryableError(err)
	})

	switch {
	case err == nil:
		s.state.Store(int32(StateConnected))
		s.logger.Info("store reconnected", "attempts", attempt)
	case s.ctx.Err() != nil:
		// closed while reconnecting
	case isConnRefused(err):
		s.fail(ReasonConnectionRefused, attempt, err)
	default:
		s.fail(ReasonRetryExhausted, attempt, err)
	}
}

func (s *Session) fail(reason string, attempts int, err error) {
	s.state.Store(int32(StateFailed))
	s.logger.Error("store session failed", "reason", reason, "attempts", attempts, "error", err)
	s.emit(&FatalError{Reason: reason, Attempts: attempts, Err: err})
}

func (s *Session) emit(err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.errs <- err:
	default:
		n := s.dropped.Add(1)
		s.logger.Debug("error channel full, notification dropped", "dropped", n, "error", err)
	}
}

// Close stops any reconnect loop, closes the Redis client and the Errors
// channel. It is idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.cancel()
		s.wg.Wait()
		s.closeErr = s.client.Close()
		close(s.errs)
		if n := s.dropped.Load(); n > 0 {
			s.logger.Warn("store notifications dropped", "dropped", n)
		}
	})
	return s.closeErr
}

func normalizeConfig(cfg Config) (Config, error) {
	conf := cfg
	if conf.Name == "" {
		return conf, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}

	r := &conf.Redis
	if r.Cluster {
		if len(r.ClusterNodes) == 0 {
			return conf, fmt.Errorf("%w: cluster nodes are required when cluster is enabled", ErrInvalidConfig)
		}
	} else {
		if r.Host == "" {
			return conf, fmt.Errorf("%w: redis host is required", ErrInvalidConfig)
		}
		if r.Port <= 0 || r.Port > 65535 {
			return conf, fmt.Errorf("%w: redis port must be in 1..65535, got %d", ErrInvalidConfig, r.Port)
		}
	}
	if r.PoolSize <= 0 {
		r.PoolSize = defaultRedisPoolSize
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = defaultRedisMaxRetries
	}
	if r.DialTimeout <= 0 {
		r.DialTimeout = defaultRedisDialTimeout
	}

	conf.Reconnect = conf.Reconnect.withDefaults()
	return conf, nil
}

func newRedisClient(cfg RedisConfig) redis.UniversalClient {
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.ClusterNodes,
			Password:    cfg.Password,
			PoolSize:    cfg.PoolSize,
			MaxRetries:  cfg.MaxRetries,
			DialTimeout: cfg.DialTimeout,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:        cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	})
}
