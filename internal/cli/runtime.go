package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/herculesinc/credo.rate-limiter/internal/config"
	"github.com/herculesinc/credo.rate-limiter/internal/logger"
	"github.com/herculesinc/credo.rate-limiter/pkg/limiter"
)

const serviceName = "credo-limiter"

func loadRuntime(flags *globalFlags) (*config.Config, *slog.Logger, io.Closer, error) {
	cfg, err := config.Load(flags.configPath, flags.envFile)
	if err != nil {
		return nil, nil, nil, err
	}
	log, closer, err := logger.Setup(cfg.Logging, serviceName)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, closer, nil
}

// backend is the limiter chosen by configuration. session is nil for the
// in-memory backend.
type backend struct {
	limiter limiter.RateLimiter
	session *limiter.Session
	close   func() error
}

func newBackend(cfg *config.Config, log *slog.Logger, extra ...limiter.Option) (*backend, error) {
	opts := append(cfg.LimiterOptions(), limiter.WithLogger(log))
	opts = append(opts, extra...)

	switch cfg.Limiter.Backend {
	case config.BackendMemory:
		return &backend{
			limiter: limiter.NewMemoryLimiter(opts...),
			close:   func() error { return nil },
		}, nil
	case config.BackendRedis:
		rl, err := limiter.NewRedisLimiter(cfg.ToLimiterConfig(), opts...)
		if err != nil {
			return nil, err
		}
		return &backend{limiter: rl, session: rl.Session(), close: rl.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Limiter.Backend)
	}
}

// drainErrors logs session notifications until the channel is closed.
func drainErrors(errs <-chan error, log *slog.Logger) {
	for err := range errs {
		var fatal *limiter.FatalError
		if errors.As(err, &fatal) {
			log.Error("rate limiter store gave up", "reason", fatal.Reason, "attempts", fatal.Attempts, "error", fatal.Err)
			continue
		}
		log.Warn("rate limiter store error", "error", err)
	}
}
