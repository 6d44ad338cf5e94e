package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/herculesinc/credo.rate-limiter/internal/config"
	"github.com/herculesinc/credo.rate-limiter/internal/observability"
	"github.com/herculesinc/credo.rate-limiter/internal/server"
	"github.com/herculesinc/credo.rate-limiter/pkg/limiter"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var (
		port       int
		failClosed bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an HTTP service with rate limited routes",
		Long: `Starts an HTTP server whose /ping route is limited per client IP with
the configured policy. /health reports the store connection and Prometheus
metrics are served on the metrics port.`,
		Example: `  credo-limiter serve
  credo-limiter serve --config credo.yaml --port 8081`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := loadRuntime(flags)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			provider, err := observability.Setup(cfg.Metrics, serviceName)
			if err != nil {
				return err
			}
			defer provider.Shutdown(context.Background())

			b, err := newBackend(cfg, log, limiter.WithRecorder(observability.NewRecorder(provider.MeterProvider())))
			if err != nil {
				return err
			}
			defer b.close()

			opts := server.Options{
				Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				ReadTimeout:  cfg.Server.ReadTimeout,
				WriteTimeout: cfg.Server.WriteTimeout,
				FailOpen:     !failClosed,
				Logger:       log,
			}
			if b.session != nil {
				opts.State = b.session.State
				go drainErrors(b.session.Errors(), log)
				if err := observability.ObserveSession(provider.MeterProvider(), b.session); err != nil {
					log.Warn("session state gauge unavailable", "error", err)
				}
			}
			return run(cmd.Context(), server.New(b.limiter, cfg.ToPolicy(), opts), provider, cfg.Metrics, log)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().BoolVar(&failClosed, "fail-closed", false, "answer 503 instead of admitting when the store is unavailable")
	return cmd
}

// run serves until a signal arrives or a listener fails, then shuts both
// servers down.
func run(ctx context.Context, srv *server.Server, provider *observability.Provider, metrics config.MetricsConfig, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- srv.Start() }()

	var ms *observability.MetricsServer
	if provider.Enabled() {
		ms = observability.NewMetricsServer(metrics.Port, metrics.Path, provider, log)
		go func() { errCh <- ms.Start() }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if ms != nil {
		if err := ms.Shutdown(shutdownCtx); err != nil {
			log.Error("metrics server shutdown failed", "error", err)
		}
	}
	return runErr
}
