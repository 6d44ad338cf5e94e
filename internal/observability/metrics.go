package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// MetricsServer serves Prometheus metrics on a separate port.
type MetricsServer struct {
	server *http.Server
	logger *slog.Logger
}

func NewMetricsServer(port int, path string, provider *Provider, logger *slog.Logger) *MetricsServer {
	mux := http.NewServeMux()
	if provider.Enabled() {
		mux.Handle(path, provider.Handler())
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves until Shutdown. It returns http.ErrServerClosed on a
// graceful stop.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("starting metrics server", "addr", ms.server.Addr)
	return ms.server.ListenAndServe()
}

func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
