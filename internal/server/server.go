// Package server is a small HTTP service that puts a rate limiter in front
// of its routes.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/herculesinc/credo.rate-limiter/pkg/limiter"
)

type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// FailOpen admits requests when the limiter cannot reach its store.
	FailOpen bool
	// State reports the store connection for /health; nil means no store.
	State  func() limiter.State
	Key    KeyFunc
	Logger *slog.Logger
}

type Server struct {
	server *http.Server
	logger *slog.Logger
}

func New(l limiter.RateLimiter, policy limiter.Policy, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(l, policy, opts),
			ReadTimeout:       opts.ReadTimeout,
			WriteTimeout:      opts.WriteTimeout,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: opts.Logger,
	}
}

// NewRouter builds the route table: /health is never limited, /ping is.
func NewRouter(l limiter.RateLimiter, policy limiter.Policy, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler(opts.State))

	r.Group(func(r chi.Router) {
		r.Use(RateLimit(l, policy, opts.Key, opts.FailOpen, logger))
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("Pong!\n"))
		})
	})
	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Store  string `json:"store"`
}

func healthHandler(state func() limiter.State) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Store: "memory"}
		code := http.StatusOK
		if state != nil {
			st := state()
			resp.Store = st.String()
			if st != limiter.StateConnected {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start serves until Shutdown and returns http.ErrServerClosed then.
func (s *Server) Start() error {
	s.logger.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
