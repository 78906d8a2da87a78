package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/evidentta/controlverify/internal/infrastructure/config"
)

// Server is the HTTP front of the verification engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
	cfg        config.ServerConfig
}

func NewServer(cfg config.ServerConfig, services Services, db *pgxpool.Pool, rdb *redis.Client, logger *slog.Logger, extra ...Middleware) *Server {
	mux := http.NewServeMux()

	handler := NewHandler(services, logger)
	handler.RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", handleHealthz(db, rdb))

	mws := append([]Middleware{
		recoveryMiddleware(logger),
		requestIDMiddleware(),
		tracingMiddleware(otel.Tracer("api.rest")),
		loggingMiddleware(logger),
	}, extra...)
	root := chain(mux, mws...)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		mux:    mux,
		logger: logger,
		cfg:    cfg,
	}
}

// Handle mounts an extra endpoint (metrics, pprof) on the inner mux.
// Call before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Start serves until ctx is cancelled, then drains in-flight requests
// within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server draining")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
