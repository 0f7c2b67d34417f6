package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ireland-samantha/npc-relay/internal/metrics"
	"github.com/ireland-samantha/npc-relay/internal/ratelimit"
)

// shutdownTimeout bounds how long in-flight requests may finish after Run's
// context is cancelled.
const shutdownTimeout = 15 * time.Second

const (
	routeConversation = "/conversation"
	routeClear        = "/clear_conversation"
	routeHealth       = "/healthz"
	routeMetrics      = "/metrics"
)

// Config configures a Server.
type Config struct {
	Addr     string
	APIToken string

	// DefaultLimits apply to each client across all conversation routes.
	DefaultLimits []ratelimit.Limit
	// EndpointLimits apply to each client on each conversation route.
	EndpointLimits []ratelimit.Limit

	Handler HandlerOptions

	Metrics      *metrics.Metrics
	ServeMetrics bool
}

// Server is the relay's HTTP front end.
type Server struct {
	addr     string
	handler  http.Handler
	limiters []*ratelimit.Limiter
	logger   *slog.Logger
}

// New builds the routes and middleware for the relay.
func New(cfg Config, conversations Conversations, logger *slog.Logger) *Server {
	h := NewHandler(conversations, cfg.Handler, logger)

	global := ratelimit.New(cfg.DefaultLimits...)
	s := &Server{
		addr:     cfg.Addr,
		limiters: []*ratelimit.Limiter{global},
		logger:   logger,
	}

	protected := func(route string, fn http.HandlerFunc) http.Handler {
		endpoint := ratelimit.New(cfg.EndpointLimits...)
		s.limiters = append(s.limiters, endpoint)
		return chain(fn,
			RequestID(logger),
			Observe(route, cfg.Metrics, logger),
			global.Middleware(ratelimit.ClientIP),
			endpoint.Middleware(ratelimit.ClientIP),
			BearerAuth(cfg.APIToken),
		)
	}

	mux := http.NewServeMux()
	mux.Handle("POST "+routeConversation, protected(routeConversation, h.HandleConversation))
	mux.Handle("POST "+routeClear, protected(routeClear, h.HandleClearConversation))
	mux.HandleFunc("GET "+routeHealth, h.HandleHealth)
	if cfg.ServeMetrics && cfg.Metrics != nil {
		mux.Handle("GET "+routeMetrics, cfg.Metrics.Handler())
	}

	s.handler = mux
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SweepLimiters drops rate limit state for clients idle longer than idle.
func (s *Server) SweepLimiters(idle time.Duration) int {
	removed := 0
	for _, l := range s.limiters {
		removed += l.Sweep(idle)
	}
	return removed
}

// Run serves HTTP and blocks until the context is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}
