// Package server exposes the page fetcher over HTTP. The main listener answers
// every path and method with a fetch; an optional admin listener carries the
// health, readiness and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pagesource/api/schemas"
	"github.com/xkilldash9x/pagesource/internal/config"
	"github.com/xkilldash9x/pagesource/internal/observability"
)

// Server hosts the fetch and admin listeners.
type Server struct {
	cfg      config.ServerConfig
	fetcher  schemas.PageFetcher
	sessions schemas.SessionProvider
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// New creates a server. metrics may be nil.
func New(cfg config.ServerConfig, f schemas.PageFetcher, sessions schemas.SessionProvider, logger *zap.Logger, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		fetcher:  f,
		sessions: sessions,
		logger:   logger.Named("server"),
		metrics:  metrics,
	}
}

// Router builds the fetch router. Every path and method reaches the handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(rateLimit(s.cfg.RateLimit, s.cfg.RateBurst, func() {
		s.metrics.ObserveHTTP(http.StatusTooManyRequests)
	}))

	h := NewHandler(s.fetcher, s.logger, s.metrics, s.cfg.AbortOnDisconnect)
	r.Handle("/", h)
	r.Handle("/*", h)
	r.MethodNotAllowed(h.ServeHTTP)
	return r
}

// AdminRouter builds the router for /healthz, /readyz and /metrics.
func (s *Server) AdminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		state := s.sessions.State()
		if state != schemas.StateReady {
			http.Error(w, "browser "+state.String(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", s.metrics.Handler())
	return r
}

// Run binds the configured addresses and serves until ctx is done, then shuts
// down gracefully within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	mainLn, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}

	var adminLn net.Listener
	if s.cfg.AdminAddr != "" {
		adminLn, err = net.Listen("tcp", s.cfg.AdminAddr)
		if err != nil {
			mainLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", s.cfg.AdminAddr, err)
		}
	}
	return s.Serve(ctx, mainLn, adminLn)
}

// Serve is Run on listeners the caller already bound. adminLn may be nil.
func (s *Server) Serve(ctx context.Context, mainLn, adminLn net.Listener) error {
	servers := []*http.Server{{
		Handler:           s.Router(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}}
	listeners := []net.Listener{mainLn}
	if adminLn != nil {
		servers = append(servers, &http.Server{
			Handler:           s.AdminRouter(),
			ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		})
		listeners = append(listeners, adminLn)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range servers {
		srv, ln := servers[i], listeners[i]
		s.logger.Info("Listening.", zap.String("address", ln.Addr().String()))
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", ln.Addr(), err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutting down HTTP listeners gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 30 * time.Second
}
