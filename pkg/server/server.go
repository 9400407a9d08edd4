// Package server provides the operator HTTP API: provider snapshots,
// metric queries, alert rule management, rate limit introspection, and
// the Prometheus exposition endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/gateway"
)

// Server is the operator HTTP server. It exposes read endpoints over
// the gateway's components and the mutable alert rule CRUD surface.
type Server struct {
	config       *config.ServerConfig
	gw           *gateway.Gateway
	httpServer   *http.Server
	logger       *slog.Logger
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer creates a new operator server over an assembled gateway.
func NewServer(cfg *config.ServerConfig, gw *gateway.Gateway) *Server {
	return &Server{
		config:       cfg,
		gw:           gw,
		logger:       slog.Default().With("component", "server"),
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddress,
		Handler:      s.setupRoutes(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting operator server", "address", s.config.ListenAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	case <-s.shutdownChan:
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("operator server stopped")
	})

	return shutdownErr
}

// Stop requests a shutdown from outside the Start goroutine.
func (s *Server) Stop() {
	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler. Test use.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// setupRoutes registers all operator endpoints.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /v1/providers", s.handleListProviders)
	mux.HandleFunc("GET /v1/providers/snapshots", s.handleProviderSnapshots)

	mux.HandleFunc("GET /v1/metrics/aggregate", s.handleAggregate)
	mux.HandleFunc("GET /v1/metrics/timeseries", s.handleTimeSeries)

	mux.HandleFunc("GET /v1/alerts", s.handleListAlerts)
	mux.HandleFunc("GET /v1/alerts/{id}", s.handleGetAlert)
	mux.HandleFunc("POST /v1/alerts/{id}/acknowledge", s.handleAcknowledge)

	mux.HandleFunc("GET /v1/alerts/rules", s.handleListRules)
	mux.HandleFunc("POST /v1/alerts/rules", s.handleCreateRule)
	mux.HandleFunc("GET /v1/alerts/rules/{id}", s.handleGetRule)
	mux.HandleFunc("PUT /v1/alerts/rules/{id}", s.handleUpdateRule)
	mux.HandleFunc("DELETE /v1/alerts/rules/{id}", s.handleDeleteRule)

	mux.HandleFunc("GET /v1/ratelimit/remaining", s.handleRemaining)
	mux.HandleFunc("GET /v1/ratelimit/stats", s.handleLimitStats)

	if s.gw.Collector != nil {
		mux.Handle("GET /metrics", s.gw.Collector.Handler())
	}

	return s.logRequests(mux)
}

// logRequests logs each request at debug level.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.Debug("request handled", "method", r.Method, "path", r.URL.Path)
	})
}
