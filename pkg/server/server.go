// Package server owns the process lifecycle around a dispatch router: it
// wires the configured backend into the router, serves the metrics
// endpoint, and turns context cancellation into a graceful shutdown of
// everything it started.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mvailati/fusegate/internal/logger"
	"github.com/mvailati/fusegate/pkg/config"
	"github.com/mvailati/fusegate/pkg/dispatch"
	"github.com/mvailati/fusegate/pkg/metrics"
)

// Server bundles a router with the resources the process holds for it.
//
// Lifecycle:
//  1. Creation: New() with a loaded configuration
//  2. Startup: Serve() blocks until the context is cancelled
//  3. Shutdown: cancellation stops the metrics endpoint, then closes the
//     backend, bounded by the configured shutdown timeout
//
// Serve may be called once per instance.
type Server struct {
	cfg    *config.Config
	router *dispatch.Router
	closer io.Closer

	serveOnce sync.Once
}

// New creates the backend named by the configuration and a router over it.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	var m metrics.DispatchMetrics
	if cfg.Server.MetricsEnabled {
		metrics.InitRegistry()
		m = metrics.NewDispatchMetrics()
	}

	ops, closer, err := config.CreateBackend(ctx, &cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}

	return &Server{
		cfg:    cfg,
		router: dispatch.New(ops, &cfg.Mount, m),
		closer: closer,
	}, nil
}

// Router returns the dispatch router for transport integration.
func (s *Server) Router() *dispatch.Router {
	return s.router
}

// Serve runs until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	var err error
	called := false
	s.serveOnce.Do(func() {
		called = true
		err = s.serve(ctx)
	})
	if !called {
		return errors.New("server already served")
	}
	return err
}

func (s *Server) serve(ctx context.Context) error {
	defer func() {
		if s.closer != nil {
			if cerr := s.closer.Close(); cerr != nil {
				logger.Error("failed to close backend: %v", cerr)
			}
		}
	}()

	errCh := make(chan error, 1)
	var metricsSrv *http.Server

	if s.cfg.Server.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: s.cfg.Server.MetricsAddr, Handler: mux}

		go func() {
			logger.Info("metrics endpoint listening on %s", s.cfg.Server.MetricsAddr)
			if serr := metricsSrv.ListenAndServe(); serr != nil && serr != http.ErrServerClosed {
				errCh <- fmt.Errorf("metrics server failed: %w", serr)
			}
		}()
	}

	logger.Info("serving %s backend", s.cfg.Backend.Type)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if serr := metricsSrv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("metrics server shutdown: %v", serr)
		}
	}
	return ctx.Err()
}
