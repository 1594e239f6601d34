package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/townhall/pkg/version"
)

const shutdownTimeout = 10 * time.Second

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(s.ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.HTTPAddr, err)
	}
	return s.Serve(ctx, l)
}

// Serve seeds the configured towns, serves the API on l and blocks until
// ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	defer func() { _ = s.journal.Store().Close() }()

	// Load towns from YAML config if provided
	if s.cfg.TownsFile != "" {
		if _, err := LoadTownsFromYAML(s.cfg.TownsFile, s.towns); err != nil {
			slog.Error("failed to load towns config", "err", err)
		}
	}

	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("townhall server running",
		"http", l.Addr().String(),
		"metrics", s.cfg.MetricsAddr,
		"version", version.Full(),
	)

	// Start Prometheus metrics HTTP endpoint
	s.StartMetricsHTTP()

	// Start periodic metrics logging (every 60s)
	s.metrics.StartPeriodicLog(60*time.Second, s.ctx.Done())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			s.Shutdown()
			return fmt.Errorf("server: serve: %w", err)
		}
	}

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the server. Websocket connections are hijacked
// and so are not waited for.
func (s *Server) Shutdown() {
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown", "err", err)
		}
	}
	s.cancel()
}
