package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wudi/fngate/internal/config"
)

// Server runs the gateway behind an http.Server with graceful shutdown.
type Server struct {
	gateway    *Gateway
	cfg        *config.Config
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates the gateway and its HTTP server.
func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	gw, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Server{
		gateway: gw,
		cfg:     cfg,
		logger:  logger,
		httpServer: &http.Server{
			Handler:     gw.Handler(),
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 60 * time.Second,
		},
	}, nil
}

// Gateway returns the underlying gateway.
func (s *Server) Gateway() *Gateway {
	return s.gateway
}

// Run binds the configured address and serves until SIGINT or SIGTERM, then
// shuts down gracefully: stop accepting, drain in-flight requests, tear down
// every warm backend instance.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.cfg.Address(), err)
	}
	s.logger.Info("gateway listening",
		zap.String("address", s.cfg.Address()),
		zap.Int("functions", len(s.cfg.Functions)),
	)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		s.logger.Info("shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	if err := s.Shutdown(30 * time.Second); err != nil {
		return err
	}
	return g.Wait()
}

// Shutdown drains the HTTP server and tears down backend instances.
func (s *Server) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown", zap.Error(err))
	}
	if err := s.gateway.Close(); err != nil {
		s.logger.Error("backend teardown", zap.Error(err))
		return err
	}
	s.logger.Info("shutdown complete")
	return nil
}
