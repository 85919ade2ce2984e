package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/config"
	"github.com/driftchat/drift/internal/gateway"
)

// Server manages the HTTP server carrying the websocket gateway.
type Server struct {
	http     *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewServer creates the server bound to the configured listen address.
func NewServer(p Params, cfg *config.Config, g *gateway.Gateway, logger *zap.Logger) (*Server, error) {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.Gateway.Listen
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Server{
		http:     &http.Server{Handler: g.Router()},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", zap.String("addr", s.Addr()))
	if err := s.http.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gateway stopping")
	_ = s.http.Shutdown(ctx)
}
