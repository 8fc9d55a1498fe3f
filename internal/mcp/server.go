package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/mcp-conform/internal/config"
	"github.com/a3tai/mcp-conform/internal/workflow"
)

const shutdownTimeout = 5 * time.Second

// Server represents the MCP server instance
type Server struct {
	config     *config.Config
	controller *workflow.Controller
	mcpServer  *server.MCPServer
	logger     *slog.Logger

	// stdio transport, replaced in tests
	stdin  io.Reader
	stdout io.Writer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, controller *workflow.Controller, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if controller == nil {
		return nil, errors.New("controller cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		config:     cfg,
		controller: controller,
		mcpServer:  mcpServer,
		logger:     logger,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server in the configured mode and blocks until ctx is
// cancelled or the transport fails
func (s *Server) Run(ctx context.Context) error {
	switch {
	case s.config.IsServerMode():
		return s.runServerMode(ctx)
	case s.config.IsStdioMode():
		return s.runStdioMode(ctx)
	default:
		return fmt.Errorf("unknown mode %q", s.config.Mode)
	}
}

func (s *Server) runStdioMode(ctx context.Context) error {
	s.logger.Debug("server.start", "mode", config.ModeStdio, "dir", s.config.DataDir)

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	err := stdio.Listen(ctx, s.stdin, s.stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

func (s *Server) runServerMode(ctx context.Context) error {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(s.config.BaseURL()))
	s.logger.Info("server.start", "mode", config.ModeServer, "address", s.config.Address(), "dir", s.config.DataDir)

	errCh := make(chan error, 1)
	go func() {
		errCh <- sse.Start(s.config.Address())
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("sse server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := sse.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("sse shutdown: %w", err)
		}
		s.logger.Info("server.stopped")
		return nil
	}
}
