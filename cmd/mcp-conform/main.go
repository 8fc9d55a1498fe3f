package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/a3tai/mcp-conform/internal/config"
	"github.com/a3tai/mcp-conform/internal/index"
	"github.com/a3tai/mcp-conform/internal/locate"
	"github.com/a3tai/mcp-conform/internal/mcp"
	"github.com/a3tai/mcp-conform/internal/pdf"
	"github.com/a3tai/mcp-conform/internal/pdf/security"
	"github.com/a3tai/mcp-conform/internal/project"
	"github.com/a3tai/mcp-conform/internal/proposal"
	"github.com/a3tai/mcp-conform/internal/workflow"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// setupLogging builds the process logger. Logs always go to stderr; in stdio
// mode stdout carries the protocol, and logging is silenced unless debug is on.
func setupLogging(cfg *config.Config, stderr io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	out := stderr
	if cfg.IsStdioMode() && !cfg.IsDebug() {
		out = io.Discard
	}

	var handler slog.Handler
	if cfg.IsServerMode() {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{Level: level, AddSource: cfg.IsDebug()})
	} else {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", cfg.ServerName)
	slog.SetDefault(logger)
	return logger
}

// openStore opens the configured project store
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (project.Store, error) {
	if cfg.UsesMemoryStore() {
		return project.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), config.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return project.OpenSQLite(ctx, cfg.StorePath, logger)
}

// buildServer wires the document stack, the workflow controller and the MCP
// server. The returned cleanup closes the controller and the store.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*mcp.Server, func(), error) {
	paths, err := security.NewPathValidator(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	cache, err := index.NewCache(cfg.CacheDir)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	llm := proposal.NewClient(proposal.Config{
		APIKey:           cfg.LLMAPIKey,
		BaseURL:          cfg.LLMBaseURL,
		Model:            cfg.LLMModel,
		Timeout:          cfg.LLMTimeout,
		MaxDocumentChars: cfg.LLMMaxDocumentChars,
	}, logger.With("component", "proposal"))

	ctrl, err := workflow.New(workflow.Options{
		Registry:   pdf.NewRegistry(pdf.NewLedongthucEngine()),
		Validator:  pdf.NewValidator(cfg.MaxFileSize),
		Paths:      paths,
		Indexer:    index.NewIndexer(cfg.IndexPageThreshold, logger.With("component", "index")),
		Cache:      cache,
		Locator:    locate.New(cfg.Locator, logger.With("component", "locate")),
		Proposer:   llm,
		Verifier:   llm,
		Store:      store,
		Rasterizer: pdf.NewTextRasterizer(),
		Logger:     logger.With("component", "workflow"),
	})
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := ctrl.Close(); err != nil {
			logger.Warn("controller.close_failed", "error", err)
		}
		if err := store.Close(); err != nil {
			logger.Warn("store.close_failed", "error", err)
		}
	}

	server, err := mcp.NewServer(cfg, ctrl, logger.With("component", "mcp"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return server, cleanup, nil
}

// runServerMode handles server mode execution with signal handling
func runServerMode(ctx context.Context, cancel context.CancelFunc, server *mcp.Server, logger *slog.Logger) error {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signalCh)

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(ctx)
	}()

	select {
	case sig := <-signalCh:
		logger.Info("shutdown.signal", "signal", sig.String())
		cancel()
		if err := <-serverErrCh; err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
	case err := <-serverErrCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutdown.complete")
	return nil
}

// runStdioMode runs until stdin closes; the parent process controls our lifecycle
func runStdioMode(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx)
}

func run(ctx context.Context, cancel context.CancelFunc) error {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if version != "dev" {
		cfg.Version = version
	}

	logger := setupLogging(cfg, os.Stderr)
	logger.Debug("config.loaded", "config", cfg.String())

	server, cleanup, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer cleanup()

	if cfg.IsServerMode() {
		return runServerMode(ctx, cancel, server, logger)
	}
	return runStdioMode(ctx, server)
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion(os.Stdout)
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "MCP Conform\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", gitCommit)
	fmt.Fprintf(w, "Built with: %s\n", runtime.Version())
}
