package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rendis/blockflow/internal/blocks"
	"github.com/rendis/blockflow/internal/engine"
	"github.com/rendis/blockflow/internal/guards"
	"github.com/rendis/blockflow/internal/logging"
	"github.com/rendis/blockflow/internal/state"
	"github.com/rendis/blockflow/internal/validation"
	"github.com/rendis/blockflow/pkg/mcp"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		printVersion()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "blockflow:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	serializer := state.NewSerializer(state.SerializerConfig{
		Compress:          cfg.Compress,
		MinCompressSize:   cfg.MinCompressSize,
		EncryptionKeyID:   cfg.EncryptionKeyID,
		EncryptionKeyBits: cfg.EncryptionKeyBits,
	})

	guardRegistry, err := guards.DefaultRegistry()
	if err != nil {
		return fmt.Errorf("build guard registry: %w", err)
	}

	eng, err := engine.New(engine.Options{
		Blocks:              blocks.DefaultRegistry(),
		Guards:              guards.NewEvaluator(guardRegistry, logger),
		Serializer:          serializer,
		Store:               store,
		Monitor:             engine.NewSlogMonitor(logger),
		Logger:              logger,
		MaxConcurrentBlocks: cfg.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer eng.Close()

	parser, err := validation.NewParser()
	if err != nil {
		return fmt.Errorf("build parser: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retention, err := state.NewRetention(store, state.RetentionConfig{
		Schedule: cfg.RetentionSchedule,
		MaxAge:   time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}, logger)
	if err != nil {
		return fmt.Errorf("build retention: %w", err)
	}
	if err := retention.Start(ctx); err != nil {
		return fmt.Errorf("start retention: %w", err)
	}
	defer func() { _ = retention.Stop() }()

	srv := mcp.NewBlockflowServer(mcp.BlockflowServerDeps{
		Engine: eng,
		Parser: parser,
		Store:  store,
		Logger: logger,
	})

	logger.Info("blockflow engine started",
		slog.String("version", version),
		slog.String("db_path", cfg.DBPath),
		slog.Int("pool_size", cfg.PoolSize),
	)
	return srv.Serve(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	// Logs go to stderr; stdout carries the MCP stdio transport.
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

func newStore(cfg Config) (state.Manager, error) {
	if cfg.DBPath == "" || cfg.DBPath == "memory" {
		return state.NewMemoryManager(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	mgr, err := state.NewLibSQLManager("file:" + cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	return mgr, nil
}
