package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"brokerfund/config"
	"brokerfund/observability/logging"
	telemetry "brokerfund/observability/otel"
	"brokerfund/storage"
)

const envVar = "BROKERFUND_ENV"

func main() {
	configFile := flag.String("config", "./brokerd.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	env := strings.TrimSpace(os.Getenv(envVar))
	if env == "" {
		env = cfg.Environment
	}
	logger, closer := logging.SetupWithFile("brokerd", env, logging.FileConfig{Path: cfg.LogFile})
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, logger); err != nil {
		logger.Error("brokerd exited", slog.Any("error", err))
		closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, env string, logger *slog.Logger) error {
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "brokerd",
		Environment: env,
		ChainID:     cfg.ChainID,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("prepare data directory: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()

	n, err := newNode(ctx, cfg, db, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	logger.Info("brokerd starting",
		slog.String("listen", cfg.ListenAddress),
		slog.Uint64("chain_id", cfg.ChainID),
		slog.String("engine", cfg.EngineAddress))
	return n.server.Serve(ctx, cfg.ListenAddress)
}
