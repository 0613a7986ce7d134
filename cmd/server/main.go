package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/T-SHELLY/aeroAR/internal/audio"
	"github.com/T-SHELLY/aeroAR/internal/auth"
	"github.com/T-SHELLY/aeroAR/internal/config"
	"github.com/T-SHELLY/aeroAR/internal/metrics"
	"github.com/T-SHELLY/aeroAR/internal/pipeline"
	"github.com/T-SHELLY/aeroAR/internal/server"
	"github.com/T-SHELLY/aeroAR/internal/store"
	"github.com/T-SHELLY/aeroAR/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "aeroar"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("http_port", cfg.HTTP.Port),
		slog.String("bind_address", cfg.HTTP.Address),
		slog.String("storage_root", cfg.Storage.Root),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("pipeline_workers", cfg.Pipeline.Workers),
		slog.Int("pipeline_queue_size", cfg.Pipeline.QueueSize),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()

	// Durable module store
	moduleStore, err := store.New(cfg.Storage.Root, logger)
	if err != nil {
		logger.Error("Failed to initialize module store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := moduleStore.EnsureDemo(); err != nil {
		logger.Error("Failed to create demo module", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Audio normalizer
	normalizer := audio.NewFFmpegNormalizer(audio.NormalizerConfig{
		FFmpegPath: cfg.Audio.FFmpegPath,
		SampleRate: cfg.Audio.SampleRate,
		Timeout:    cfg.Audio.GetConvertTimeoutDuration(),
	}, logger)

	// Transcription client
	transcriber, err := transcription.NewClient(transcription.Config{
		Endpoint: cfg.Transcription.Endpoint,
		APIKey:   cfg.Transcription.APIKey,
		Model:    cfg.Transcription.Model,
		Timeout:  cfg.Transcription.GetTimeoutDuration(),
	}, logger)
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Background processing pipeline
	proc := pipeline.New(pipeline.Deps{
		Store:       moduleStore,
		Normalizer:  normalizer,
		Transcriber: transcriber,
		Metrics:     appMetrics,
		Logger:      logger,
		ItemTimeout: cfg.Pipeline.GetItemTimeoutDuration(),
	})

	pool := pipeline.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize, logger)
	pool.Start()

	// Session service
	sessions, err := auth.NewSessions(cfg.Session.Secret, cfg.Session.GetTTLDuration())
	if err != nil {
		logger.Error("Failed to create session service", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// HTTP API server
	httpServer := server.NewHTTPServer(cfg, logger, moduleStore, proc, pool, sessions, appMetrics)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("http_address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	// Stop accepting new requests first, then let in-flight pipeline
	// work drain.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Error("Error draining pipeline pool", slog.String("error", err.Error()))
	}

	stats := transcriber.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
