package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/skypro1111/genai-relay/internal/audio"
	"github.com/skypro1111/genai-relay/internal/config"
	"github.com/skypro1111/genai-relay/internal/gemini"
	"github.com/skypro1111/genai-relay/internal/metrics"
	"github.com/skypro1111/genai-relay/internal/relay"
	"github.com/skypro1111/genai-relay/internal/server"
	"github.com/skypro1111/genai-relay/internal/upload"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "genai-relay"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file (empty: defaults and environment only)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", cfg.HTTP.Addr()),
		slog.String("cors_origin", cfg.HTTP.CORSOrigin),
		slog.Bool("rate_limit", cfg.RateLimit.Enabled),
		slog.String("chat_model", cfg.Gemini.ChatModel),
		slog.String("speech_model", cfg.Gemini.SpeechModel),
		slog.String("base_url", cfg.Gemini.BaseURL),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("channels", cfg.Audio.Channels),
		slog.String("upload_dir", cfg.Uploads.Dir),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize Prometheus metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry)
	logger.Info("Prometheus metrics initialized")

	client, err := gemini.New(ctx, gemini.Config{
		APIKey:        cfg.Gemini.APIKey,
		BaseURL:       cfg.Gemini.BaseURL,
		ChatModel:     cfg.Gemini.ChatModel,
		SpeechModel:   cfg.Gemini.SpeechModel,
		Timeout:       cfg.Gemini.GetTimeoutDuration(),
		MaxRetries:    cfg.Gemini.MaxRetries,
		MaxConcurrent: cfg.Gemini.MaxConcurrent,
	}, logger, gemini.WithMetrics(appMetrics))
	if err != nil {
		logger.Error("Failed to create Gemini client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	uploads, err := upload.NewStore(cfg.Uploads.Dir, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to create upload store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	relayer, err := relay.New(client, relay.Options{
		PlainTextInstruction:  cfg.Gemini.PlainTextInstruction,
		TranscriptionLanguage: cfg.Gemini.TranscriptionLanguage,
		DefaultVoice:          cfg.Gemini.DefaultVoice,
		Format: audio.FormatParams{
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		},
	}, appMetrics, logger)
	if err != nil {
		logger.Error("Failed to create relay", slog.String("error", err.Error()))
		os.Exit(1)
	}

	httpServer := server.NewHTTPServer(cfg, logger, relayer, uploads, client, appMetrics, registry)
	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("address", cfg.HTTP.Addr()),
	)

	<-ctx.Done()
	stop()

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.GetShutdownTimeoutDuration())
	defer shutdownCancel()

	// Stop accepting requests first, then let upstream calls drain
	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	if err := client.Close(shutdownCtx); err != nil {
		logger.Error("Upstream requests still in flight at shutdown", slog.String("error", err.Error()))
	}

	stats := client.Stats()
	logger.Info("Final upstream statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
		slog.Uint64("total_retries", stats.TotalRetries),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
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

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
