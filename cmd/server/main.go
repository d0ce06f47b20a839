package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/kunci115/RealtimeSTT/internal/audio"
	"github.com/kunci115/RealtimeSTT/internal/config"
	"github.com/kunci115/RealtimeSTT/internal/metrics"
	"github.com/kunci115/RealtimeSTT/internal/policy"
	"github.com/kunci115/RealtimeSTT/internal/recognition"
	"github.com/kunci115/RealtimeSTT/internal/server"
	"github.com/kunci115/RealtimeSTT/internal/session"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "realtime-stt-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	dataPort := flag.Int("data-port", 0, "WebSocket data port (overrides config)")
	verifyData := flag.Bool("verify-data-integrity", false, "Verify checksums of frames that request it")
	rejectCorrupted := flag.Bool("reject-corrupted-data", false, "Disconnect clients after repeated corruption")
	corruptionThreshold := flag.Uint("corruption-threshold", 0, "Failing frames tolerated before rejection")
	extendedLogging := flag.Bool("extended-logging", false, "Log passing verifications as well as failures")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file only when set explicitly
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "data-port":
			cfg.Server.DataPort = *dataPort
		case "verify-data-integrity":
			cfg.Policy.VerifyDataIntegrity = *verifyData
		case "reject-corrupted-data":
			cfg.Policy.RejectCorruptedData = *rejectCorrupted
		case "corruption-threshold":
			cfg.Policy.CorruptionThreshold = uint32(*corruptionThreshold)
		case "extended-logging":
			cfg.Policy.ExtendedLogging = *extendedLogging
		}
	})

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	if cfg.Policy.RejectCorruptedData && !cfg.Policy.VerifyDataIntegrity {
		logger.Warn("reject_corrupted_data has no effect while verify_data_integrity is off")
	}

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("data_port", cfg.Server.DataPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("vad_threshold", float64(cfg.VAD.Threshold)),
		slog.Bool("verify_data_integrity", cfg.Policy.VerifyDataIntegrity),
		slog.Bool("reject_corrupted_data", cfg.Policy.RejectCorruptedData),
		slog.Uint64("corruption_threshold", uint64(cfg.Policy.CorruptionThreshold)),
		slog.String("recognition_endpoint", cfg.Recognition.Endpoint),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Initialize recognition client
	recognizer, err := recognition.NewClient(recognition.Config{
		Endpoint:      cfg.Recognition.Endpoint,
		APIKey:        cfg.Recognition.APIKey,
		Language:      cfg.Recognition.Language,
		Timeout:       cfg.Recognition.GetTimeoutDuration(),
		MaxRetries:    cfg.Recognition.MaxRetries,
		MaxConcurrent: cfg.Recognition.MaxConcurrent,
	}, appMetrics)
	if err != nil {
		logger.Error("Failed to create recognition client", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Recognition client initialized",
		slog.String("endpoint", cfg.Recognition.Endpoint),
		slog.Int("max_concurrent", cfg.Recognition.MaxConcurrent),
	)

	// Create session manager configuration
	sessionConfig := session.ManagerConfig{
		MaxSessions:    cfg.Server.MaxSessions,
		SessionTimeout: cfg.Server.GetSessionTimeoutDuration(),
		Policy: policy.Config{
			VerifyEnabled:       cfg.Policy.VerifyDataIntegrity,
			RejectEnabled:       cfg.Policy.RejectCorruptedData,
			CorruptionThreshold: cfg.Policy.CorruptionThreshold,
			ExtendedLogging:     cfg.Policy.ExtendedLogging,
		},
		Assembler: audio.AssemblerConfig{
			SampleRate:      cfg.Audio.SampleRate,
			MinDuration:     cfg.Audio.GetMinUtteranceDuration(),
			MaxDuration:     cfg.Audio.GetMaxUtteranceDuration(),
			SilenceDuration: cfg.Audio.GetSilenceDuration(),
		},
		VADThreshold:       cfg.VAD.Threshold,
		VADWindowSize:      cfg.VAD.WindowSize,
		RecognitionTimeout: cfg.Recognition.GetTimeoutDuration(),
		MaxRetries:         cfg.Recognition.MaxRetries,
	}

	// Initialize session manager
	sessionMgr, err := session.NewManager(logger, sessionConfig, recognizer, appMetrics)
	if err != nil {
		logger.Error("Failed to create session manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session manager initialized",
		slog.Duration("session_timeout", cfg.Server.GetSessionTimeoutDuration()),
		slog.Int("max_sessions", cfg.Server.MaxSessions),
	)

	// Initialize WebSocket data server
	wsServer := server.NewWSServer(&cfg.Server, logger, sessionMgr)
	logger.Info("WebSocket data server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, sessionMgr, wsServer, recognizer, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start WebSocket data server
	if err := wsServer.Start(); err != nil {
		logger.Error("Failed to start WebSocket data server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("data_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.DataPort)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop data server (close connections and stop accepting new ones)
	if err := wsServer.Stop(); err != nil {
		logger.Error("Error stopping WebSocket data server", slog.String("error", err.Error()))
	}

	// Stop session manager (cleanup sessions and stop background routines)
	sessionMgr.Stop()

	// Release recognition client resources
	recognizer.Close()

	// Get final statistics
	stats := wsServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("connections_accepted", stats.ConnectionsAccepted),
		slog.Uint64("connections_closed", stats.ConnectionsClosed),
		slog.Uint64("active_sessions", stats.ActiveSessions),
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
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output io.Writer
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// File path: rotate with lumberjack
		output = &lumberjack.Logger{
			Filename:   cfg.Output,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   false,
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
