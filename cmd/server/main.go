package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do/v2"

	"github.com/lexiqai/encounter-scribe/internal/app"
	"github.com/lexiqai/encounter-scribe/internal/config"
	"github.com/lexiqai/encounter-scribe/internal/observability"
	"github.com/lexiqai/encounter-scribe/internal/pipeline"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("model", cfg.DeepgramModel).
		Str("classifier_mode", cfg.ClassifierMode).
		Bool("detection_enabled", cfg.DetectionEnabled).
		Bool("kafka_enabled", cfg.KafkaEnabled).
		Str("log_level", cfg.LogLevel).
		Msg("Encounter scribe starting")

	injector := app.NewInjector(cfg)
	session, err := do.Invoke[*pipeline.Session](injector)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build session")
	}

	input, err := openInput(cfg.AudioInput)
	if err != nil {
		logger.Fatal().Err(err).Str("input", cfg.AudioInput).Msg("Failed to open audio input")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(app.ReadinessChecks(injector)))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionDone := make(chan error, 1)
	go func() {
		logger.Info().Str("session_id", session.ID()).Str("input", cfg.AudioInput).Msg("Streaming audio")
		sessionDone <- session.Run(ctx, input)
	}()

	// Wait for interrupt signal or the end of the audio input
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info().Msg("Shutting down...")
		cancel()
		// Unblock a pending read on the input. A blocking stdin may not
		// return, so the wait is bounded.
		_ = input.Close()
		select {
		case err := <-sessionDone:
			if err != nil {
				logger.Error().Err(err).Msg("Session ended with error")
			}
		case <-time.After(10 * time.Second):
			logger.Warn().Msg("Session did not stop in time")
		}
	case err := <-sessionDone:
		if err != nil {
			logger.Error().Err(err).Msg("Session ended with error")
		} else {
			logger.Info().Msg("Audio input finished")
		}
		_ = input.Close()
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := app.Close(injector); err != nil {
		logger.Error().Err(err).Msg("Error releasing resources")
	}

	logger.Info().Msg("Server exited gracefully")
}

// openInput opens the PCM16 source; "-" selects stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}
