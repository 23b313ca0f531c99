package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/caption-qos/internal/captioning"
	"github.com/lexiqai/caption-qos/internal/captions"
	"github.com/lexiqai/caption-qos/internal/compliance"
	"github.com/lexiqai/caption-qos/internal/config"
	"github.com/lexiqai/caption-qos/internal/events"
	"github.com/lexiqai/caption-qos/internal/observability"
	"github.com/lexiqai/caption-qos/internal/stream"
	"github.com/lexiqai/caption-qos/internal/stt"
	"github.com/lexiqai/caption-qos/internal/stt/mock"
	"github.com/lexiqai/caption-qos/internal/telephony"
	"github.com/lexiqai/caption-qos/internal/transcription"
)

var version = "dev"

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
		Str("recognizer", cfg.Recognizer).
		Bool("kafka_enabled", cfg.KafkaEnabled).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Caption QoS service starting")

	profiles := compliance.ProfilesFromConfig(cfg)
	if err := profiles.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid compliance profiles")
	}

	checks := map[string]observability.HealthCheckFunc{}

	// Recognition oracle
	var factory stt.Factory
	switch cfg.Recognizer {
	case config.RecognizerDeepgram:
		deepgram := stt.NewDeepgram(cfg)
		factory = deepgram.NewRecognizer
		checks["deepgram"] = deepgram.Ready
	default:
		factory = stt.Shared(mock.New())
	}

	// Event sink
	publisher := events.New(events.ConfigFromService(cfg), observability.WithComponent("events"))
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close event publisher")
		}
	}()
	checks["kafka"] = publisher.Ready

	transcripts := transcription.NewManager(factory, observability.WithComponent("transcription"))
	calls := telephony.NewManager(
		observability.WithComponent("telephony"),
		telephony.WithTranscriber(transcripts),
		telephony.WithThresholds(profiles.ThresholdsFor),
		telephony.WithLanguage(cfg.DefaultLanguage),
	)
	queue := captions.NewQueue(publisher, observability.WithComponent("captions"))
	evaluator := compliance.NewEvaluator(
		profiles,
		time.Duration(cfg.EmergencyAnswerTimeoutMs)*time.Millisecond,
		observability.WithComponent("compliance"),
	)
	svc := captioning.NewService(calls, transcripts, queue, evaluator, publisher, observability.WithComponent("captioning"))

	// Create HTTP server
	mux := http.NewServeMux()
	stream.NewHandler(svc, observability.WithComponent("stream")).Register(mux)

	mux.HandleFunc("/health", observability.HealthCheckHandler(version))
	mux.HandleFunc("/ready", observability.ReadinessHandler(version, checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. WriteTimeout is left unset so
	// long-lived caption streams are not cut off.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/captions", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	// End calls still open so their transcription sessions are released
	for _, call := range calls.List() {
		if call.Status != telephony.Ended {
			if _, err := svc.EndCall(call.ID); err != nil {
				logger.Error().Err(err).Str("call_id", call.ID).Msg("Failed to end call during shutdown")
			}
		}
	}

	logger.Info().Msg("Server exited gracefully")
}
