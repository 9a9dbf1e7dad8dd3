// Package main provides regserver, a reference device registration service
// for local development and integration tests of push activation.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/relaypush/relaypush/internal/api"
	"github.com/relaypush/relaypush/internal/api/handler"
	"github.com/relaypush/relaypush/internal/api/middleware"
	"github.com/relaypush/relaypush/internal/config"
	"github.com/relaypush/relaypush/internal/database"
	"github.com/relaypush/relaypush/internal/registration"
	"github.com/relaypush/relaypush/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "relaypush-regserver"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log = log.Level(cfg.Level())

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting registration server")

	env := cfg.Telemetry.Environment
	if env == "" {
		env = telemetry.EnvironmentFromRelease(Version)
	}

	// Initialize OpenTelemetry
	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	var reporter middleware.PanicReporter
	if cfg.Telemetry.SentryDSN != "" {
		sentryReporter, rerr := telemetry.NewReporter(telemetry.ReporterConfig{
			DSN:         cfg.Telemetry.SentryDSN,
			Environment: env,
			Release:     serviceName + "@" + Version,
		})
		if rerr != nil {
			log.Fatal().Err(rerr).Msg("failed to initialize crash reporting")
		}
		defer sentryReporter.Close()
		log = log.Hook(sentryReporter.LogHook())
		reporter = sentryReporter
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	var (
		repo   registration.Repository
		checks []handler.Check
	)
	if cfg.Server.UseDatabase {
		dbConfig := database.ConfigFromEnv()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, registration.Schema); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")

		repo = registration.NewPostgresRepository(pool)
		checks = append(checks, handler.Check{Name: "postgres", Probe: pool.Ping})
	} else {
		repo = registration.NewInMemoryRepository()
		log.Warn().Msg("using in-memory registrations - data is lost on restart")
	}

	var publisher registration.Publisher = registration.NopPublisher{}
	if cfg.Server.PubsubProject != "" && cfg.Server.PubsubTopic != "" {
		pub, err := registration.NewPubSubPublisher(ctx, registration.PubSubConfig{
			ProjectID: cfg.Server.PubsubProject,
			TopicID:   cfg.Server.PubsubTopic,
			Logger:    log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create pubsub publisher")
		}
		defer pub.Close()
		publisher = pub
		log.Info().Str("topic", cfg.Server.PubsubTopic).Msg("publishing lifecycle events")
	}

	signingKey := cfg.Server.SigningKey
	if signingKey == "" {
		signingKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	if len(cfg.Server.APIKeys) == 0 {
		log.Warn().Msg("no API keys configured - registration is open to any caller")
	}

	service := registration.NewService(registration.ServiceConfig{
		Repository: repo,
		Tokens: registration.NewTokenIssuer(registration.TokenConfig{
			SigningKey: signingKey,
			Issuer:     serviceName,
			TTL:        cfg.Server.TokenTTL,
		}),
		Publisher: publisher,
		Logger:    log,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:    Version,
		BuildTime:  BuildTime,
		Logger:     log,
		Metrics:    metrics,
		Reporter:   reporter,
		Service:    service,
		APIKeys:    cfg.Server.APIKeys,
		RequireTLS: os.Getenv("REQUIRE_TLS") == "true",
		Checks:     checks,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
