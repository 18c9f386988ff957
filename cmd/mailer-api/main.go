package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sungwon/mailer/internal/api"
	"github.com/sungwon/mailer/internal/archive"
	"github.com/sungwon/mailer/internal/auth"
	"github.com/sungwon/mailer/internal/config"
	"github.com/sungwon/mailer/internal/logger"
	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/mailer"
	"github.com/sungwon/mailer/internal/queue"
	"github.com/sungwon/mailer/internal/render"
	"github.com/sungwon/mailer/internal/store"
	"github.com/sungwon/mailer/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, closeLog := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	defer func() { _ = closeLog() }()
	log.Info().Str("environment", cfg.Mailer.Environment).Msg("starting mailer API")

	ctx := context.Background()

	records, closeStore, err := store.New(ctx, cfg.StoreConfig(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open record store")
	}
	defer closeStore()

	tr, err := transport.New(cfg.TransportConfig(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create transport")
	}

	var renderer render.Renderer
	if tmpl, err := render.NewTemplatesDir(cfg.Mailer.TemplatesDir); err != nil {
		log.Warn().Err(err).Msg("templates unavailable, using supplied content only")
	} else {
		renderer = tmpl
	}

	backend, err := queue.New(ctx, cfg.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue backend")
	}
	defer func() { _ = backend.Close() }()

	svc := mailer.New(records, renderer, tr, mailer.Config{
		Defaults:          cfg.Defaults(),
		Environment:       cfg.Mailer.Environment,
		Fields:            cfg.Model.Fields,
		QueueName:         cfg.Queue.Name,
		ResendConcurrency: cfg.Mailer.ResendConcurrency,
	}, log, mailer.WithEnqueuer(backend.Enqueuer))

	svc.Events().OnQueueError(func(err error) {
		log.Warn().Err(err).Msg("queue error")
	})
	svc.Events().OnQueued(func(rec *mail.Record) {
		log.Debug().Str("id", rec.ID).Msg("mail queued")
	})

	var jwtService *auth.JWTService
	if cfg.API.JWT.SigningKey != "" {
		jwtService = auth.NewJWTService(auth.JWTConfig{
			SigningKey:        cfg.API.JWT.SigningKey,
			AccessTokenExpiry: cfg.API.JWT.AccessTokenExpiry,
			Issuer:            cfg.API.JWT.Issuer,
			Audience:          cfg.API.JWT.Audience,
		})
	} else {
		log.Warn().Msg("JWT signing key is not set; API is unauthenticated. Set MAILER_API_JWT_SIGNING_KEY in production")
	}

	arch, err := archive.New(ctx, cfg.SMTP.Archive, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open raw message archive")
	}

	checks := map[string]api.Checker{"queue": backend}
	if p, ok := svc.Store().(store.Pinger); ok {
		checks["store"] = p
	}

	router := api.NewRouter(api.RouterConfig{
		Mailer:  svc,
		Records: svc.Store(),
		DLQ:     backend.DLQ,
		Archive: arch,
		JWT:     jwtService,
		Checks:  checks,
		Log:     log,
	})

	// Configure HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
