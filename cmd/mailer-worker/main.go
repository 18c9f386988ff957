package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sungwon/mailer/internal/config"
	"github.com/sungwon/mailer/internal/logger"
	"github.com/sungwon/mailer/internal/mailer"
	"github.com/sungwon/mailer/internal/queue"
	"github.com/sungwon/mailer/internal/render"
	"github.com/sungwon/mailer/internal/store"
	"github.com/sungwon/mailer/internal/transport"
	"github.com/sungwon/mailer/internal/worker"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, closeLog := logger.NewFromConfig(logger.Config{
		Level:     cfg.Logging.Level,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	})
	defer func() { _ = closeLog() }()
	log.Info().Msg("starting queue worker")

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
	if tmpl, err := render.NewTemplatesDir(cfg.Mailer.TemplatesDir); err == nil {
		renderer = tmpl
	}

	backend, err := queue.New(ctx, cfg.Queue, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue backend")
	}
	defer func() { _ = backend.Close() }()

	svc := mailer.New(records, renderer, tr, mailer.Config{
		Defaults:    cfg.Defaults(),
		Environment: cfg.Mailer.Environment,
		Fields:      cfg.Model.Fields,
		QueueName:   cfg.Queue.Name,
	}, log, mailer.WithEnqueuer(backend.Enqueuer))

	w := worker.New(backend, worker.NewHandler(svc.Store(), svc, log), log,
		worker.WithConcurrency(cfg.Queue.Concurrency),
		worker.WithDebug(cfg.Mailer.Debug),
		worker.WithShutdownTimeout(cfg.Queue.ShutdownTimeout),
	)

	// SIGINT and SIGTERM are handled by the worker itself.
	if err := w.Start(ctx, nil); err != nil {
		log.Fatal().Err(err).Msg("failed to start queue worker")
	}
	log.Info().
		Int("concurrency", cfg.Queue.Concurrency).
		Str("queue", cfg.Queue.Name).
		Str("broker", cfg.Queue.Type).
		Msg("queue worker started")

	<-w.Done()

	log.Info().Msg("queue worker stopped")
}
