package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/sungwon/mailer/internal/archive"
	"github.com/sungwon/mailer/internal/auth"
	"github.com/sungwon/mailer/internal/config"
	"github.com/sungwon/mailer/internal/logger"
	"github.com/sungwon/mailer/internal/mailer"
	"github.com/sungwon/mailer/internal/queue"
	"github.com/sungwon/mailer/internal/render"
	smtpserver "github.com/sungwon/mailer/internal/smtp"
	"github.com/sungwon/mailer/internal/store"
	"github.com/sungwon/mailer/internal/transport"
)

func main() {
	// Load configuration from the "config" directory.
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
	log.Info().Msg("starting SMTP ingress")

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

	var jwtService *auth.JWTService
	if cfg.API.JWT.SigningKey != "" {
		jwtService = auth.NewJWTService(auth.JWTConfig{
			SigningKey:        cfg.API.JWT.SigningKey,
			AccessTokenExpiry: cfg.API.JWT.AccessTokenExpiry,
			Issuer:            cfg.API.JWT.Issuer,
			Audience:          cfg.API.JWT.Audience,
		})
	} else {
		log.Warn().Msg("JWT signing key is not set; SMTP submissions are unauthenticated")
	}

	arch, err := archive.New(ctx, cfg.SMTP.Archive, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create raw message archive")
	}

	// Create SMTP backend with connection limit.
	smtpBackend := smtpserver.NewBackend(svc, jwtService, smtpserver.Config{
		MaxConnections: cfg.SMTP.MaxConnections,
		AllowedDomains: cfg.SMTP.AllowedDomains,
		Archive:        arch,
	}, log)

	s := gosmtp.NewServer(smtpBackend)
	s.Addr = fmt.Sprintf("%s:%d", cfg.SMTP.Host, cfg.SMTP.Port)
	s.Domain = cfg.SMTP.Domain
	s.ReadTimeout = cfg.SMTP.ReadTimeout
	s.WriteTimeout = cfg.SMTP.WriteTimeout
	s.MaxMessageBytes = cfg.SMTP.MaxMessageSize
	s.AllowInsecureAuth = cfg.SMTP.TLSCertFile == ""

	// Configure TLS if certificates are provided.
	if cfg.SMTP.TLSCertFile != "" && cfg.SMTP.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.SMTP.TLSCertFile, cfg.SMTP.TLSKeyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS certificate")
		}
		s.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		s.EnableSMTPUTF8 = true
	} else if jwtService != nil {
		log.Warn().Msg("SMTP AUTH is offered without TLS; configure smtp.tls_cert_file in production")
	}

	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", s.Addr).Msg("failed to listen")
	}

	go func() {
		log.Info().Str("addr", s.Addr).Msg("SMTP ingress listening")
		if err := s.Serve(ln); err != nil {
			log.Error().Err(err).Msg("SMTP server error")
		}
	}()

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down SMTP ingress")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("SMTP server shutdown error")
	}

	log.Info().Msg("SMTP ingress stopped")
}
