package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailer/internal/archive"
	"github.com/sungwon/mailer/internal/auth"
	"github.com/sungwon/mailer/internal/queue"
)

// Token scopes checked per route group.
const (
	ScopeSend  = auth.ScopeSend
	ScopeRead  = auth.ScopeRead
	ScopeAdmin = auth.ScopeAdmin
)

// RouterConfig holds the dependencies of the HTTP API.
type RouterConfig struct {
	Mailer  MailService
	Records RecordReader
	// DLQ is optional; when nil the reprocess endpoint is not registered.
	DLQ queue.DeadLetterQueue
	// Archive is optional; when nil the raw message endpoint is not registered.
	Archive archive.Archive
	// JWT is optional; when nil the API is unauthenticated.
	JWT    *auth.JWTService
	Checks map[string]Checker
	Log    zerolog.Logger
}

// NewRouter creates a chi.Mux with all routes, middleware, and handlers configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(RecoverMiddleware(cfg.Log))

	// Health and metrics endpoints (no auth required)
	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(cfg.Checks))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWT != nil {
			r.Use(auth.BearerAuth(cfg.JWT))
		}

		r.With(auth.RequireScope(ScopeSend)).Post("/mails", SendHandler(cfg.Mailer))
		r.With(auth.RequireScope(ScopeSend)).Post("/mails/queue", QueueHandler(cfg.Mailer))

		r.With(auth.RequireScope(ScopeRead)).Get("/mails", ListHandler(cfg.Mailer, cfg.Records))
		r.With(auth.RequireScope(ScopeRead)).Get("/mails/{id}", GetHandler(cfg.Records))
		if cfg.Archive != nil {
			r.With(auth.RequireScope(ScopeRead)).Get("/mails/{id}/raw", RawHandler(cfg.Archive))
		}

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireScope(ScopeAdmin))
			r.Post("/mails/resend", ResendHandler(cfg.Mailer))
			r.Post("/mails/requeue", RequeueHandler(cfg.Mailer))
			if cfg.DLQ != nil {
				r.Post("/dlq/reprocess", DLQReprocessHandler(cfg.DLQ))
			}
		})
	})

	return r
}
