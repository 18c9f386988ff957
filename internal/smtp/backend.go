package smtp

import (
	"context"
	"sync/atomic"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailer/internal/archive"
	"github.com/sungwon/mailer/internal/auth"
	"github.com/sungwon/mailer/internal/logger"
	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/metrics"
)

// Submitter accepts mails for asynchronous delivery. *mailer.Service
// implements it.
type Submitter interface {
	Queue(ctx context.Context, in *mail.Input, opts mail.Options) (*mail.Record, error)
}

// Config holds SMTP ingress limits and policy.
type Config struct {
	MaxConnections int
	// AllowedDomains restricts MAIL FROM domains; empty allows any.
	AllowedDomains []string
	// Archive, when set, keeps the raw message of every queued mail.
	Archive archive.Archive
}

// Backend implements the go-smtp Backend interface.
// It manages session creation and enforces connection limits.
type Backend struct {
	submitter Submitter
	jwt       *auth.JWTService
	cfg       Config
	log       zerolog.Logger
	active    atomic.Int64
}

// NewBackend creates an SMTP backend that queues every accepted message
// through submitter. When jwt is nil sessions are not authenticated.
func NewBackend(submitter Submitter, jwt *auth.JWTService, cfg Config, log zerolog.Logger) *Backend {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	return &Backend{
		submitter: submitter,
		jwt:       jwt,
		cfg:       cfg,
		log:       log,
	}
}

// NewSession is called after a client sends EHLO/HELO. It enforces connection
// limits and creates a new Session for the connection.
func (b *Backend) NewSession(conn *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if conn != nil {
		remote = conn.Hostname()
	}
	return b.newSession(remote)
}

func (b *Backend) newSession(remote string) (*Session, error) {
	current := b.active.Add(1)
	if int(current) > b.cfg.MaxConnections {
		b.active.Add(-1)
		metrics.SMTPConnectionsTotal.WithLabelValues("rejected").Inc()
		b.log.Warn().
			Int64("active", current-1).
			Int("max", b.cfg.MaxConnections).
			Msg("connection limit reached")
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 7, 0},
			Message:      "Too many connections",
		}
	}
	metrics.SMTPConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.SMTPActiveSessions.Inc()

	correlationID := logger.NewCorrelationID()
	sessionLog := b.log.With().
		Str("correlation_id", correlationID).
		Str("remote_addr", remote).
		Logger()
	ctx := logger.WithLogger(logger.WithCorrelationID(context.Background(), correlationID), sessionLog)

	sessionLog.Info().Msg("new SMTP session")

	return &Session{
		ctx:           ctx,
		log:           sessionLog,
		backend:       b,
		authenticated: b.jwt == nil,
	}, nil
}

// ActiveSessions returns the current number of active SMTP sessions.
func (b *Backend) ActiveSessions() int64 {
	return b.active.Load()
}
