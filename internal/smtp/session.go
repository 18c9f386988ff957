package smtp

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailer/internal/auth"
	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/metrics"
)

var (
	errAuthRequired = &gosmtp.SMTPError{
		Code:         530,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
		Message:      "Authentication required",
	}
	errAuthFailed = &gosmtp.SMTPError{
		Code:         535,
		EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
		Message:      "Authentication failed",
	}
)

// Session handles a single SMTP connection and implements the go-smtp
// Session interface. Each accepted message becomes a queued mail record.
type Session struct {
	ctx           context.Context
	log           zerolog.Logger
	backend       *Backend
	authenticated bool
	sender        string
	recipients    []string
}

// AuthMechanisms advertises PLAIN when the backend verifies tokens.
func (s *Session) AuthMechanisms() []string {
	if s.backend.jwt == nil {
		return nil
	}
	return []string{sasl.Plain}
}

// Auth handles SMTP AUTH. The password is an API bearer token that must
// grant the send scope; the username is informational.
func (s *Session) Auth(mech string) (sasl.Server, error) {
	if s.backend.jwt == nil || mech != sasl.Plain {
		return nil, gosmtp.ErrAuthUnsupported
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		return s.authPlain(username, password)
	}), nil
}

func (s *Session) authPlain(username, token string) error {
	claims, err := s.backend.jwt.ValidateToken(token)
	if err != nil {
		metrics.SMTPAuthAttemptsTotal.WithLabelValues("failure").Inc()
		s.log.Warn().Err(err).Str("username", username).Msg("auth failed: invalid token")
		return errAuthFailed
	}
	if !claims.HasScope(auth.ScopeSend) {
		metrics.SMTPAuthAttemptsTotal.WithLabelValues("failure").Inc()
		s.log.Warn().Str("username", username).Str("client", claims.Subject).Msg("auth failed: missing send scope")
		return errAuthFailed
	}

	metrics.SMTPAuthAttemptsTotal.WithLabelValues("success").Inc()
	s.authenticated = true
	s.ctx = auth.WithClaims(s.ctx, claims)
	s.log = s.log.With().Str("client", claims.Subject).Logger()
	s.log.Info().Str("username", username).Msg("auth successful")
	return nil
}

// Mail handles the MAIL FROM command. It validates that the session is
// authenticated and that the sender domain is allowed.
func (s *Session) Mail(from string, _ *gosmtp.MailOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}

	addr, ok := parseAddress(from)
	if !ok {
		s.log.Warn().Str("from", from).Msg("invalid sender address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender address",
		}
	}

	domain := ExtractDomain(addr)
	if !domainAllowed(s.backend.cfg.AllowedDomains, domain) {
		s.log.Warn().
			Str("from", addr).
			Str("domain", domain).
			Strs("allowed", s.backend.cfg.AllowedDomains).
			Msg("sender domain not allowed")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "Sender domain not allowed",
		}
	}

	s.sender = addr
	s.log.Debug().Str("from", s.sender).Msg("MAIL FROM accepted")
	return nil
}

// Rcpt handles the RCPT TO command.
func (s *Session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if !s.authenticated {
		return errAuthRequired
	}

	addr, ok := parseAddress(to)
	if !ok {
		s.log.Warn().Str("to", to).Msg("invalid recipient address format")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}

	s.recipients = append(s.recipients, addr)
	s.log.Debug().Str("to", addr).Msg("RCPT TO accepted")
	return nil
}

// Data handles the DATA command. The message is parsed into a mail input
// and queued. Message bodies are never logged.
func (s *Session) Data(r io.Reader) error {
	if !s.authenticated {
		return errAuthRequired
	}
	if len(s.recipients) == 0 {
		return &gosmtp.SMTPError{
			Code:         503,
			EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	var raw bytes.Buffer
	if _, err := io.Copy(&raw, r); err != nil {
		s.log.Error().Err(err).Msg("failed to read message data")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error reading message",
		}
	}

	sub, err := parseMessage(bytes.NewReader(raw.Bytes()))
	if err != nil {
		metrics.SMTPMessagesTotal.WithLabelValues("rejected").Inc()
		s.log.Warn().Err(err).Msg("failed to parse message")
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "Malformed message",
		}
	}

	rec, err := s.backend.submitter.Queue(s.ctx, sub.input(s.sender, s.recipients), mail.Options{Fake: sub.Fake})
	switch {
	case err == nil:
	case errors.Is(err, mail.ErrValidation), errors.Is(err, mail.ErrMissingContent):
		metrics.SMTPMessagesTotal.WithLabelValues("rejected").Inc()
		s.log.Warn().Err(err).Msg("message rejected")
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      err.Error(),
		}
	case rec != nil:
		// Persisted but not enqueued; requeue picks it up.
		s.log.Warn().Err(err).Str("id", rec.ID).Msg("message stored but not enqueued")
	default:
		metrics.SMTPMessagesTotal.WithLabelValues("failed").Inc()
		s.log.Error().Err(err).Msg("failed to queue message")
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
			Message:      "Error queuing message",
		}
	}

	if a := s.backend.cfg.Archive; a != nil {
		if err := a.Put(s.ctx, rec.ID, raw.Bytes()); err != nil {
			s.log.Warn().Err(err).Str("id", rec.ID).Msg("failed to archive raw message")
		}
	}

	metrics.SMTPMessagesTotal.WithLabelValues("queued").Inc()
	s.log.Info().
		Str("id", rec.ID).
		Str("from", s.sender).
		Int("recipient_count", len(s.recipients)).
		Msg("message queued")
	return nil
}

// Reset is called between messages in the same session. It clears the sender
// and recipients but preserves the authentication state.
func (s *Session) Reset() {
	s.sender = ""
	s.recipients = nil
}

// Logout is called when the client disconnects.
func (s *Session) Logout() error {
	s.backend.active.Add(-1)
	metrics.SMTPActiveSessions.Dec()
	s.log.Info().Msg("session closed")
	return nil
}
