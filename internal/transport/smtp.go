package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/sungwon/mailer/internal/mail"
)

type sendMailFunc func(addr string, a sasl.Client, from string, to []string, r io.Reader) error

// SMTP relays mail to an SMTP server. STARTTLS is used when the server offers
// it; ImplicitTLS dials TLS directly.
type SMTP struct {
	addr        string
	username    string
	password    string
	implicitTLS bool
	send        sendMailFunc
}

// NewSMTP creates an SMTP transport from the given configuration.
func NewSMTP(cfg Config) *SMTP {
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	s := &SMTP{
		addr:        net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		username:    cfg.Username,
		password:    cfg.Password,
		implicitTLS: cfg.ImplicitTLS,
		send:        smtp.SendMail,
	}
	if s.implicitTLS {
		s.send = smtp.SendMailTLS
	}
	return s
}

func (s *SMTP) Name() string { return "smtp" }

// Deliver builds the MIME message and relays it to every envelope recipient.
func (s *SMTP) Deliver(ctx context.Context, p *Payload) (*mail.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := buildMessage(p, time.Now())
	if err != nil {
		return nil, &Error{Transport: "smtp", Code: "EMESSAGE", Message: err.Error(), Permanent: true, Err: err}
	}

	var auth sasl.Client
	if s.username != "" {
		auth = sasl.NewPlainClient("", s.username, s.password)
	}

	_, from := splitAddress(p.From)
	if err := s.send(s.addr, auth, from, bareAddresses(p.Recipients()), bytes.NewReader(msg)); err != nil {
		return nil, classifySMTPError(err)
	}

	return success(p.ID, map[string]string{
		"relay":       s.addr,
		"accepted_at": timestamp(),
	}), nil
}

func classifySMTPError(err error) *Error {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		code := "EENVELOPE"
		if smtpErr.Code == 535 || smtpErr.Code == 530 {
			code = "EAUTH"
		}
		return &Error{
			Transport: "smtp",
			Code:      code,
			Status:    smtpErr.Code,
			Message:   smtpErr.Message,
			Permanent: smtpErr.Code >= 500,
			Err:       err,
		}
	}
	return &Error{
		Transport: "smtp",
		Code:      "ECONNECTION",
		Message:   fmt.Sprintf("relay failed: %v", err),
		Err:       err,
	}
}
