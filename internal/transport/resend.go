package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/sungwon/mailer/internal/mail"
)

// Resend delivers mail through the Resend API.
type Resend struct {
	client *resend.Client
}

// NewResend creates a Resend transport. A configured Endpoint overrides the
// API base URL.
func NewResend(cfg Config) (*Resend, error) {
	client := resend.NewClient(cfg.APIKey)
	if cfg.Endpoint != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.Endpoint, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("resend: parse endpoint: %w", err)
		}
		client.BaseURL = base
	}
	return &Resend{client: client}, nil
}

func (r *Resend) Name() string { return "resend" }

// Deliver sends the payload with the Resend emails API.
func (r *Resend) Deliver(ctx context.Context, p *Payload) (*mail.Response, error) {
	params := &resend.SendEmailRequest{
		From:    p.From,
		To:      p.To,
		Cc:      p.Cc,
		Bcc:     p.Bcc,
		Subject: p.Subject,
		Html:    p.HTML,
		Text:    p.Text,
		Headers: p.Headers,
	}
	if p.Type != "" {
		params.Tags = []resend.Tag{{Name: "type", Value: sanitizeTag(p.Type)}}
	}

	resp, err := r.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return nil, classifyResendError(err)
	}

	return success(resp.Id, map[string]string{"accepted_at": timestamp()}), nil
}

// classifyResendError maps client errors onto Error. The client reports API
// failures as plain errors, so the status is recovered from the message.
func classifyResendError(err error) *Error {
	msg := err.Error()
	te := &Error{Transport: "resend", Code: "EPROVIDER", Message: msg, Err: err}

	switch {
	case containsAny(msg, "401", "403", "unauthorized", "forbidden", "invalid api key"):
		te.Code, te.Permanent = "EAUTH", true
	case containsAny(msg, "422", "validation", "invalid"):
		te.Code, te.Permanent = "EMESSAGE", true
	case containsAny(msg, "429", "rate limit"):
		te.Code = "ERATELIMIT"
	}

	for _, status := range []int{401, 403, 422, 429, 500, 502, 503} {
		if strings.Contains(msg, fmt.Sprintf("%d", status)) {
			te.Status = status
			break
		}
	}
	return te
}

// sanitizeTag keeps tag values within the ASCII letters, digits, underscores
// and dashes the API accepts.
func sanitizeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
