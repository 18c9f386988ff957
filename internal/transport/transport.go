package transport

import (
	"context"
	"time"

	"github.com/sungwon/mailer/internal/mail"
)

// Transport hands a prepared mail to a delivery backend.
type Transport interface {
	// Deliver sends the payload and returns the backend's response. A
	// response whose Message is "success" marks the mail as sent.
	Deliver(ctx context.Context, p *Payload) (*mail.Response, error)
	// Name returns the transport identifier (e.g., "sendgrid", "smtp").
	Name() string
}

// Payload is the transport-facing view of a record. The derived sender is
// never included; transports work from From.
type Payload struct {
	ID      string
	Type    string
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	Text    string
	HTML    string
	Headers map[string]string
}

// PayloadFromRecord copies the deliverable fields of rec.
func PayloadFromRecord(rec *mail.Record) *Payload {
	return &Payload{
		ID:      rec.ID,
		Type:    rec.Type,
		From:    rec.From,
		To:      append([]string(nil), rec.To...),
		Cc:      append([]string(nil), rec.Cc...),
		Bcc:     append([]string(nil), rec.Bcc...),
		Subject: rec.Subject,
		Text:    rec.Text,
		HTML:    rec.HTML,
	}
}

// Recipients returns every envelope recipient: To, Cc and Bcc.
func (p *Payload) Recipients() []string {
	out := make([]string, 0, len(p.To)+len(p.Cc)+len(p.Bcc))
	out = append(out, p.To...)
	out = append(out, p.Cc...)
	out = append(out, p.Bcc...)
	return out
}

func success(id string, metadata map[string]string) *mail.Response {
	return &mail.Response{
		Message:  "success",
		ID:       id,
		Metadata: metadata,
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
