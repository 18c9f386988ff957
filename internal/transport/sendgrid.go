package transport

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sungwon/mailer/internal/mail"
)

const (
	sendgridDefaultEndpoint = "https://api.sendgrid.com"
	sendgridSendPath        = "/v3/mail/send"
)

// SendGrid delivers mail through the SendGrid v3 API.
type SendGrid struct {
	apiKey   string
	endpoint string
	client   HTTPClient
}

// NewSendGrid creates a SendGrid transport from the given configuration.
func NewSendGrid(cfg Config, client HTTPClient) *SendGrid {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = sendgridDefaultEndpoint
	}
	return &SendGrid{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		client:   client,
	}
}

func (s *SendGrid) Name() string { return "sendgrid" }

// Deliver posts the payload to the mail/send endpoint.
func (s *SendGrid) Deliver(ctx context.Context, p *Payload) (*mail.Response, error) {
	body, err := json.Marshal(s.buildPayload(p))
	if err != nil {
		return nil, fmt.Errorf("sendgrid: marshal request: %w", err)
	}

	resp, err := s.client.Do(ctx, &HTTPRequest{
		Method: "POST",
		URL:    s.endpoint + sendgridSendPath,
		Headers: map[string]string{
			"Authorization": "Bearer " + s.apiKey,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return nil, &Error{Transport: "sendgrid", Code: "ECONNECTION", Message: err.Error(), Err: err}
	}

	if te := ClassifyHTTPError("sendgrid", resp.StatusCode, string(resp.Body)); te != nil {
		return nil, te
	}

	res := success(resp.Headers["X-Message-Id"], map[string]string{
		"status_code": fmt.Sprintf("%d", resp.StatusCode),
		"accepted_at": timestamp(),
	})
	res.Status = resp.StatusCode
	return res, nil
}

// sendgridPayload matches the SendGrid v3 mail/send JSON schema.
type sendgridPayload struct {
	Personalizations []sendgridPersonalization `json:"personalizations"`
	From             sendgridEmail             `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendgridContent         `json:"content"`
	Headers          map[string]string         `json:"headers,omitempty"`
	Categories       []string                  `json:"categories,omitempty"`
}

type sendgridPersonalization struct {
	To  []sendgridEmail `json:"to"`
	Cc  []sendgridEmail `json:"cc,omitempty"`
	Bcc []sendgridEmail `json:"bcc,omitempty"`
}

type sendgridEmail struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendgridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

func (s *SendGrid) buildPayload(p *Payload) sendgridPayload {
	var content []sendgridContent
	if p.Text != "" {
		content = append(content, sendgridContent{Type: "text/plain", Value: p.Text})
	}
	if p.HTML != "" {
		content = append(content, sendgridContent{Type: "text/html", Value: p.HTML})
	}

	name, addr := splitAddress(p.From)
	payload := sendgridPayload{
		Personalizations: []sendgridPersonalization{{
			To:  sendgridEmails(p.To),
			Cc:  sendgridEmails(p.Cc),
			Bcc: sendgridEmails(p.Bcc),
		}},
		From:    sendgridEmail{Email: addr, Name: name},
		Subject: p.Subject,
		Content: content,
		Headers: p.Headers,
	}
	if p.Type != "" {
		payload.Categories = []string{p.Type}
	}
	return payload
}

func sendgridEmails(addrs []string) []sendgridEmail {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]sendgridEmail, len(addrs))
	for i, a := range addrs {
		name, addr := splitAddress(a)
		out[i] = sendgridEmail{Email: addr, Name: name}
	}
	return out
}
