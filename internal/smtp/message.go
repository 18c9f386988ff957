package smtp

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"

	"github.com/sungwon/mailer/internal/mail"
)

// Headers that let SMTP clients pick a template type and request simulated
// delivery.
const (
	HeaderMailType = "X-Mail-Type"
	HeaderFake     = "X-Mail-Fake"
)

// submission is the part of an RFC 5322 message turned into a mail input.
type submission struct {
	From    string
	To      []string
	Cc      []string
	Subject string
	Text    string
	HTML    string
	Type    string
	Fake    bool
}

// parseMessage reads the headers and the first text/plain and text/html
// inline parts. Attachments are skipped.
func parseMessage(r io.Reader) (*submission, error) {
	mr, err := gomail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	sub := &submission{
		Type: strings.TrimSpace(mr.Header.Get(HeaderMailType)),
	}
	sub.Fake, _ = strconv.ParseBool(mr.Header.Get(HeaderFake))
	sub.Subject, _ = mr.Header.Subject()

	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		sub.From = from[0].String()
	}
	sub.To = headerAddresses(mr.Header, "To")
	sub.Cc = headerAddresses(mr.Header, "Cc")

	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read part: %w", err)
		}

		h, ok := p.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("read part body: %w", err)
		}

		switch ct {
		case "text/plain", "":
			if sub.Text == "" {
				sub.Text = string(body)
			}
		case "text/html":
			if sub.HTML == "" {
				sub.HTML = string(body)
			}
		}
	}

	return sub, nil
}

func headerAddresses(h gomail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

// input builds the mail input for sub. Envelope recipients missing from the
// To and Cc headers become Bcc; without a To header every envelope
// recipient is a To.
func (sub *submission) input(envelopeFrom string, envelopeTo []string) *mail.Input {
	in := &mail.Input{
		Type:    sub.Type,
		From:    sub.From,
		Subject: sub.Subject,
		Text:    sub.Text,
		HTML:    sub.HTML,
	}
	if in.From == "" {
		in.From = envelopeFrom
	}

	if len(sub.To) == 0 {
		in.To = mail.Recipients(envelopeTo)
		return in
	}

	in.To = mail.Recipients(sub.To)
	in.Cc = mail.Recipients(sub.Cc)

	seen := make(map[string]bool, len(sub.To)+len(sub.Cc))
	for _, a := range append(append([]string{}, sub.To...), sub.Cc...) {
		seen[strings.ToLower(a)] = true
	}
	var bcc []string
	for _, rcpt := range envelopeTo {
		if !seen[strings.ToLower(rcpt)] {
			bcc = append(bcc, rcpt)
		}
	}
	if len(bcc) > 0 {
		in.Bcc = mail.Recipients(bcc)
	}
	return in
}
