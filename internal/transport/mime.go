package transport

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// splitAddress returns the display name and bare address of an RFC 5322
// address. Unparseable input is returned unchanged as the address.
func splitAddress(s string) (name, addr string) {
	parsed, err := gomail.ParseAddress(s)
	if err != nil {
		return "", strings.TrimSpace(s)
	}
	return parsed.Name, parsed.Address
}

func parseAddressList(addrs []string) []*gomail.Address {
	out := make([]*gomail.Address, 0, len(addrs))
	for _, a := range addrs {
		name, addr := splitAddress(a)
		out = append(out, &gomail.Address{Name: name, Address: addr})
	}
	return out
}

func bareAddresses(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		_, addr := splitAddress(a)
		out = append(out, addr)
	}
	return out
}

// buildMessage renders p as a MIME message with an inline text and/or html
// part. Bcc recipients are not written to the headers.
func buildMessage(p *Payload, date time.Time) ([]byte, error) {
	var h gomail.Header
	h.SetDate(date)
	h.SetSubject(p.Subject)
	h.SetAddressList("From", parseAddressList([]string{p.From}))
	h.SetAddressList("To", parseAddressList(p.To))
	if len(p.Cc) > 0 {
		h.SetAddressList("Cc", parseAddressList(p.Cc))
	}
	if p.ID != "" {
		_, from := splitAddress(p.From)
		domain := "localhost"
		if i := strings.LastIndex(from, "@"); i >= 0 {
			domain = from[i+1:]
		}
		h.SetMessageID(p.ID + "@" + domain)
	}
	for k, v := range p.Headers {
		h.Set(k, v)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return nil, fmt.Errorf("create inline writer: %w", err)
	}

	if p.Text != "" {
		if err := writePart(iw, "text/plain", p.Text); err != nil {
			return nil, err
		}
	}
	if p.HTML != "" {
		if err := writePart(iw, "text/html", p.HTML); err != nil {
			return nil, err
		}
	}

	if err := iw.Close(); err != nil {
		return nil, fmt.Errorf("close inline writer: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

func writePart(iw *gomail.InlineWriter, contentType, body string) error {
	var ph gomail.InlineHeader
	ph.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	ph.Set("Content-Transfer-Encoding", "quoted-printable")

	w, err := iw.CreatePart(ph)
	if err != nil {
		return fmt.Errorf("create %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("write %s part: %w", contentType, err)
	}
	return w.Close()
}
