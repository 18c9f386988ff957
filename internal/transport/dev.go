package transport

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sungwon/mailer/internal/mail"
)

// Stdout prints mails instead of delivering them. Intended for development.
type Stdout struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewStdout creates a Stdout transport writing to w, or os.Stdout when w is
// nil.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{writer: w}
}

func (s *Stdout) Name() string { return "stdout" }

// Deliver prints the mail summary and reports success.
func (s *Stdout) Deliver(_ context.Context, p *Payload) (*mail.Response, error) {
	var b strings.Builder
	b.WriteString("--- stdout transport: mail ---\n")
	fmt.Fprintf(&b, "ID:      %s\n", p.ID)
	fmt.Fprintf(&b, "Type:    %s\n", p.Type)
	fmt.Fprintf(&b, "From:    %s\n", p.From)
	fmt.Fprintf(&b, "To:      %s\n", strings.Join(p.To, ", "))
	if len(p.Cc) > 0 {
		fmt.Fprintf(&b, "Cc:      %s\n", strings.Join(p.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", p.Subject)
	fmt.Fprintf(&b, "Body:    (%d bytes html, %d bytes text)\n", len(p.HTML), len(p.Text))
	b.WriteString("--- end ---\n")

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		return nil, &Error{Transport: "stdout", Code: "EIO", Message: err.Error(), Err: err}
	}

	return success("stdout-"+p.ID, nil), nil
}

const defaultOutputDir = "./mail_output"

// File writes each mail as an .eml file. Intended for development.
type File struct {
	outputDir string
}

// NewFile creates a File transport. Config.Endpoint is used as the output
// directory, defaulting to ./mail_output.
func NewFile(cfg Config) *File {
	dir := cfg.Endpoint
	if dir == "" {
		dir = defaultOutputDir
	}
	return &File{outputDir: dir}
}

func (f *File) Name() string { return "file" }

// Deliver writes <timestamp>_<id>.eml into the output directory.
func (f *File) Deliver(_ context.Context, p *Payload) (*mail.Response, error) {
	if err := os.MkdirAll(f.outputDir, 0o750); err != nil {
		return nil, &Error{Transport: "file", Code: "EIO", Message: fmt.Sprintf("create output dir: %v", err), Err: err}
	}

	now := time.Now()
	msg, err := buildMessage(p, now)
	if err != nil {
		return nil, &Error{Transport: "file", Code: "EMESSAGE", Message: err.Error(), Permanent: true, Err: err}
	}

	safeID := strings.NewReplacer("/", "_", `\`, "_").Replace(p.ID)
	path := filepath.Join(f.outputDir, fmt.Sprintf("%s_%s.eml", now.Format("20060102_150405"), safeID))

	if err := os.WriteFile(path, msg, 0o640); err != nil {
		return nil, &Error{Transport: "file", Code: "EIO", Message: fmt.Sprintf("write %s: %v", path, err), Err: err}
	}

	return success("file-"+p.ID, map[string]string{"path": path}), nil
}

// Fake accepts every mail without any I/O and remembers what it was given.
// It backs the local-environment and options.fake delivery path.
type Fake struct {
	mu        sync.Mutex
	delivered []*Payload
}

// NewFake creates an empty Fake transport.
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Name() string { return "fake" }

// Deliver records the payload and reports success.
func (f *Fake) Deliver(_ context.Context, p *Payload) (*mail.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, p)
	return success("fake-"+p.ID, nil), nil
}

// Delivered returns a copy of every payload seen so far.
func (f *Fake) Delivered() []*Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Payload, len(f.delivered))
	copy(out, f.delivered)
	return out
}
