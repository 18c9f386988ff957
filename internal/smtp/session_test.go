package smtp

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/sungwon/mailer/internal/archive"
	"github.com/sungwon/mailer/internal/auth"
	"github.com/sungwon/mailer/internal/mail"
)

type recordingSubmitter struct {
	mu     sync.Mutex
	inputs []*mail.Input
	opts   []mail.Options
	err    error
	rec    *mail.Record
}

func (r *recordingSubmitter) Queue(_ context.Context, in *mail.Input, opts mail.Options) (*mail.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	r.opts = append(r.opts, opts)
	if r.err != nil {
		return r.rec, r.err
	}
	return &mail.Record{ID: "mail-1"}, nil
}

func (r *recordingSubmitter) last() (*mail.Input, mail.Options) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inputs) == 0 {
		return nil, mail.Options{}
	}
	return r.inputs[len(r.inputs)-1], r.opts[len(r.opts)-1]
}

const testSigningKey = "test-secret-key-at-least-32-chars!"

func newJWT() *auth.JWTService {
	return auth.NewJWTService(auth.JWTConfig{SigningKey: testSigningKey, Issuer: "mailer-test"})
}

const multipartMessage = "From: Acme <no-reply@acme.io>\r\n" +
	"To: a@x.io\r\n" +
	"Cc: c@x.io\r\n" +
	"Subject: Welcome aboard\r\n" +
	"X-Mail-Type: welcome\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/alternative; boundary=BOUNDARY\r\n" +
	"\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello\r\n" +
	"--BOUNDARY\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>hello</p>\r\n" +
	"--BOUNDARY--\r\n"

func TestSession_RequiresAuthWhenTokensConfigured(t *testing.T) {
	b := NewBackend(&recordingSubmitter{}, newJWT(), Config{}, zerolog.Nop())
	s, err := b.newSession("test")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	if got := s.AuthMechanisms(); len(got) != 1 || got[0] != sasl.Plain {
		t.Errorf("expected PLAIN, got %v", got)
	}

	var smtpErr *gosmtp.SMTPError
	if err := s.Mail("no-reply@acme.io", nil); !errors.As(err, &smtpErr) || smtpErr.Code != 530 {
		t.Errorf("expected 530 before auth, got %v", err)
	}
	if err := s.Rcpt("a@x.io", nil); !errors.As(err, &smtpErr) || smtpErr.Code != 530 {
		t.Errorf("expected 530 before auth, got %v", err)
	}
}

func TestSession_Auth(t *testing.T) {
	jwtSvc := newJWT()
	sender, _ := jwtSvc.GenerateToken("billing", auth.ScopeSend)
	reader, _ := jwtSvc.GenerateToken("dashboard", auth.ScopeRead)

	tests := []struct {
		name    string
		token   string
		wantErr bool
	}{
		{"send scope", sender, false},
		{"read-only token", reader, true},
		{"garbage", "not-a-token", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackend(&recordingSubmitter{}, jwtSvc, Config{}, zerolog.Nop())
			s, _ := b.newSession("test")

			err := s.authPlain("user", tt.token)
			if (err != nil) != tt.wantErr {
				t.Fatalf("authPlain() error = %v, wantErr %v", err, tt.wantErr)
			}
			if s.authenticated == tt.wantErr {
				t.Errorf("unexpected authenticated=%v", s.authenticated)
			}
		})
	}
}

func TestSession_OpenWithoutTokens(t *testing.T) {
	b := NewBackend(&recordingSubmitter{}, nil, Config{}, zerolog.Nop())
	s, _ := b.newSession("test")

	if s.AuthMechanisms() != nil {
		t.Error("expected no auth mechanisms")
	}
	if _, err := s.Auth(sasl.Plain); err == nil {
		t.Error("expected auth to be unsupported")
	}
	if err := s.Mail("no-reply@acme.io", nil); err != nil {
		t.Errorf("expected MAIL FROM to be accepted, got %v", err)
	}
}

func TestSession_MailAndRcptValidation(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		from     string
		wantCode int
	}{
		{"any domain", nil, "no-reply@acme.io", 0},
		{"allowed domain", []string{"acme.io"}, "No-Reply <no-reply@ACME.io>", 0},
		{"blocked domain", []string{"acme.io"}, "spam@evil.io", 550},
		{"invalid address", nil, "not an address", 550},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackend(&recordingSubmitter{}, nil, Config{AllowedDomains: tt.allowed}, zerolog.Nop())
			s, _ := b.newSession("test")

			err := s.Mail(tt.from, nil)
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			var smtpErr *gosmtp.SMTPError
			if !errors.As(err, &smtpErr) || smtpErr.Code != tt.wantCode {
				t.Errorf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}

	b := NewBackend(&recordingSubmitter{}, nil, Config{}, zerolog.Nop())
	s, _ := b.newSession("test")
	if err := s.Rcpt("bad address", nil); err == nil {
		t.Error("expected invalid recipient to be rejected")
	}
	if err := s.Rcpt("a@x.io", nil); err != nil || len(s.recipients) != 1 {
		t.Errorf("expected recipient accepted, got %v", err)
	}
	s.Reset()
	if s.sender != "" || s.recipients != nil {
		t.Error("expected reset to clear the envelope")
	}
}

func TestSession_DataQueuesMail(t *testing.T) {
	sub := &recordingSubmitter{}
	b := NewBackend(sub, nil, Config{}, zerolog.Nop())
	s, _ := b.newSession("test")

	_ = s.Mail("bounce@acme.io", nil)
	for _, rcpt := range []string{"a@x.io", "c@x.io", "hidden@x.io"} {
		_ = s.Rcpt(rcpt, nil)
	}

	if err := s.Data(strings.NewReader(multipartMessage)); err != nil {
		t.Fatalf("data: %v", err)
	}

	in, opts := sub.last()
	if in == nil {
		t.Fatal("expected mail to be queued")
	}
	if in.From != `"Acme" <no-reply@acme.io>` {
		t.Errorf("expected header from, got %q", in.From)
	}
	if in.Type != "welcome" || in.Subject != "Welcome aboard" {
		t.Errorf("unexpected type/subject %q %q", in.Type, in.Subject)
	}
	if strings.TrimSpace(in.Text) != "hello" || strings.TrimSpace(in.HTML) != "<p>hello</p>" {
		t.Errorf("unexpected bodies %q %q", in.Text, in.HTML)
	}
	if strings.Join(in.To, ",") != "a@x.io" || strings.Join(in.Cc, ",") != "c@x.io" || strings.Join(in.Bcc, ",") != "hidden@x.io" {
		t.Errorf("unexpected recipients to=%v cc=%v bcc=%v", in.To, in.Cc, in.Bcc)
	}
	if opts.Fake {
		t.Error("expected real delivery")
	}
}

func TestSession_DataPlainMessage(t *testing.T) {
	sub := &recordingSubmitter{}
	b := NewBackend(sub, nil, Config{}, zerolog.Nop())
	s, _ := b.newSession("test")

	_ = s.Mail("no-reply@acme.io", nil)
	_ = s.Rcpt("a@x.io", nil)
	_ = s.Rcpt("b@x.io", nil)

	msg := "Subject: Ping\r\nX-Mail-Fake: true\r\n\r\nplain body\r\n"
	if err := s.Data(strings.NewReader(msg)); err != nil {
		t.Fatalf("data: %v", err)
	}

	in, opts := sub.last()
	if in.From != "no-reply@acme.io" {
		t.Errorf("expected envelope sender, got %q", in.From)
	}
	if strings.Join(in.To, ",") != "a@x.io,b@x.io" || in.Bcc != nil {
		t.Errorf("expected envelope recipients as to, got to=%v bcc=%v", in.To, in.Bcc)
	}
	if strings.TrimSpace(in.Text) != "plain body" {
		t.Errorf("unexpected text %q", in.Text)
	}
	if !opts.Fake {
		t.Error("expected fake option from header")
	}
}

func TestSession_DataArchivesRawMessage(t *testing.T) {
	arch, err := archive.NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	b := NewBackend(&recordingSubmitter{}, nil, Config{Archive: arch}, zerolog.Nop())
	s, _ := b.newSession("test")

	_ = s.Mail("no-reply@acme.io", nil)
	_ = s.Rcpt("a@x.io", nil)
	if err := s.Data(strings.NewReader(multipartMessage)); err != nil {
		t.Fatalf("data: %v", err)
	}

	raw, err := arch.Get(context.Background(), "mail-1")
	if err != nil {
		t.Fatalf("expected archived message: %v", err)
	}
	if string(raw) != multipartMessage {
		t.Errorf("archived message differs from submission")
	}
}

func TestSession_DataErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		rec      *mail.Record
		rcpts    []string
		wantCode int
	}{
		{"no recipients", nil, nil, nil, 503},
		{"validation", &mail.ValidationError{Fields: []string{"subject"}}, nil, []string{"a@x.io"}, 550},
		{"missing content", mail.ErrMissingContent, nil, []string{"a@x.io"}, 550},
		{"store down", errors.New("connection refused"), nil, []string{"a@x.io"}, 451},
		{"stored but not enqueued", errors.New("redis down"), &mail.Record{ID: "mail-9"}, []string{"a@x.io"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackend(&recordingSubmitter{err: tt.err, rec: tt.rec}, nil, Config{}, zerolog.Nop())
			s, _ := b.newSession("test")
			_ = s.Mail("no-reply@acme.io", nil)
			for _, r := range tt.rcpts {
				_ = s.Rcpt(r, nil)
			}

			err := s.Data(strings.NewReader("Subject: x\r\n\r\nbody\r\n"))
			if tt.wantCode == 0 {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			var smtpErr *gosmtp.SMTPError
			if !errors.As(err, &smtpErr) || smtpErr.Code != tt.wantCode {
				t.Errorf("expected %d, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestBackend_ConnectionLimit(t *testing.T) {
	b := NewBackend(&recordingSubmitter{}, nil, Config{MaxConnections: 1}, zerolog.Nop())

	s, err := b.newSession("first")
	if err != nil {
		t.Fatalf("first session: %v", err)
	}
	if _, err := b.newSession("second"); err == nil {
		t.Fatal("expected connection limit error")
	}
	if b.ActiveSessions() != 1 {
		t.Errorf("expected 1 active session, got %d", b.ActiveSessions())
	}

	_ = s.Logout()
	if b.ActiveSessions() != 0 {
		t.Errorf("expected 0 active sessions, got %d", b.ActiveSessions())
	}
	if _, err := b.newSession("third"); err != nil {
		t.Errorf("expected a slot after logout, got %v", err)
	}
}

func TestServer_SubmitOverSMTP(t *testing.T) {
	jwtSvc := newJWT()
	token, _ := jwtSvc.GenerateToken("billing", auth.ScopeSend)
	sub := &recordingSubmitter{}

	srv := gosmtp.NewServer(NewBackend(sub, jwtSvc, Config{}, zerolog.Nop()))
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	c, err := gosmtp.Dial(ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.Hello("client.local"); err != nil {
		t.Fatalf("hello: %v", err)
	}
	if err := c.Auth(sasl.NewPlainClient("", "billing", token)); err != nil {
		t.Fatalf("auth: %v", err)
	}
	if err := c.Mail("no-reply@acme.io", nil); err != nil {
		t.Fatalf("mail: %v", err)
	}
	for _, rcpt := range []string{"a@x.io", "c@x.io"} {
		if err := c.Rcpt(rcpt, nil); err != nil {
			t.Fatalf("rcpt: %v", err)
		}
	}
	w, err := c.Data()
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	if _, err := w.Write([]byte(multipartMessage)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close data: %v", err)
	}
	_ = c.Quit()

	in, _ := sub.last()
	if in == nil || in.Subject != "Welcome aboard" {
		t.Fatalf("expected queued mail, got %+v", in)
	}
}
