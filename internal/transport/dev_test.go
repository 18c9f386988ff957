package transport

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestStdout_Deliver(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)

	resp, err := s.Deliver(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !resp.Succeeded() || resp.ID != "stdout-mail-1" {
		t.Errorf("unexpected response %+v", resp)
	}

	out := buf.String()
	for _, want := range []string{"ID:      mail-1", "Subject: Hello", "To:      a@x.io", "Cc:      c@x.io"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFile_Deliver(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(Config{Endpoint: dir})

	resp, err := f.Deliver(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	path := resp.Metadata["path"]
	if !strings.HasPrefix(path, dir) || !strings.HasSuffix(path, "_mail-1.eml") {
		t.Fatalf("unexpected path %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read eml: %v", err)
	}
	if !strings.Contains(string(data), "Subject: Hello") {
		t.Errorf("expected subject in eml:\n%s", data)
	}
}

func TestFake_RecordsDeliveries(t *testing.T) {
	f := NewFake()

	resp, err := f.Deliver(context.Background(), testPayload())
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !resp.Succeeded() {
		t.Errorf("expected success, got %+v", resp)
	}
	if got := f.Delivered(); len(got) != 1 || got[0].ID != "mail-1" {
		t.Errorf("unexpected deliveries %+v", got)
	}
}

func TestPayloadRecipients(t *testing.T) {
	p := testPayload()
	if got := strings.Join(p.Recipients(), ","); got != "a@x.io,c@x.io,b@x.io" {
		t.Errorf("unexpected recipients %s", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"empty type", Config{}, true},
		{"sendgrid without key", Config{Type: "sendgrid"}, true},
		{"sendgrid", Config{Type: "sendgrid", APIKey: "k"}, false},
		{"resend without key", Config{Type: "resend"}, true},
		{"smtp without host", Config{Type: "smtp"}, true},
		{"smtp", Config{Type: "smtp", Host: "relay"}, false},
		{"stdout", Config{Type: "stdout"}, false},
		{"fake", Config{Type: "fake"}, false},
		{"unknown", Config{Type: "pigeon"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg  Config
		name string
	}{
		{Config{Type: "sendgrid", APIKey: "k"}, "sendgrid"},
		{Config{Type: "resend", APIKey: "k"}, "resend"},
		{Config{Type: "smtp", Host: "relay"}, "smtp"},
		{Config{Type: "stdout"}, "stdout"},
		{Config{Type: "file", Endpoint: t.TempDir()}, "file"},
		{Config{Type: "fake"}, "fake"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.cfg, zerolog.Nop())
			if err != nil {
				t.Fatalf("new: %v", err)
			}
			if tr.Name() != tt.name {
				t.Errorf("expected %s, got %s", tt.name, tr.Name())
			}
		})
	}

	if _, err := New(Config{Type: "sendgrid"}, zerolog.Nop()); err == nil {
		t.Error("expected error for invalid config")
	}
}
