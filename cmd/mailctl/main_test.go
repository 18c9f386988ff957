package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sungwon/mailer/internal/auth"
)

const testConfig = `
mailer:
  from: "Mailer <no-reply@example.com>"
  environment: "test"
transport:
  type: "fake"
database:
  driver: "memory"
queue:
  type: "memory"
api:
  jwt:
    signing_key: "test-secret-key-at-least-32-chars!"
    issuer: "mailer-test"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestRun_Token(t *testing.T) {
	dir := writeConfig(t, testConfig)

	var out bytes.Buffer
	err := run(context.Background(), []string{"token", "--config", dir, "--subject", "billing", "--scope", "mails:send"}, &out)
	if err != nil {
		t.Fatalf("run token: %v", err)
	}

	svc := auth.NewJWTService(auth.JWTConfig{SigningKey: "test-secret-key-at-least-32-chars!", Issuer: "mailer-test"})
	claims, err := svc.ValidateToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if claims.Subject != "billing" || !claims.HasScope("mails:send") || claims.HasScope("mails:admin") {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestRun_TokenRequiresSubject(t *testing.T) {
	dir := writeConfig(t, testConfig)
	if err := run(context.Background(), []string{"token", "--config", dir}, &bytes.Buffer{}); err == nil {
		t.Error("expected error without --subject")
	}
}

func TestRun_Unsent(t *testing.T) {
	dir := writeConfig(t, testConfig)

	var out bytes.Buffer
	if err := run(context.Background(), []string{"unsent", "--config", dir, "--type", "confirm"}, &out); err != nil {
		t.Fatalf("run unsent: %v", err)
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode output: %v; output: %s", err, out.String())
	}
	if resp.Count != 0 {
		t.Errorf("expected empty store, got %d", resp.Count)
	}
}

func TestRun_ResendAndRequeueEmptyStore(t *testing.T) {
	dir := writeConfig(t, testConfig)

	tests := []struct {
		cmd  string
		want string
	}{
		{"resend", `"total": 0`},
		{"requeue", `"requeued": 0`},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			var out bytes.Buffer
			if err := run(context.Background(), []string{tt.cmd, "--config", dir}, &out); err != nil {
				t.Fatalf("run %s: %v", tt.cmd, err)
			}
			if !strings.Contains(out.String(), tt.want) {
				t.Errorf("expected %s in output: %s", tt.want, out.String())
			}
		})
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	tests := [][]string{nil, {"bounce"}}
	for _, args := range tests {
		if err := run(context.Background(), args, &bytes.Buffer{}); err == nil {
			t.Errorf("expected error for args %v", args)
		}
	}
}
