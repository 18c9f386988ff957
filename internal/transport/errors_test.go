package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassifyHTTPError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantNil   bool
		permanent bool
		code      string
	}{
		{"2xx is not an error", 202, "", true, false, ""},
		{"400 invalid recipient", 400, "Invalid recipient address", false, true, "EMESSAGE"},
		{"400 unknown", 400, "try again", false, false, "EMESSAGE"},
		{"401", 401, "", false, true, "EAUTH"},
		{"403", 403, "", false, true, "EAUTH"},
		{"404", 404, "", false, true, "EMESSAGE"},
		{"429", 429, "slow down", false, false, "ERATELIMIT"},
		{"500 transient", 500, "internal error", false, false, "EPROVIDER"},
		{"500 bad key", 500, "Invalid API key", false, true, "EPROVIDER"},
		{"413 other 4xx", 413, "", false, true, "EMESSAGE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := ClassifyHTTPError("sendgrid", tt.status, tt.body)
			if tt.wantNil {
				if te != nil {
					t.Fatalf("expected nil, got %+v", te)
				}
				return
			}
			if te == nil {
				t.Fatal("expected error")
			}
			if te.Permanent != tt.permanent {
				t.Errorf("expected permanent=%v, got %v", tt.permanent, te.Permanent)
			}
			if te.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, te.Code)
			}
			if te.Status != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, te.Status)
			}
		})
	}
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    string
		message string
		status  int
	}{
		{
			name:    "transport error",
			err:     &Error{Transport: "smtp", Code: "EENVELOPE", Status: 550, Message: "no such user"},
			code:    "EENVELOPE",
			message: "no such user",
			status:  550,
		},
		{
			name:    "wrapped transport error",
			err:     fmt.Errorf("deliver: %w", &Error{Transport: "sendgrid", Code: "EAUTH", Status: 401, Message: "bad key"}),
			code:    "EAUTH",
			message: "bad key",
			status:  401,
		},
		{
			name:    "deadline",
			err:     fmt.Errorf("send: %w", context.DeadlineExceeded),
			code:    "ETIMEDOUT",
			message: "send: context deadline exceeded",
		},
		{
			name:    "plain error",
			err:     errors.New("boom"),
			message: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := NormalizeError(tt.err)
			if resp.Code != tt.code || resp.Message != tt.message || resp.Status != tt.status {
				t.Errorf("got %+v, want code=%s message=%s status=%d", resp, tt.code, tt.message, tt.status)
			}
			if resp.Succeeded() {
				t.Error("normalized error must not look successful")
			}
		})
	}

	if NormalizeError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestIsPermanentAndTransient(t *testing.T) {
	perm := &Error{Transport: "smtp", Permanent: true}
	temp := &Error{Transport: "smtp"}
	plain := errors.New("unknown")

	if !IsPermanent(perm) || IsTransient(perm) {
		t.Error("expected permanent error")
	}
	if IsPermanent(temp) || !IsTransient(temp) {
		t.Error("expected transient error")
	}
	if IsPermanent(plain) || !IsTransient(plain) {
		t.Error("unknown errors should be transient")
	}
}
