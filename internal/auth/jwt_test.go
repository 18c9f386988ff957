package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestJWTService() *JWTService {
	return NewJWTService(JWTConfig{
		SigningKey:        "test-secret-key-at-least-32-chars!",
		AccessTokenExpiry: 15 * time.Minute,
		Issuer:            "mailer-test",
		Audience:          "mailer-api",
	})
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := newTestJWTService()

	token, err := svc.GenerateToken("billing-service", "mails:send")
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "billing-service" {
		t.Errorf("Subject = %s, want billing-service", claims.Subject)
	}
	if !claims.HasScope("mails:send") || claims.HasScope("mails:admin") {
		t.Errorf("unexpected scopes %v", claims.Scopes)
	}
}

func TestGenerateToken_NoSigningKey(t *testing.T) {
	svc := NewJWTService(JWTConfig{})
	if _, err := svc.GenerateToken("x"); !errors.Is(err, ErrNoSigningKey) {
		t.Errorf("expected ErrNoSigningKey, got %v", err)
	}
}

func TestValidateToken_Errors(t *testing.T) {
	svc := newTestJWTService()

	expired := newTestJWTService()
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expiredToken, _ := expired.GenerateToken("x")

	otherKey := NewJWTService(JWTConfig{SigningKey: "another-secret-key-at-least-32-chars", Issuer: "mailer-test", Audience: "mailer-api"})
	foreignToken, _ := otherKey.GenerateToken("x")

	wrongAudience := NewJWTService(JWTConfig{SigningKey: "test-secret-key-at-least-32-chars!", Issuer: "mailer-test", Audience: "other"})
	audienceToken, _ := wrongAudience.GenerateToken("x")

	noneToken, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{"expired", expiredToken, ErrTokenExpired},
		{"malformed", "not-a-token", ErrTokenMalformed},
		{"wrong key", foreignToken, ErrTokenInvalid},
		{"none algorithm", noneToken, ErrSigningMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			if !errors.Is(err, tt.want) {
				t.Errorf("ValidateToken() error = %v, want %v", err, tt.want)
			}
		})
	}

	if _, err := svc.ValidateToken(audienceToken); err == nil {
		t.Error("expected audience mismatch to fail")
	}
}

func TestClaims_HasScope(t *testing.T) {
	tests := []struct {
		scopes []string
		scope  string
		want   bool
	}{
		{nil, "mails:send", true},
		{[]string{"*"}, "mails:admin", true},
		{[]string{"mails:read"}, "mails:send", false},
	}
	for _, tt := range tests {
		c := &Claims{Scopes: tt.scopes}
		if got := c.HasScope(tt.scope); got != tt.want {
			t.Errorf("HasScope(%v, %s) = %v, want %v", tt.scopes, tt.scope, got, tt.want)
		}
	}
}
