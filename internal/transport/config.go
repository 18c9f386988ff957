package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Config holds transport configuration.
type Config struct {
	// Type selects the backend: "sendgrid", "resend", "smtp", "stdout", "file", "fake".
	Type string

	// APIKey authenticates HTTP API backends.
	APIKey string

	// Endpoint overrides the API base URL, or the output directory for "file".
	Endpoint string

	// Timeout bounds each API call.
	Timeout time.Duration

	// SMTP relay settings.
	Host        string
	Port        int
	Username    string
	Password    string
	ImplicitTLS bool
}

const defaultTimeout = 30 * time.Second

// Validate checks that the fields required by Type are set.
func (c *Config) Validate() error {
	if c.Type == "" {
		return errors.New("transport type is required")
	}

	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}

	switch c.Type {
	case "sendgrid":
		if c.APIKey == "" {
			return errors.New("sendgrid: api_key is required")
		}
	case "resend":
		if c.APIKey == "" {
			return errors.New("resend: api_key is required")
		}
	case "smtp":
		if c.Host == "" {
			return errors.New("smtp: host is required")
		}
	case "stdout", "file", "fake":
	default:
		return errors.New("unknown transport type: " + c.Type)
	}

	return nil
}

// New creates the transport selected by cfg.Type.
func New(cfg Config, log zerolog.Logger) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transport config: %w", err)
	}

	var (
		t   Transport
		err error
	)
	switch cfg.Type {
	case "sendgrid":
		t = NewSendGrid(cfg, NewHTTPClient(cfg.Timeout))
	case "resend":
		t, err = NewResend(cfg)
	case "smtp":
		t = NewSMTP(cfg)
	case "stdout":
		t = NewStdout(nil)
	case "file":
		t = NewFile(cfg)
	case "fake":
		t = NewFake()
	}
	if err != nil {
		return nil, err
	}

	log.Info().Str("transport", t.Name()).Msg("transport configured")
	return t, nil
}
