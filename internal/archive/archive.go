// Package archive keeps the raw RFC 5322 form of mails submitted over SMTP,
// keyed by record id.
package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when no raw message is archived for an id.
var ErrNotFound = errors.New("archive: message not found")

// Archive stores raw messages.
type Archive interface {
	Put(ctx context.Context, id string, raw []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
}

// Config selects and configures the archive backend.
type Config struct {
	Type       string `mapstructure:"type"` // "" (disabled), "local" or "s3"
	Path       string `mapstructure:"path"`
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Prefix   string `mapstructure:"s3_prefix"`
	S3Endpoint string `mapstructure:"s3_endpoint"`
	S3Region   string `mapstructure:"s3_region"`
}

// New creates the archive selected by cfg.Type. It returns nil, nil when
// archiving is disabled.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (Archive, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "local":
		a, err := NewLocal(cfg.Path)
		if err != nil {
			return nil, err
		}
		log.Info().Str("type", "local").Str("path", cfg.Path).Msg("raw message archive enabled")
		return a, nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("archive: s3_bucket is required")
		}
		a, err := NewS3FromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("type", "s3").Str("bucket", cfg.S3Bucket).Msg("raw message archive enabled")
		return a, nil
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
}

// objectName maps a record id to its archived file or object name.
func objectName(id string) string {
	return id + ".eml"
}
