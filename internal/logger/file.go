package logger

import (
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileConfig holds configuration for file-based log output with rotation.
type FileConfig struct {
	// Path is the file path to write logs to.
	Path string
	// MaxSizeMB is the maximum size in megabytes before rotation.
	MaxSizeMB int
	// MaxFiles is the number of rotated files to retain.
	MaxFiles int
}

// NewFileWriter returns a rotating log file writer. Rotated files are
// gzip-compressed. An empty path falls back to logs/mailer.log.
func NewFileWriter(cfg FileConfig) *lumberjack.Logger {
	path := cfg.Path
	if path == "" {
		path = "logs/mailer.log"
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		Compress:   true,
	}
}
