package queue

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Name != "mail:queued" {
		t.Errorf("Name = %q, want mail:queued", cfg.Name)
	}
	if cfg.Concurrency != 10 {
		t.Errorf("Concurrency = %d, want 10", cfg.Concurrency)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 5s", cfg.ShutdownTimeout)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.GroupName != "mailer-workers" {
		t.Errorf("GroupName = %q", cfg.GroupName)
	}
}

func TestConfig_withDefaults(t *testing.T) {
	cfg := Config{Name: "custom", Concurrency: 3}.withDefaults()

	if cfg.Name != "custom" || cfg.Concurrency != 3 {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
	if cfg.ProcessTimeout != 30*time.Second || cfg.BlockTimeout != 5*time.Second {
		t.Errorf("zero durations not defaulted: %+v", cfg)
	}
	if cfg.MaxRetries != 0 {
		t.Errorf("MaxRetries must stay as configured, got %d", cfg.MaxRetries)
	}
}

func TestMessageKeys(t *testing.T) {
	tests := []struct {
		queue  string
		stream string
		dlq    string
	}{
		{"mail:queued", "mail:queued", "mail:queued:dlq"},
		{"", "mail:queued", "mail:queued:dlq"},
		{"digest", "digest", "digest:dlq"},
	}

	for _, tt := range tests {
		t.Run(tt.queue, func(t *testing.T) {
			if got := streamKey(tt.queue); got != tt.stream {
				t.Errorf("streamKey(%q) = %q, want %q", tt.queue, got, tt.stream)
			}
			if got := dlqStreamKey(tt.queue); got != tt.dlq {
				t.Errorf("dlqStreamKey(%q) = %q, want %q", tt.queue, got, tt.dlq)
			}
		})
	}
}

func TestNewMessage(t *testing.T) {
	before := time.Now()
	msg := NewMessage("rec-1", "")

	if msg.ID != "rec-1" || msg.Queue != DefaultName || msg.RetryCount != 0 {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.CreatedAt.Before(before) {
		t.Errorf("CreatedAt %v before test start %v", msg.CreatedAt, before)
	}
}
