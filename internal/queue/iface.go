package queue

import (
	"context"
	"encoding/json"
)

// Enqueuer publishes jobs to the broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *Message) (string, error)
}

// Dequeuer consumes jobs from the broker.
// Start begins consuming in background goroutines.
// Stop gracefully shuts down consumers, waiting for in-flight jobs until ctx
// is done or the configured shutdown timeout elapses.
type Dequeuer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// DeadLetterQueue manages jobs that exhausted their retries.
type DeadLetterQueue interface {
	MoveToDLQ(ctx context.Context, msg *Message, reason string) error
	Reprocess(ctx context.Context, entryIDs []string) (int, error)
}

// MessageHandler processes a single job. The returned result is recorded as
// the job's completion value.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *Message) (json.RawMessage, error)
}

// HandlerFunc adapts a function to MessageHandler.
type HandlerFunc func(ctx context.Context, msg *Message) (json.RawMessage, error)

// HandleMessage calls f(ctx, msg).
func (f HandlerFunc) HandleMessage(ctx context.Context, msg *Message) (json.RawMessage, error) {
	return f(ctx, msg)
}
