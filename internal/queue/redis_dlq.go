package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DLQMessage wraps a failed job with failure metadata.
type DLQMessage struct {
	OriginalMessage *Message  `json:"original_message"`
	FailureReason   string    `json:"failure_reason"`
	MovedAt         time.Time `json:"moved_at"`
}

// RedisDLQ keeps dead jobs in a "<queue>:dlq" stream.
type RedisDLQ struct {
	client   redis.UniversalClient
	enqueuer Enqueuer
	stream   string
}

// NewRedisDLQ creates a RedisDLQ for the named queue. Reprocess re-enqueues
// through enqueuer.
func NewRedisDLQ(client redis.UniversalClient, enqueuer Enqueuer, queueName string) *RedisDLQ {
	return &RedisDLQ{client: client, enqueuer: enqueuer, stream: dlqStreamKey(queueName)}
}

// MoveToDLQ appends a failed job to the DLQ stream.
func (d *RedisDLQ) MoveToDLQ(ctx context.Context, msg *Message, reason string) error {
	data, err := json.Marshal(DLQMessage{
		OriginalMessage: msg,
		FailureReason:   reason,
		MovedAt:         time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.stream,
		Values: map[string]any{
			"data": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd to dlq stream %s: %w", d.stream, err)
	}

	DLQMessagesTotal.Inc()
	MessagesProcessedTotal.WithLabelValues("dlq").Inc()

	return nil
}

// Reprocess removes the given entries from the DLQ, resets their retry count
// and re-enqueues them. Unknown or malformed entries are skipped. It returns
// the number of jobs re-enqueued.
func (d *RedisDLQ) Reprocess(ctx context.Context, entryIDs []string) (int, error) {
	reprocessed := 0

	for _, entryID := range entryIDs {
		msgs, err := d.client.XRange(ctx, d.stream, entryID, entryID).Result()
		if err != nil {
			return reprocessed, fmt.Errorf("xrange dlq entry %s: %w", entryID, err)
		}
		if len(msgs) == 0 {
			continue
		}

		data, ok := msgs[0].Values["data"].(string)
		if !ok {
			continue
		}

		var dlqMsg DLQMessage
		if err := json.Unmarshal([]byte(data), &dlqMsg); err != nil || dlqMsg.OriginalMessage == nil {
			continue
		}

		dlqMsg.OriginalMessage.RetryCount = 0
		if _, err := d.enqueuer.Enqueue(ctx, dlqMsg.OriginalMessage); err != nil {
			return reprocessed, fmt.Errorf("re-enqueue job %s: %w", dlqMsg.OriginalMessage.ID, err)
		}

		if err := d.client.XDel(ctx, d.stream, entryID).Err(); err != nil {
			return reprocessed, fmt.Errorf("xdel dlq entry %s: %w", entryID, err)
		}

		reprocessed++
	}

	return reprocessed, nil
}
