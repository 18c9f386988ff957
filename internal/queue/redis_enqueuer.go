package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisEnqueuer publishes jobs to a Redis stream.
type RedisEnqueuer struct {
	client redis.UniversalClient
	queue  string
}

// NewRedisEnqueuer creates a RedisEnqueuer publishing to the named queue.
func NewRedisEnqueuer(client redis.UniversalClient, queueName string) *RedisEnqueuer {
	return &RedisEnqueuer{client: client, queue: streamKey(queueName)}
}

// Enqueue adds a job to the queue stream using XADD and returns the stream
// entry ID.
func (e *RedisEnqueuer) Enqueue(ctx context.Context, msg *Message) (string, error) {
	msg.Queue = e.queue

	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	entryID, err := e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: e.queue,
		Values: map[string]any{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd to stream %s: %w", e.queue, err)
	}

	MessagesEnqueuedTotal.WithLabelValues(e.queue).Inc()

	return entryID, nil
}

// Depth returns the number of entries in the queue stream.
func (e *RedisEnqueuer) Depth(ctx context.Context) (int64, error) {
	n, err := e.client.XLen(ctx, e.queue).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen %s: %w", e.queue, err)
	}
	return n, nil
}
