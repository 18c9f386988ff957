package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisEnqueuer_Enqueue(t *testing.T) {
	_, client := newTestRedis(t)
	enqueuer := NewRedisEnqueuer(client, "")
	ctx := context.Background()

	entryID, err := enqueuer.Enqueue(ctx, NewMessage("rec-1", "ignored"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if entryID == "" {
		t.Fatal("expected stream entry id")
	}

	entries, err := client.XRange(ctx, "mail:queued", "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	var msg Message
	if err := json.Unmarshal([]byte(entries[0].Values["data"].(string)), &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.ID != "rec-1" || msg.Queue != "mail:queued" {
		t.Errorf("unexpected message %+v", msg)
	}

	depth, err := enqueuer.Depth(ctx)
	if err != nil || depth != 1 {
		t.Errorf("expected depth 1, got %d %v", depth, err)
	}
}

func TestRedisDequeuer_processMessage(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		retryCount int
		maxRetries int
		wantDLQ    int
	}{
		{name: "success"},
		{name: "failure with budget left", handlerErr: errors.New("smtp down"), maxRetries: 3},
		{name: "failure out of budget", handlerErr: errors.New("record not found"), retryCount: 2, maxRetries: 3, wantDLQ: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, client := newTestRedis(t)
			ctx := context.Background()

			cfg := Config{Name: "mail:queued", Concurrency: 1, ProcessTimeout: time.Second}
			enqueuer := NewRedisEnqueuer(client, cfg.Name)
			dlq := NewRedisDLQ(client, enqueuer, cfg.Name)
			handler := &mockHandler{err: tt.handlerErr}
			retry := &RetryStrategy{MaxRetries: tt.maxRetries, Schedule: []time.Duration{time.Millisecond}}
			d := NewRedisDequeuer(client, enqueuer, dlq, handler, retry, cfg, testLogger())

			if err := d.createConsumerGroup(ctx); err != nil {
				t.Fatalf("create group: %v", err)
			}
			msg := NewMessage("rec-1", cfg.Name)
			msg.RetryCount = tt.retryCount
			data, _ := json.Marshal(msg)

			d.processMessage(ctx, redis.XMessage{ID: "1-0", Values: map[string]any{"data": string(data)}})

			if got := handler.handled(); len(got) != 1 || got[0] != "rec-1" {
				t.Fatalf("unexpected handled jobs %v", got)
			}

			dead, _ := client.XLen(ctx, "mail:queued:dlq").Result()
			if int(dead) != tt.wantDLQ {
				t.Errorf("expected %d dlq entries, got %d", tt.wantDLQ, dead)
			}

			if tt.handlerErr != nil && tt.wantDLQ == 0 {
				waitFor(t, func() bool {
					n, _ := client.XLen(ctx, "mail:queued").Result()
					return n == 1
				})
			}
		})
	}
}

func TestRedisDequeuer_processMessage_InvalidData(t *testing.T) {
	_, client := newTestRedis(t)
	handler := &mockHandler{}
	cfg := Config{Name: "mail:queued"}
	enqueuer := NewRedisEnqueuer(client, cfg.Name)
	d := NewRedisDequeuer(client, enqueuer, nil, handler, NewRetryStrategy(1), cfg, testLogger())

	d.processMessage(context.Background(), redis.XMessage{ID: "1-0", Values: map[string]any{"data": "{oops"}})
	d.processMessage(context.Background(), redis.XMessage{ID: "2-0", Values: map[string]any{"other": 1}})

	if len(handler.handled()) != 0 {
		t.Error("handler must not run for undecodable entries")
	}
}

func TestRedisDequeuer_CreateConsumerGroupTwice(t *testing.T) {
	_, client := newTestRedis(t)
	cfg := Config{Name: "mail:queued"}
	d := NewRedisDequeuer(client, NewRedisEnqueuer(client, cfg.Name), nil, &mockHandler{}, NewRetryStrategy(1), cfg, testLogger())

	ctx := context.Background()
	if err := d.createConsumerGroup(ctx); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := d.createConsumerGroup(ctx); err != nil {
		t.Fatalf("existing group must not be an error: %v", err)
	}
}

func TestRedisDequeuer_StartConsumesAndStops(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	backend := NewRedisBackend(client, Config{
		Name:            "mail:queued",
		BlockTimeout:    50 * time.Millisecond,
		ShutdownTimeout: 2 * time.Second,
		MaxRetries:      1,
	}, testLogger())

	handler := &mockHandler{}
	d := backend.Dequeuer(handler, 2)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := backend.Enqueuer.Enqueue(ctx, NewMessage("rec-42", "")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool { return len(handler.handled()) == 1 })

	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := backend.Ping(ctx); err != nil {
		t.Errorf("ping: %v", err)
	}
}

func TestRedisDLQ_MoveAndReprocess(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()

	enqueuer := NewRedisEnqueuer(client, "mail:queued")
	dlq := NewRedisDLQ(client, enqueuer, "mail:queued")

	msg := NewMessage("rec-9", "")
	msg.RetryCount = 5
	if err := dlq.MoveToDLQ(ctx, msg, "max retries exceeded"); err != nil {
		t.Fatalf("move: %v", err)
	}

	entries, err := client.XRange(ctx, "mail:queued:dlq", "-", "+").Result()
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected 1 dlq entry, got %d %v", len(entries), err)
	}

	n, err := dlq.Reprocess(ctx, []string{entries[0].ID, "999-0"})
	if err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 reprocessed, got %d", n)
	}

	if dead, _ := client.XLen(ctx, "mail:queued:dlq").Result(); dead != 0 {
		t.Errorf("expected dlq to be empty, got %d", dead)
	}
	primary, _ := client.XRange(ctx, "mail:queued", "-", "+").Result()
	if len(primary) != 1 {
		t.Fatalf("expected job back on the queue, got %d", len(primary))
	}
	var requeued Message
	_ = json.Unmarshal([]byte(primary[0].Values["data"].(string)), &requeued)
	if requeued.ID != "rec-9" || requeued.RetryCount != 0 {
		t.Errorf("unexpected requeued job %+v", requeued)
	}
}
