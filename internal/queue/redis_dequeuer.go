package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisDequeuer runs a pool of consumers reading a queue stream through a
// consumer group. The group gives each entry a single active claim.
type RedisDequeuer struct {
	client    redis.UniversalClient
	enqueuer  Enqueuer
	proc      *processor
	config    Config
	log       zerolog.Logger
	stream    string
	groupName string
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// NewRedisDequeuer creates a RedisDequeuer for cfg.Name. The handler defines
// job processing logic.
func NewRedisDequeuer(
	client redis.UniversalClient,
	enqueuer Enqueuer,
	dlq DeadLetterQueue,
	handler MessageHandler,
	retry *RetryStrategy,
	cfg Config,
	log zerolog.Logger,
) *RedisDequeuer {
	cfg = cfg.withDefaults()
	return &RedisDequeuer{
		client:   client,
		enqueuer: enqueuer,
		proc: &processor{
			handler: handler,
			retry:   retry,
			dlq:     dlq,
			timeout: cfg.ProcessTimeout,
			log:     log,
		},
		config:    cfg,
		log:       log,
		stream:    streamKey(cfg.Name),
		groupName: cfg.GroupName,
	}
}

// Start creates the consumer group (if it does not already exist) and
// launches the configured number of consumers.
func (d *RedisDequeuer) Start(ctx context.Context) error {
	if err := d.createConsumerGroup(ctx); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	ctx, d.cancel = context.WithCancel(ctx)

	for i := range d.config.Concurrency {
		d.wg.Add(1)
		go d.runWorker(ctx, fmt.Sprintf("consumer-%d", i))
	}

	d.log.Info().
		Int("concurrency", d.config.Concurrency).
		Str("queue", d.stream).
		Msg("redis dequeuer started")

	return nil
}

// Stop signals all consumers to stop and waits for in-flight jobs.
func (d *RedisDequeuer) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()

	if err := waitStopped(ctx, &d.wg, d.config.ShutdownTimeout); err != nil {
		d.log.Warn().Err(err).Msg("redis dequeuer shutdown timed out")
		return err
	}
	d.log.Info().Msg("redis dequeuer stopped gracefully")
	return nil
}

// createConsumerGroup creates the consumer group for the queue stream.
// An existing group is not an error.
func (d *RedisDequeuer) createConsumerGroup(ctx context.Context) error {
	err := d.client.XGroupCreateMkStream(ctx, d.stream, d.groupName, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on stream %s: %w", d.groupName, d.stream, err)
	}
	return nil
}

func (d *RedisDequeuer) runWorker(ctx context.Context, consumerName string) {
	defer d.wg.Done()

	d.log.Debug().Str("consumer", consumerName).Msg("consumer started")

	for {
		select {
		case <-ctx.Done():
			d.log.Debug().Str("consumer", consumerName).Msg("consumer stopping")
			return
		default:
		}

		xStreams, err := d.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    d.groupName,
			Consumer: consumerName,
			Streams:  []string{d.stream, ">"},
			Count:    1,
			Block:    d.config.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			d.log.Error().Err(err).Str("consumer", consumerName).Msg("xreadgroup error")
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, stream := range xStreams {
			for _, xMsg := range stream.Messages {
				d.processMessage(ctx, xMsg)
			}
		}
	}
}

// processMessage decodes one stream entry, runs the handler and acknowledges
// the entry whatever the outcome; retries are new entries.
func (d *RedisDequeuer) processMessage(ctx context.Context, xMsg redis.XMessage) {
	ackCtx := context.WithoutCancel(ctx)

	data, ok := xMsg.Values["data"].(string)
	if !ok {
		d.log.Error().Str("entry_id", xMsg.ID).Msg("invalid message data type")
		_ = d.acknowledgeMessage(ackCtx, xMsg.ID)
		return
	}

	var msg Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		d.log.Error().Err(err).Str("entry_id", xMsg.ID).Msg("failed to unmarshal message")
		_ = d.acknowledgeMessage(ackCtx, xMsg.ID)
		return
	}

	if backoff, retry := d.proc.handle(ctx, &msg); retry {
		go requeueAfter(ctx, d.enqueuer, &msg, backoff, d.log)
	}

	if ackErr := d.acknowledgeMessage(ackCtx, xMsg.ID); ackErr != nil {
		d.log.Error().Err(ackErr).Str("entry_id", xMsg.ID).Msg("failed to acknowledge message")
	}
}

func (d *RedisDequeuer) acknowledgeMessage(ctx context.Context, entryID string) error {
	err := d.client.XAck(ctx, d.stream, d.groupName, entryID).Err()
	if err != nil {
		return fmt.Errorf("xack message %s on stream %s: %w", entryID, d.stream, err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
