package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Backend bundles the producer side of a broker with a way to build
// consumers bound to a handler.
type Backend struct {
	Enqueuer Enqueuer
	DLQ      DeadLetterQueue

	cfg         Config
	newDequeuer func(handler MessageHandler, cfg Config) Dequeuer
	closeFn     func() error
	pingFn      func(ctx context.Context) error
}

// Dequeuer builds a consumer for handler. concurrency <= 0 uses the
// configured value.
func (b *Backend) Dequeuer(handler MessageHandler, concurrency int) Dequeuer {
	cfg := b.cfg
	if concurrency > 0 {
		cfg.Concurrency = concurrency
	}
	return b.newDequeuer(handler, cfg)
}

// Close releases broker connections.
func (b *Backend) Close() error {
	if b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}

// Ping checks broker connectivity where the broker supports it.
func (b *Backend) Ping(ctx context.Context) error {
	if b.pingFn == nil {
		return nil
	}
	return b.pingFn(ctx)
}

// New creates the broker selected by cfg.Type.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Backend, error) {
	cfg = cfg.withDefaults()
	retry := NewRetryStrategy(cfg.MaxRetries)

	switch cfg.Type {
	case "redis", "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisBackend(client, cfg, log), nil

	case "sqs":
		if cfg.SQSQueueURL == "" {
			return nil, fmt.Errorf("queue: sqs_queue_url is required")
		}
		sqsClient, err := newAWSSQSClient(ctx, cfg.SQSRegion, cfg.SQSEndpoint)
		if err != nil {
			return nil, fmt.Errorf("create sqs client: %w", err)
		}
		enqueuer := NewSQSEnqueuer(sqsClient, cfg.SQSQueueURL, log)
		var dlq DeadLetterQueue
		if cfg.SQSDLQueueURL != "" {
			dlq = NewSQSDLQ(sqsClient, cfg.SQSDLQueueURL, enqueuer, log)
		}
		return &Backend{
			Enqueuer: enqueuer,
			DLQ:      dlq,
			cfg:      cfg,
			newDequeuer: func(h MessageHandler, c Config) Dequeuer {
				return NewSQSDequeuer(sqsClient, cfg.SQSQueueURL, h, dlq, retry, enqueuer, c, log)
			},
		}, nil

	case "memory":
		broker := NewMemoryBroker(cfg.Name, cfg.MemoryBuffer)
		return &Backend{
			Enqueuer: broker,
			DLQ:      broker,
			cfg:      cfg,
			newDequeuer: func(h MessageHandler, c Config) Dequeuer {
				return NewMemoryDequeuer(broker, h, retry, c, log)
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}

// NewRedisBackend builds a Redis Streams backend on an existing client.
func NewRedisBackend(client redis.UniversalClient, cfg Config, log zerolog.Logger) *Backend {
	cfg = cfg.withDefaults()
	retry := NewRetryStrategy(cfg.MaxRetries)
	enqueuer := NewRedisEnqueuer(client, cfg.Name)
	dlq := NewRedisDLQ(client, enqueuer, cfg.Name)

	return &Backend{
		Enqueuer: enqueuer,
		DLQ:      dlq,
		cfg:      cfg,
		newDequeuer: func(h MessageHandler, c Config) Dequeuer {
			return NewRedisDequeuer(client, enqueuer, dlq, h, retry, c, log)
		},
		closeFn: client.Close,
		pingFn: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
