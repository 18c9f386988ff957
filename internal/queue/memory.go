package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by MemoryBroker.Enqueue when the buffer is full.
var ErrQueueFull = errors.New("queue: memory buffer full")

// MemoryBroker is an in-process broker for local runs and tests. Jobs live
// in a buffered channel; dead jobs are kept in memory.
type MemoryBroker struct {
	name string
	jobs chan *Message

	mu   sync.Mutex
	dead map[string]DLQMessage
	ids  []string
}

// NewMemoryBroker creates a broker holding up to buffer pending jobs.
func NewMemoryBroker(name string, buffer int) *MemoryBroker {
	if buffer <= 0 {
		buffer = DefaultConfig().MemoryBuffer
	}
	return &MemoryBroker{
		name: streamKey(name),
		jobs: make(chan *Message, buffer),
		dead: make(map[string]DLQMessage),
	}
}

// Enqueue adds a copy of msg to the buffer without blocking.
func (b *MemoryBroker) Enqueue(ctx context.Context, msg *Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cp := *msg
	cp.Queue = b.name

	select {
	case b.jobs <- &cp:
	default:
		return "", fmt.Errorf("enqueue %s: %w", cp.ID, ErrQueueFull)
	}

	MessagesEnqueuedTotal.WithLabelValues(b.name).Inc()
	return uuid.NewString(), nil
}

// Depth returns the number of buffered jobs.
func (b *MemoryBroker) Depth() int {
	return len(b.jobs)
}

// MoveToDLQ keeps a failed job in memory.
func (b *MemoryBroker) MoveToDLQ(_ context.Context, msg *Message, reason string) error {
	id := uuid.NewString()

	b.mu.Lock()
	b.dead[id] = DLQMessage{OriginalMessage: msg, FailureReason: reason, MovedAt: time.Now()}
	b.ids = append(b.ids, id)
	b.mu.Unlock()

	DLQMessagesTotal.Inc()
	MessagesProcessedTotal.WithLabelValues("dlq").Inc()
	return nil
}

// Dead returns the DLQ entry IDs in arrival order.
func (b *MemoryBroker) Dead() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.ids))
	copy(out, b.ids)
	return out
}

// Reprocess re-enqueues the given dead jobs with a reset retry count.
func (b *MemoryBroker) Reprocess(ctx context.Context, entryIDs []string) (int, error) {
	reprocessed := 0
	for _, id := range entryIDs {
		b.mu.Lock()
		entry, ok := b.dead[id]
		b.mu.Unlock()
		if !ok {
			continue
		}

		entry.OriginalMessage.RetryCount = 0
		if _, err := b.Enqueue(ctx, entry.OriginalMessage); err != nil {
			return reprocessed, fmt.Errorf("re-enqueue job %s: %w", entry.OriginalMessage.ID, err)
		}

		b.mu.Lock()
		delete(b.dead, id)
		for i, v := range b.ids {
			if v == id {
				b.ids = append(b.ids[:i], b.ids[i+1:]...)
				break
			}
		}
		b.mu.Unlock()

		reprocessed++
	}
	return reprocessed, nil
}

// MemoryDequeuer consumes a MemoryBroker with a pool of goroutines.
type MemoryDequeuer struct {
	broker          *MemoryBroker
	proc            *processor
	log             zerolog.Logger
	concurrency     int
	shutdownTimeout time.Duration
	wg              sync.WaitGroup
	cancel          context.CancelFunc
}

// NewMemoryDequeuer creates a dequeuer for broker.
func NewMemoryDequeuer(broker *MemoryBroker, handler MessageHandler, retry *RetryStrategy, cfg Config, log zerolog.Logger) *MemoryDequeuer {
	cfg = cfg.withDefaults()
	return &MemoryDequeuer{
		broker: broker,
		proc: &processor{
			handler: handler,
			retry:   retry,
			dlq:     broker,
			timeout: cfg.ProcessTimeout,
			log:     log,
		},
		log:             log,
		concurrency:     cfg.Concurrency,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Start launches the consumers.
func (d *MemoryDequeuer) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	for range d.concurrency {
		d.wg.Add(1)
		go d.run(ctx)
	}

	d.log.Info().
		Int("concurrency", d.concurrency).
		Str("queue", d.broker.name).
		Msg("memory dequeuer started")
	return nil
}

// Stop cancels the consumers and waits for in-flight jobs.
func (d *MemoryDequeuer) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	return waitStopped(ctx, &d.wg, d.shutdownTimeout)
}

func (d *MemoryDequeuer) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-d.broker.jobs:
			if backoff, retry := d.proc.handle(ctx, msg); retry {
				go requeueAfter(ctx, d.broker, msg, backoff, d.log)
			}
		}
	}
}
