package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SQSDequeuer runs a pool of long-polling consumers on an SQS queue. The
// visibility timeout gives each message a single active claim.
type SQSDequeuer struct {
	client          sqsAPI
	queueURL        string
	proc            *processor
	enqueuer        *SQSEnqueuer
	log             zerolog.Logger
	concurrency     int
	waitTime        int32
	visTimeout      int32
	shutdownTimeout time.Duration
	wg              sync.WaitGroup
	cancel          context.CancelFunc
}

// NewSQSDequeuer creates an SQSDequeuer configured from cfg.
func NewSQSDequeuer(
	client sqsAPI,
	queueURL string,
	handler MessageHandler,
	dlq DeadLetterQueue,
	retry *RetryStrategy,
	enqueuer *SQSEnqueuer,
	cfg Config,
	log zerolog.Logger,
) *SQSDequeuer {
	cfg = cfg.withDefaults()

	waitTime := cfg.SQSWaitTime
	if waitTime == 0 {
		waitTime = 20
	}
	visTimeout := cfg.SQSVisTimeout
	if visTimeout == 0 {
		visTimeout = 30
	}

	return &SQSDequeuer{
		client:   client,
		queueURL: queueURL,
		proc: &processor{
			handler: handler,
			retry:   retry,
			dlq:     dlq,
			timeout: cfg.ProcessTimeout,
			log:     log,
		},
		enqueuer:        enqueuer,
		log:             log,
		concurrency:     cfg.Concurrency,
		waitTime:        waitTime,
		visTimeout:      visTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Start launches the long-polling consumers.
func (d *SQSDequeuer) Start(ctx context.Context) error {
	ctx, d.cancel = context.WithCancel(ctx)

	for i := range d.concurrency {
		d.wg.Add(1)
		go d.runWorker(ctx, fmt.Sprintf("sqs-consumer-%d", i))
	}

	d.log.Info().
		Int("concurrency", d.concurrency).
		Str("queue_url", d.queueURL).
		Msg("sqs dequeuer started")

	return nil
}

// Stop cancels polling and waits for in-flight jobs.
func (d *SQSDequeuer) Stop(ctx context.Context) error {
	if d.cancel == nil {
		return nil
	}
	d.cancel()

	if err := waitStopped(ctx, &d.wg, d.shutdownTimeout); err != nil {
		d.log.Warn().Err(err).Msg("sqs dequeuer shutdown timed out")
		return err
	}
	d.log.Info().Msg("sqs dequeuer stopped gracefully")
	return nil
}

func (d *SQSDequeuer) runWorker(ctx context.Context, name string) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			d.log.Debug().Str("consumer", name).Msg("sqs consumer stopping")
			return
		default:
		}

		out, err := d.client.ReceiveMessage(ctx, &sqsReceiveInput{
			QueueURL:            d.queueURL,
			MaxNumberOfMessages: 1,
			WaitTimeSeconds:     d.waitTime,
			VisibilityTimeout:   d.visTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.log.Error().Err(err).Str("consumer", name).Msg("sqs receive error")
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, sqsMsg := range out.Messages {
			d.processMessage(ctx, sqsMsg)
		}
	}
}

// processMessage runs the handler and deletes the message whatever the
// outcome; retries are re-sent with a delay.
func (d *SQSDequeuer) processMessage(ctx context.Context, sqsMsg sqsReceivedMessage) {
	delCtx := context.WithoutCancel(ctx)

	msg, err := decodeSQSMessage(sqsMsg)
	if err != nil {
		d.log.Error().Err(err).
			Str("sqs_message_id", sqsMsg.MessageID).
			Msg("failed to decode sqs message")
		d.delete(delCtx, sqsMsg)
		return
	}

	if backoff, retry := d.proc.handle(ctx, msg); retry {
		delaySec := max(int32(backoff.Seconds()), 1)
		if _, err := d.enqueuer.EnqueueWithDelay(delCtx, msg, delaySec); err != nil {
			d.log.Error().Err(err).Str("record_id", msg.ID).Msg("failed to re-enqueue for retry")
		}
	}

	d.delete(delCtx, sqsMsg)
}

func (d *SQSDequeuer) delete(ctx context.Context, sqsMsg sqsReceivedMessage) {
	if err := d.client.DeleteMessage(ctx, &sqsDeleteInput{
		QueueURL:      d.queueURL,
		ReceiptHandle: sqsMsg.ReceiptHandle,
	}); err != nil {
		d.log.Error().Err(err).
			Str("sqs_message_id", sqsMsg.MessageID).
			Msg("failed to delete sqs message")
	}
}

// decodeSQSMessage reads the job from the body. Messages published by other
// producers may carry only the record_id attribute; those become a fresh job
// for that record.
func decodeSQSMessage(sqsMsg sqsReceivedMessage) (*Message, error) {
	var msg Message
	err := json.Unmarshal([]byte(sqsMsg.Body), &msg)
	if err == nil && msg.ID != "" {
		return &msg, nil
	}
	if id := sqsMsg.Attributes[attrRecordID]; id != "" {
		return NewMessage(id, sqsMsg.Attributes[attrQueue]), nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}
