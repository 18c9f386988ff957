package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// processor runs the handler for one job and applies the retry policy.
// Every dequeuer shares it; only how a retry is scheduled differs per broker.
type processor struct {
	handler MessageHandler
	retry   *RetryStrategy
	dlq     DeadLetterQueue
	timeout time.Duration
	log     zerolog.Logger
}

// handle invokes the handler. When the job should be retried it increments
// msg.RetryCount and returns the backoff with retry=true. Jobs out of retry
// budget are moved to the DLQ.
func (p *processor) handle(ctx context.Context, msg *Message) (backoff time.Duration, retry bool) {
	start := time.Now()

	// In-flight jobs outlive the consumer context so shutdown can drain them.
	processCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	result, err := p.handler.HandleMessage(processCtx, msg)
	MessageProcessingDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		MessagesProcessedTotal.WithLabelValues("completed").Inc()
		p.log.Debug().
			Str("record_id", msg.ID).
			RawJSON("result", nonEmptyJSON(result)).
			Msg("job completed")
		return 0, false
	}

	p.log.Error().
		Err(err).
		Str("record_id", msg.ID).
		Int("retry_count", msg.RetryCount).
		Msg("job failed")

	msg.RetryCount++

	if p.retry.Retryable(err, msg.RetryCount) {
		backoff = p.retry.NextBackoff(msg.RetryCount - 1)
		p.log.Info().
			Str("record_id", msg.ID).
			Int("retry_count", msg.RetryCount).
			Dur("backoff", backoff).
			Msg("scheduling retry")
		MessagesProcessedTotal.WithLabelValues("retried").Inc()
		return backoff, true
	}

	reason := "max retries exhausted"
	if errors.Is(err, ErrPermanent) {
		reason = "permanent failure"
	}
	p.log.Warn().
		Str("record_id", msg.ID).
		Int("retry_count", msg.RetryCount).
		Str("reason", reason).
		Msg("moving job to DLQ")

	if p.dlq != nil {
		if dlqErr := p.dlq.MoveToDLQ(context.WithoutCancel(ctx), msg, err.Error()); dlqErr != nil {
			p.log.Error().Err(dlqErr).Str("record_id", msg.ID).Msg("failed to move to DLQ")
		}
	}
	return 0, false
}

// requeueAfter waits for the backoff then re-enqueues msg. When ctx is done
// first the job is re-enqueued immediately so it survives the shutdown.
func requeueAfter(ctx context.Context, enqueuer Enqueuer, msg *Message, backoff time.Duration, log zerolog.Logger) {
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}

	if _, err := enqueuer.Enqueue(context.WithoutCancel(ctx), msg); err != nil {
		log.Error().Err(err).Str("record_id", msg.ID).Msg("failed to re-enqueue job for retry")
	}
}

// ErrShutdownTimeout is returned by Stop when in-flight jobs outlive the
// shutdown window.
var ErrShutdownTimeout = errors.New("queue: shutdown timed out")

// waitStopped waits for wg within ctx's deadline, or fallback when ctx has
// none.
func waitStopped(ctx context.Context, wg *sync.WaitGroup, fallback time.Duration) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fallback)
		defer cancel()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrShutdownTimeout, context.Cause(ctx))
	}
}

func nonEmptyJSON(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
