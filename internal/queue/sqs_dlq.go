package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
)

// SQSDLQ keeps dead jobs on a separate SQS queue.
type SQSDLQ struct {
	client   sqsAPI
	dlqURL   string
	enqueuer Enqueuer
	log      zerolog.Logger
}

// NewSQSDLQ creates an SQSDLQ on dlqURL. Reprocess re-enqueues through
// enqueuer.
func NewSQSDLQ(client sqsAPI, dlqURL string, enqueuer Enqueuer, log zerolog.Logger) *SQSDLQ {
	return &SQSDLQ{
		client:   client,
		dlqURL:   dlqURL,
		enqueuer: enqueuer,
		log:      log,
	}
}

// MoveToDLQ sends the failed job, wrapped in a DLQMessage, to the DLQ.
func (d *SQSDLQ) MoveToDLQ(ctx context.Context, msg *Message, reason string) error {
	data, err := json.Marshal(DLQMessage{
		OriginalMessage: msg,
		FailureReason:   reason,
		MovedAt:         time.Now(),
	})
	if err != nil {
		return fmt.Errorf("marshal dlq message: %w", err)
	}

	attrs := jobAttributes(msg)
	attrs[attrFailureReason] = truncate(reason, 256)
	if _, err := d.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:    d.dlqURL,
		MessageBody: string(data),
		Attributes:  attrs,
	}); err != nil {
		return fmt.Errorf("sqs send to dlq: %w", err)
	}

	DLQMessagesTotal.Inc()
	MessagesProcessedTotal.WithLabelValues("dlq").Inc()

	return nil
}

// Reprocess polls one batch from the DLQ and re-enqueues the jobs whose SQS
// message ID is in entryIDs; other messages become visible again after the
// visibility timeout. SQS cannot fetch by ID, so this is best effort.
func (d *SQSDLQ) Reprocess(ctx context.Context, entryIDs []string) (int, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}

	out, err := d.client.ReceiveMessage(ctx, &sqsReceiveInput{
		QueueURL:            d.dlqURL,
		MaxNumberOfMessages: 10,
		VisibilityTimeout:   30,
	})
	if err != nil {
		return 0, fmt.Errorf("sqs receive from dlq: %w", err)
	}

	reprocessed := 0
	for _, sqsMsg := range out.Messages {
		if !slices.Contains(entryIDs, sqsMsg.MessageID) {
			continue
		}

		var dlqMsg DLQMessage
		if err := json.Unmarshal([]byte(sqsMsg.Body), &dlqMsg); err != nil || dlqMsg.OriginalMessage == nil {
			d.log.Warn().Err(err).Str("sqs_message_id", sqsMsg.MessageID).Msg("skipping malformed dlq message")
			continue
		}

		dlqMsg.OriginalMessage.RetryCount = 0
		if _, err := d.enqueuer.Enqueue(ctx, dlqMsg.OriginalMessage); err != nil {
			return reprocessed, fmt.Errorf("re-enqueue job %s: %w", dlqMsg.OriginalMessage.ID, err)
		}

		if err := d.client.DeleteMessage(ctx, &sqsDeleteInput{
			QueueURL:      d.dlqURL,
			ReceiptHandle: sqsMsg.ReceiptHandle,
		}); err != nil {
			return reprocessed, fmt.Errorf("delete dlq message: %w", err)
		}

		reprocessed++
	}

	return reprocessed, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
