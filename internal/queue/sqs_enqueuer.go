package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
)

// maxSQSDelay is the SQS DelaySeconds ceiling.
const maxSQSDelay = 900

// SQSEnqueuer publishes jobs to an AWS SQS queue.
type SQSEnqueuer struct {
	client   sqsAPI
	queueURL string
	log      zerolog.Logger
}

// NewSQSEnqueuer creates a new SQSEnqueuer targeting the given queue URL.
func NewSQSEnqueuer(client sqsAPI, queueURL string, log zerolog.Logger) *SQSEnqueuer {
	return &SQSEnqueuer{
		client:   client,
		queueURL: queueURL,
		log:      log,
	}
}

// Enqueue sends the job as a JSON body and returns the SQS message ID.
func (e *SQSEnqueuer) Enqueue(ctx context.Context, msg *Message) (string, error) {
	return e.send(ctx, msg, 0)
}

// EnqueueWithDelay sends the job with a delivery delay, capped at 900
// seconds.
func (e *SQSEnqueuer) EnqueueWithDelay(ctx context.Context, msg *Message, delaySeconds int32) (string, error) {
	return e.send(ctx, msg, min(delaySeconds, maxSQSDelay))
}

func (e *SQSEnqueuer) send(ctx context.Context, msg *Message, delay int32) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	out, err := e.client.SendMessage(ctx, &sqsSendInput{
		QueueURL:     e.queueURL,
		MessageBody:  string(data),
		DelaySeconds: delay,
		Attributes:   jobAttributes(msg),
	})
	if err != nil {
		return "", fmt.Errorf("sqs send message: %w", err)
	}

	MessagesEnqueuedTotal.WithLabelValues(msg.Queue).Inc()

	return out.MessageID, nil
}

// jobAttributes exposes the record id and attempt number as message
// attributes so jobs can be inspected in the SQS console without decoding
// the body.
func jobAttributes(msg *Message) map[string]string {
	return map[string]string{
		attrRecordID:   msg.ID,
		attrQueue:      msg.Queue,
		attrRetryCount: strconv.Itoa(msg.RetryCount),
	}
}

const (
	attrRecordID      = "record_id"
	attrQueue         = "queue"
	attrRetryCount    = "retry_count"
	attrFailureReason = "failure_reason"
)
