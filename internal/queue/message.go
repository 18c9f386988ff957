package queue

import "time"

// DefaultName is the queue mail jobs are published to.
const DefaultName = "mail:queued"

// Message is a queued delivery job. It carries only the record id; the worker
// loads the record from the store.
type Message struct {
	ID         string    `json:"id"`
	Queue      string    `json:"queue"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewMessage creates a job for the given mail record.
func NewMessage(recordID, queueName string) *Message {
	if queueName == "" {
		queueName = DefaultName
	}
	return &Message{
		ID:        recordID,
		Queue:     queueName,
		CreatedAt: time.Now(),
	}
}

// streamKey returns the Redis stream key for a queue.
func streamKey(queueName string) string {
	if queueName == "" {
		return DefaultName
	}
	return queueName
}

// dlqStreamKey returns the Redis DLQ stream key for a queue.
func dlqStreamKey(queueName string) string {
	return streamKey(queueName) + ":dlq"
}
