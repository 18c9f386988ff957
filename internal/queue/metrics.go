package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	MessagesEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_queue_jobs_enqueued_total",
			Help: "Total number of mail jobs enqueued",
		},
		[]string{"queue"},
	)

	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_queue_jobs_processed_total",
			Help: "Total number of mail jobs processed by status",
		},
		[]string{"status"}, // completed, retried, dlq
	)

	MessageProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailer_queue_job_duration_seconds",
			Help:    "Duration of mail job processing",
			Buckets: prometheus.DefBuckets,
		},
	)

	DLQMessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailer_queue_dlq_jobs_total",
			Help: "Total number of mail jobs moved to the dead letter queue",
		},
	)
)
