package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Mail pipeline metrics
var (
	MailsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_mails_created_total",
			Help: "Total number of mail records persisted",
		},
		[]string{"type"},
	)

	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_deliveries_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"transport", "outcome"}, // sent, unconfirmed, failed
	)

	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailer_delivery_duration_seconds",
			Help:    "Duration of transport delivery calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport"},
	)

	QueueEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_queue_events_total",
			Help: "Total number of queue events published",
		},
		[]string{"event"}, // queued, error
	)
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailer_api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailer_api_auth_failures_total",
			Help: "Total number of API authentication failures",
		},
	)
)

// SMTP ingress metrics
var (
	SMTPConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_smtp_connections_total",
			Help: "Total number of SMTP submission connections",
		},
		[]string{"status"}, // accepted, rejected
	)

	SMTPActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailer_smtp_active_sessions",
			Help: "Number of currently active SMTP sessions",
		},
	)

	SMTPAuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_smtp_auth_attempts_total",
			Help: "Total number of SMTP authentication attempts",
		},
		[]string{"result"}, // success, failure
	)

	SMTPMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailer_smtp_messages_total",
			Help: "Total number of messages submitted over SMTP",
		},
		[]string{"result"}, // queued, rejected, failed
	)
)

// Outcome labels for DeliveriesTotal.
const (
	OutcomeSent        = "sent"
	OutcomeUnconfirmed = "unconfirmed"
	OutcomeFailed      = "failed"
)
