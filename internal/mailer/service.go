package mailer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailer/internal/events"
	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/metrics"
	"github.com/sungwon/mailer/internal/queue"
	"github.com/sungwon/mailer/internal/render"
	"github.com/sungwon/mailer/internal/store"
	"github.com/sungwon/mailer/internal/transport"
)

// localEnvironments are the environments where delivery is simulated.
var localEnvironments = []string{"test", "dev", "development", "local"}

// IsLocal reports whether env is a local environment.
func IsLocal(env string) bool {
	return slices.Contains(localEnvironments, strings.ToLower(strings.TrimSpace(env)))
}

// Config holds the service settings read once at startup.
type Config struct {
	Defaults    mail.Defaults
	Environment string
	// Fields names input data keys persisted into Record.Fields.
	Fields []string
	// QueueName is stamped on enqueued jobs.
	QueueName string
	// ResendConcurrency bounds Resend fan-out; <= 0 means unbounded.
	ResendConcurrency int
}

// Service owns the mail lifecycle: preparing and persisting records,
// delivering them and handing them to the queue.
type Service struct {
	store     store.Store
	renderer  render.Renderer
	transport transport.Transport
	simulator transport.Transport
	enqueuer  queue.Enqueuer
	bus       *events.Bus
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithEnqueuer makes Queue and Requeue publish broker jobs. Without it the
// service only publishes events.
func WithEnqueuer(e queue.Enqueuer) Option {
	return func(s *Service) { s.enqueuer = e }
}

// WithEvents sets the bus Queued and QueueError events are published on.
func WithEvents(b *events.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithSimulator replaces the transport used for local and fake deliveries.
func WithSimulator(t transport.Transport) Option {
	return func(s *Service) { s.simulator = t }
}

// WithClock overrides the time source used for sentAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service. The store is wrapped so every create and save is
// normalized and validated.
func New(
	st store.Store,
	renderer render.Renderer,
	tr transport.Transport,
	cfg Config,
	log zerolog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		store:     store.Validated(st),
		renderer:  renderer,
		transport: tr,
		simulator: transport.NewFake(),
		bus:       events.New(),
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events returns the bus the service publishes on.
func (s *Service) Events() *events.Bus {
	return s.bus
}

// Store returns the validated store the service persists through.
func (s *Service) Store() store.Store {
	return s.store
}

// Prepare merges defaults into in, renders the template for its type and
// persists the resulting pending record.
func (s *Service) Prepare(ctx context.Context, in *mail.Input, opts mail.Options) (*mail.Record, error) {
	merged := in.WithDefaults(s.cfg.Defaults)
	rec := merged.Record(s.cfg.Fields)
	rec.Options = opts

	if s.renderer != nil {
		html, err := s.renderer.Render(ctx, typeOrDefault(rec.Type), merged.TemplateData())
		switch {
		case err != nil:
			lvl := s.log.Warn()
			if errors.Is(err, render.ErrTemplateNotFound) {
				lvl = s.log.Debug()
			}
			lvl.Err(err).Str("type", typeOrDefault(rec.Type)).Msg("template render failed, using supplied content")
		default:
			rec.HTML = html
		}
	}

	if strings.TrimSpace(rec.Text) == "" && strings.TrimSpace(rec.HTML) == "" {
		return nil, mail.ErrMissingContent
	}

	created, err := s.store.Create(ctx, rec)
	if err != nil {
		return nil, err
	}

	metrics.MailsCreatedTotal.WithLabelValues(created.Type).Inc()
	s.log.Debug().Str("id", created.ID).Str("type", created.Type).Msg("mail prepared")

	return created, nil
}

// Send prepares the record and delivers it immediately.
func (s *Service) Send(ctx context.Context, in *mail.Input, opts mail.Options) (*mail.Record, error) {
	rec, err := s.Prepare(ctx, in, opts)
	if err != nil {
		return nil, err
	}
	return s.Deliver(ctx, rec)
}

// Deliver hands rec to the transport and persists the outcome. On a
// transport error the normalized error is stored as the response and the
// original error is returned once the record is saved. SentAt reflects the
// latest attempt: set when the response reports success, cleared otherwise.
func (s *Service) Deliver(ctx context.Context, rec *mail.Record) (*mail.Record, error) {
	tr := s.transportFor(rec)
	start := time.Now()

	resp, sendErr := tr.Deliver(ctx, transport.PayloadFromRecord(rec))
	metrics.DeliveryDuration.WithLabelValues(tr.Name()).Observe(time.Since(start).Seconds())

	if sendErr != nil {
		metrics.DeliveriesTotal.WithLabelValues(tr.Name(), metrics.OutcomeFailed).Inc()
		s.log.Error().Err(sendErr).
			Str("id", rec.ID).
			Str("transport", tr.Name()).
			Msg("mail delivery failed")

		rec.Response = transport.NormalizeError(sendErr)
		rec.SentAt = nil
		saved, err := s.store.Save(ctx, rec)
		if err != nil {
			return nil, err
		}
		return saved, sendErr
	}

	rec.Response = resp
	if resp.Succeeded() {
		now := s.now().UTC()
		rec.SentAt = &now
		metrics.DeliveriesTotal.WithLabelValues(tr.Name(), metrics.OutcomeSent).Inc()
		s.log.Info().
			Str("id", rec.ID).
			Str("transport", tr.Name()).
			Str("provider_id", resp.ID).
			Msg("mail delivered")
	} else {
		rec.SentAt = nil
		metrics.DeliveriesTotal.WithLabelValues(tr.Name(), metrics.OutcomeUnconfirmed).Inc()
		s.log.Warn().
			Str("id", rec.ID).
			Str("transport", tr.Name()).
			Msg("transport response did not confirm delivery")
	}

	saved, err := s.store.Save(ctx, rec)
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Queue prepares the record and hands it to the broker. Failures are
// published as QueueError and returned; nothing is persisted when Prepare
// fails. A failed enqueue leaves the pending record in place for Requeue.
func (s *Service) Queue(ctx context.Context, in *mail.Input, opts mail.Options) (*mail.Record, error) {
	rec, err := s.Prepare(ctx, in, opts)
	if err != nil {
		s.publishQueueError(err)
		return nil, err
	}

	if err := s.enqueue(ctx, rec); err != nil {
		s.publishQueueError(err)
		return rec, err
	}
	return rec, nil
}

// enqueue publishes a job for rec and announces it.
func (s *Service) enqueue(ctx context.Context, rec *mail.Record) error {
	if s.enqueuer != nil {
		entryID, err := s.enqueuer.Enqueue(ctx, queue.NewMessage(rec.ID, s.cfg.QueueName))
		if err != nil {
			s.log.Error().Err(err).Str("id", rec.ID).Msg("failed to enqueue mail")
			return fmt.Errorf("enqueue mail %s: %w", rec.ID, err)
		}
		s.log.Info().Str("id", rec.ID).Str("entry_id", entryID).Msg("mail queued")
	}

	metrics.QueueEventsTotal.WithLabelValues("queued").Inc()
	s.bus.PublishQueued(rec)
	return nil
}

func (s *Service) publishQueueError(err error) {
	metrics.QueueEventsTotal.WithLabelValues("error").Inc()
	s.bus.PublishQueueError(err)
}

// transportFor picks the simulator for local environments and fake
// records.
func (s *Service) transportFor(rec *mail.Record) transport.Transport {
	if rec.Options.Fake || IsLocal(s.cfg.Environment) || s.transport == nil {
		return s.simulator
	}
	return s.transport
}

func typeOrDefault(t string) string {
	if t == "" {
		return mail.DefaultType
	}
	return t
}
