package mailer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/sungwon/mailer/internal/mail"
)

// Outcome is the result of one delivery in a Resend batch. Record is the
// persisted record when the save succeeded.
type Outcome struct {
	Record *mail.Record `json:"record,omitempty"`
	Err    error        `json:"-"`
}

// Unsent returns records without a sentAt timestamp. The sentAt filter
// always overrides criteria.
func (s *Service) Unsent(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error) {
	return s.store.Find(ctx, criteria.WithSent(false))
}

// Sent returns records with a sentAt timestamp. The sentAt filter always
// overrides criteria.
func (s *Service) Sent(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error) {
	return s.store.Find(ctx, criteria.WithSent(true))
}

// Resend delivers every unsent record matching criteria in parallel and
// returns one outcome per record, in query order. Individual failures are
// reported in their outcome and never abort the batch.
func (s *Service) Resend(ctx context.Context, criteria mail.Criteria) ([]Outcome, error) {
	records, err := s.Unsent(ctx, criteria)
	if err != nil {
		return nil, fmt.Errorf("find unsent: %w", err)
	}

	outcomes := make([]Outcome, len(records))

	var g errgroup.Group
	if s.cfg.ResendConcurrency > 0 {
		g.SetLimit(s.cfg.ResendConcurrency)
	}
	for i, rec := range records {
		g.Go(func() error {
			delivered, err := s.Deliver(ctx, rec)
			if delivered == nil {
				delivered = rec
			}
			outcomes[i] = Outcome{Record: delivered, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	s.log.Info().
		Int("total", len(outcomes)).
		Int("failed", failed).
		Msg("resend finished")

	return outcomes, nil
}

// Requeue announces every unsent record matching criteria as queued again,
// enqueueing a job per record when a broker is configured. No delivery is
// attempted here. A failed enqueue does not stop the pass: the records that
// were requeued are returned together with the joined enqueue errors.
func (s *Service) Requeue(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error) {
	records, err := s.Unsent(ctx, criteria)
	if err != nil {
		s.publishQueueError(err)
		return nil, fmt.Errorf("find unsent: %w", err)
	}

	requeued := make([]*mail.Record, 0, len(records))
	var errs []error
	for _, rec := range records {
		if err := s.enqueue(ctx, rec); err != nil {
			s.publishQueueError(err)
			errs = append(errs, err)
			continue
		}
		requeued = append(requeued, rec)
	}

	if len(errs) > 0 {
		s.log.Warn().
			Int("requeued", len(requeued)).
			Int("failed", len(errs)).
			Msg("requeue finished with errors")
	}
	return requeued, errors.Join(errs...)
}
