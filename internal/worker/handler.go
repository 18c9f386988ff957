package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/queue"
	"github.com/sungwon/mailer/internal/transport"
)

// recordFinder loads the record a job refers to.
type recordFinder interface {
	FindByID(ctx context.Context, id string) (*mail.Record, error)
}

// deliverer sends a persisted record and stores the outcome.
type deliverer interface {
	Deliver(ctx context.Context, rec *mail.Record) (*mail.Record, error)
}

// Handler implements queue.MessageHandler. It resolves the record a job
// references and delivers it.
type Handler struct {
	records recordFinder
	mailer  deliverer
	log     zerolog.Logger
}

// NewHandler creates a Handler that loads records from records and delivers
// them through d.
func NewHandler(records recordFinder, d deliverer, log zerolog.Logger) *Handler {
	return &Handler{
		records: records,
		mailer:  d,
		log:     log,
	}
}

// HandleMessage implements queue.MessageHandler. The completion result is
// the record's delivery response encoded as JSON. Permanent transport
// failures are marked so the broker dead-letters them without retrying.
func (h *Handler) HandleMessage(ctx context.Context, msg *queue.Message) (json.RawMessage, error) {
	if msg == nil || msg.ID == "" {
		// Malformed job: complete it without retrying.
		h.log.Warn().Msg("job without record id, completing")
		return nil, nil
	}

	rec, err := h.records.FindByID(ctx, msg.ID)
	if err != nil {
		if errors.Is(err, mail.ErrNotFound) {
			return nil, &mail.NotFoundError{ID: msg.ID}
		}
		return nil, fmt.Errorf("load mail %s: %w", msg.ID, err)
	}

	if rec.SentAt != nil {
		// A second job for a record that already went out.
		h.log.Info().Str("id", rec.ID).Msg("mail already sent, completing job")
		return encodeResponse(rec)
	}

	delivered, err := h.mailer.Deliver(ctx, rec)
	if err != nil {
		err = fmt.Errorf("deliver mail %s: %w", msg.ID, err)
		if transport.IsPermanent(err) {
			return nil, queue.Permanent(err)
		}
		return nil, err
	}

	return encodeResponse(delivered)
}

func encodeResponse(rec *mail.Record) (json.RawMessage, error) {
	if rec == nil || rec.Response == nil {
		return nil, nil
	}
	result, err := json.Marshal(rec.Response)
	if err != nil {
		return nil, fmt.Errorf("encode response for %s: %w", rec.ID, err)
	}
	return result, nil
}
