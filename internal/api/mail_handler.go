package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mailer/internal/logger"
	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/mailer"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// MailService is the part of mailer.Service the API exposes.
type MailService interface {
	Send(ctx context.Context, in *mail.Input, opts mail.Options) (*mail.Record, error)
	Queue(ctx context.Context, in *mail.Input, opts mail.Options) (*mail.Record, error)
	Unsent(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error)
	Sent(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error)
	Resend(ctx context.Context, criteria mail.Criteria) ([]mailer.Outcome, error)
	Requeue(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error)
}

// RecordReader reads records without state filters.
type RecordReader interface {
	FindByID(ctx context.Context, id string) (*mail.Record, error)
	Find(ctx context.Context, criteria mail.Criteria) ([]*mail.Record, error)
}

// decodeMailRequest reads a mail input from the body. Delivery options are
// taken from the "options" key, or ?fake=true.
func decodeMailRequest(r *http.Request) (*mail.Input, mail.Options, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, mail.Options{}, err
	}

	var in mail.Input
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, mail.Options{}, err
	}

	var envelope struct {
		Options mail.Options `json:"options"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, mail.Options{}, err
	}
	delete(in.Data, "options")

	if fake, _ := strconv.ParseBool(r.URL.Query().Get("fake")); fake {
		envelope.Options.Fake = true
	}
	return &in, envelope.Options, nil
}

// SendHandler handles POST /api/v1/mails.
// It persists the mail and delivers it before responding.
func SendHandler(svc MailService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		in, opts, err := decodeMailRequest(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rec, err := svc.Send(r.Context(), in, opts)
		if err != nil {
			log.Warn().Err(err).Msg("send mail failed")
			respondMailError(w, err, rec)
			return
		}

		respondJSON(w, http.StatusOK, rec)
	}
}

// QueueHandler handles POST /api/v1/mails/queue.
// It persists the mail and hands it to the queue worker.
func QueueHandler(svc MailService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		in, opts, err := decodeMailRequest(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		rec, err := svc.Queue(r.Context(), in, opts)
		if err != nil {
			log.Warn().Err(err).Msg("queue mail failed")
			if rec != nil {
				// Persisted but not enqueued; a later requeue picks it up.
				respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
					"error":  "enqueue_failed",
					"record": rec,
				})
				return
			}
			respondMailError(w, err, nil)
			return
		}

		respondJSON(w, http.StatusAccepted, rec)
	}
}

// ListHandler handles GET /api/v1/mails.
// ?state=unsent|sent narrows the result by delivery state.
func ListHandler(svc MailService, records RecordReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		criteria, err := criteriaFromQuery(r.URL.Query())
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		var recs []*mail.Record
		switch state := r.URL.Query().Get("state"); state {
		case "unsent":
			recs, err = svc.Unsent(r.Context(), criteria)
		case "sent":
			recs, err = svc.Sent(r.Context(), criteria)
		case "":
			recs, err = records.Find(r.Context(), criteria)
		default:
			respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid state %q", state))
			return
		}
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("list mails failed")
			respondError(w, http.StatusInternalServerError, "failed to list mails")
			return
		}

		if recs == nil {
			recs = []*mail.Record{}
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"mails": recs,
			"count": len(recs),
		})
	}
}

// GetHandler handles GET /api/v1/mails/{id}.
func GetHandler(records RecordReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := records.FindByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, mail.ErrNotFound) {
				respondError(w, http.StatusNotFound, "mail not found")
				return
			}
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("get mail failed")
			respondError(w, http.StatusInternalServerError, "failed to get mail")
			return
		}
		respondJSON(w, http.StatusOK, rec)
	}
}

type outcomeResponse struct {
	Record *mail.Record `json:"record,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// ResendHandler handles POST /api/v1/mails/resend.
// The optional body is a criteria object; every matching unsent mail is
// delivered again.
func ResendHandler(svc MailService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		criteria, err := decodeCriteria(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		outcomes, err := svc.Resend(r.Context(), criteria)
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("resend failed")
			respondError(w, http.StatusInternalServerError, "resend failed")
			return
		}

		results := make([]outcomeResponse, len(outcomes))
		failed := 0
		for i, o := range outcomes {
			results[i] = outcomeResponse{Record: o.Record}
			if o.Err != nil {
				results[i].Error = o.Err.Error()
				failed++
			}
		}

		respondJSON(w, http.StatusOK, map[string]interface{}{
			"total":   len(outcomes),
			"failed":  failed,
			"results": results,
		})
	}
}

// RequeueHandler handles POST /api/v1/mails/requeue.
func RequeueHandler(svc MailService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		criteria, err := decodeCriteria(r)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		recs, err := svc.Requeue(r.Context(), criteria)
		failed := joinedCount(err)
		if err != nil {
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Int("requeued", len(recs)).Msg("requeue failed")
			if len(recs) == 0 {
				respondError(w, http.StatusInternalServerError, "requeue failed")
				return
			}
		}

		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"requeued": len(recs),
			"failed":   failed,
		})
	}
}

// joinedCount returns how many errors err carries when it is an
// errors.Join result.
func joinedCount(err error) int {
	if err == nil {
		return 0
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return len(j.Unwrap())
	}
	return 1
}

// decodeCriteria reads an optional JSON criteria body.
func decodeCriteria(r *http.Request) (mail.Criteria, error) {
	var c mail.Criteria
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&c)
	if errors.Is(err, io.EOF) {
		return mail.Criteria{}, nil
	}
	return c, err
}

func criteriaFromQuery(q url.Values) (mail.Criteria, error) {
	c := mail.Criteria{
		Type:      q.Get("type"),
		Sender:    q.Get("sender"),
		Recipient: q.Get("recipient"),
	}
	if ids := q.Get("ids"); ids != "" {
		c.IDs = mail.SplitAddresses([]string{ids})
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c, fmt.Errorf("invalid limit %q", v)
		}
		c.Limit = n
	}
	for key, dst := range map[string]*time.Time{
		"created_after":  &c.CreatedAfter,
		"created_before": &c.CreatedBefore,
	} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return c, fmt.Errorf("invalid %s %q", key, v)
			}
			*dst = t
		}
	}
	return c, nil
}
