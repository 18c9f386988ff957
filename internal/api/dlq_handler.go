package api

import (
	"encoding/json"
	"net/http"

	"github.com/sungwon/mailer/internal/auth"
	"github.com/sungwon/mailer/internal/logger"
	"github.com/sungwon/mailer/internal/queue"
)

// dlqReprocessRequest is the JSON body for POST /api/v1/dlq/reprocess.
type dlqReprocessRequest struct {
	EntryIDs []string `json:"entry_ids"`
}

// dlqReprocessResponse is the JSON response for a DLQ reprocess operation.
type dlqReprocessResponse struct {
	Reprocessed int `json:"reprocessed"`
	Total       int `json:"total"`
}

// DLQReprocessHandler handles POST /api/v1/dlq/reprocess.
// It moves jobs from the dead letter queue back to the primary queue.
func DLQReprocessHandler(dlq queue.DeadLetterQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var req dlqReprocessRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if len(req.EntryIDs) == 0 {
			respondError(w, http.StatusBadRequest, "entry_ids is required and must not be empty")
			return
		}

		reprocessed, err := dlq.Reprocess(r.Context(), req.EntryIDs)
		if err != nil {
			log.Error().Err(err).
				Str("client", auth.SubjectFromContext(r.Context())).
				Int("requested", len(req.EntryIDs)).
				Int("reprocessed", reprocessed).
				Msg("dlq reprocess failed")
			respondError(w, http.StatusInternalServerError, "reprocess failed")
			return
		}

		log.Info().
			Str("client", auth.SubjectFromContext(r.Context())).
			Int("reprocessed", reprocessed).
			Int("total", len(req.EntryIDs)).
			Msg("dlq reprocess completed")

		respondJSON(w, http.StatusOK, dlqReprocessResponse{
			Reprocessed: reprocessed,
			Total:       len(req.EntryIDs),
		})
	}
}
