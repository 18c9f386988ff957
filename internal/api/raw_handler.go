package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sungwon/mailer/internal/archive"
	"github.com/sungwon/mailer/internal/logger"
)

// RawHandler handles GET /api/v1/mails/{id}/raw.
// It serves the archived RFC 5322 message of a mail submitted over SMTP.
func RawHandler(a archive.Archive) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := a.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			if errors.Is(err, archive.ErrNotFound) {
				respondError(w, http.StatusNotFound, "raw message not found")
				return
			}
			log := logger.FromContext(r.Context())
			log.Error().Err(err).Msg("get raw message failed")
			respondError(w, http.StatusInternalServerError, "failed to get raw message")
			return
		}

		w.Header().Set("Content-Type", "message/rfc822")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(raw)
	}
}
