package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sungwon/mailer/internal/mail"
	"github.com/sungwon/mailer/internal/transport"
)

// respondJSON writes a JSON response with the given status code and data.
// If data is nil, only the status code and Content-Type header are written.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response with the given status code and message.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondValidationErrors writes a 400 response listing the missing fields.
func respondValidationErrors(w http.ResponseWriter, fields []string) {
	respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":   "validation_failed",
		"details": fields,
	})
}

// respondMailError maps a service error to a status code. rec, when set,
// is the persisted record the failed attempt was recorded on.
func respondMailError(w http.ResponseWriter, err error, rec *mail.Record) {
	var (
		ve *mail.ValidationError
		te *transport.Error
	)

	switch {
	case errors.As(err, &ve):
		respondValidationErrors(w, ve.Fields)
	case errors.Is(err, mail.ErrMissingContent):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, mail.ErrNotFound):
		respondError(w, http.StatusNotFound, "mail not found")
	case errors.As(err, &te):
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  "delivery_failed",
			"code":   te.Code,
			"record": rec,
		})
	case rec != nil:
		respondJSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":  "delivery_failed",
			"record": rec,
		})
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
