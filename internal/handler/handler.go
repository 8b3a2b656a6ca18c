package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"mpifleet/internal/domain"
)

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message, details string, status int) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMachineNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrScanInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidScanRange):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeDomainError reports err with the status it maps to. Server errors
// are logged; client errors are not.
func writeDomainError(w http.ResponseWriter, log zerolog.Logger, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(message)
	}
	writeError(w, message, err.Error(), status)
}
