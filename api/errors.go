package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/warp/loyalty-engine/generic"
	"github.com/warp/loyalty-engine/logging"
)

// statusFor maps an error kind to its HTTP status. Anything that is not a
// domain error is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, generic.ErrInvalidPayload):
		return http.StatusBadRequest
	case errors.Is(err, generic.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, generic.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err as {"error": message}. Internal errors are
// logged and replaced with a generic message.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if !generic.IsClientError(err) {
		log := logging.FromContext(r.Context())
		log.Error().Err(err).Str("path", r.URL.Path).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeError(w, statusFor(err), err.Error())
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
