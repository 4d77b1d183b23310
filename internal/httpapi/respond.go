package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/clinicflow/appointment-service/internal/apperr"
	"github.com/clinicflow/appointment-service/pkg/logging"
)

func writeJSON(w http.ResponseWriter, logger *logging.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("httpapi: failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps an apperr.Kind to its HTTP status and
// writes {"error": message}. Unclassified errors are treated as StoreError.
func writeError(w http.ResponseWriter, logger *logging.Logger, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindAdmissionDenied:
		status = http.StatusForbidden
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindNotAvailable:
		status = http.StatusBadRequest
	case apperr.KindInvalidTransition:
		status = http.StatusBadRequest
	case apperr.KindUserNotRegistered:
		status = http.StatusBadRequest
	case apperr.KindStore, apperr.KindTransient:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		logger.Error("httpapi: internal error", "error", err)
	}
	writeJSON(w, logger, status, errorBody{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	return dec.Decode(dst)
}
