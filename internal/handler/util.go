package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dokuprime/helpdesk-assistant/internal/lock"
	"github.com/dokuprime/helpdesk-assistant/internal/service"
	"github.com/dokuprime/helpdesk-assistant/internal/store"
	"github.com/dokuprime/helpdesk-assistant/pkg/logger"
)

// retryAfterSeconds is advertised when the store or a conversation lock is
// temporarily unavailable.
const retryAfterSeconds = 5

// maxBodyBytes caps request bodies.
const maxBodyBytes = 64 << 10

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// decodeJSON decodes a bounded request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// errorStatus maps service errors to HTTP statuses.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, lock.ErrLockTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError logs err and writes the mapped status. message is
// shown to the caller for server-side failures.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, message string) {
	status := errorStatus(err)
	switch status {
	case http.StatusBadRequest, http.StatusNotFound:
		writeError(w, status, err.Error())
		return
	}
	writeFailure(w, log, err, status, message)
}

// writeTurnError is writeServiceError for the chat endpoint: apart from an
// empty query, the caller only ever sees the apology.
func writeTurnError(w http.ResponseWriter, log *logger.Logger, err error, apology string) {
	status := errorStatus(err)
	switch status {
	case http.StatusBadRequest:
		writeError(w, status, err.Error())
		return
	case http.StatusNotFound:
		status = http.StatusInternalServerError
	}
	writeFailure(w, log, err, status, apology)
}

func writeFailure(w http.ResponseWriter, log *logger.Logger, err error, status int, message string) {
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	log.Error("request failed", zap.Int("status", status), zap.Error(err))
	writeError(w, status, message)
}
