package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"sitehive/internal/database"
	"sitehive/internal/ingest"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	type errorResponse struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrSiteOrHutRequired),
		errors.Is(err, ingest.ErrInvalidBatch),
		errors.Is(err, database.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, database.ErrHutNotFound),
		errors.Is(err, database.ErrSiteNotFound),
		errors.Is(err, database.ErrDeviceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrHutUnassigned),
		errors.Is(err, database.ErrSiteCodeTaken),
		errors.Is(err, database.ErrHutCodeTaken):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// fail writes err with its mapped status. Server errors are logged and their
// detail replaced by message.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger(r).Error(message, "err", err, "path", r.URL.Path)
		writeError(w, status, message)
		return
	}
	writeError(w, status, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	value := formatTime(*t)
	return &value
}
