package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jmcallister/perimeter-core/internal/device"
	"github.com/jmcallister/perimeter-core/internal/engine"
)

// Error represents a structured error response.
// Devices and UIs both receive the same `{status: "error", ...}` shape.
type Error struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest  = "bad_request"
	ErrCodeNotFound    = "not_found"
	ErrCodeConflict    = "conflict"
	ErrCodeUnavailable = "store_unavailable"
	ErrCodeInternal    = "internal_error"
	ErrCodeValidation  = "validation_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeValidation, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDomainError maps registry and engine errors onto HTTP responses.
// Store outages surface as 503 so callers know to retry; they are never
// reported as success.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrIPConflict):
		writeError(w, http.StatusConflict, ErrCodeConflict, "ip address already bound to another device")
	case errors.Is(err, device.ErrExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, "device already exists")
	case errors.Is(err, device.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "device registry unavailable")
	case errors.Is(err, device.ErrInvalidDevice), errors.Is(err, device.ErrInvalidKind):
		writeBadRequest(w, err.Error())
	case errors.Is(err, engine.ErrNotSensor), errors.Is(err, engine.ErrNotAlarm):
		writeBadRequest(w, err.Error())
	default:
		writeInternalError(w, "internal server error")
	}
}
