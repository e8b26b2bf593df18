package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// Error represents a structured error response.
//
// Code is one of the entity reason codes (invalid_transition,
// stale_write, not_found, ...) or one of the HTTP-level codes below.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTP-level error codes.
const (
	ErrCodeBadRequest = "bad_request"
	ErrCodeNotFound   = "not_found"
	ErrCodeInternal   = "internal_error"
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
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// reasonStatus maps reason codes to HTTP status codes.
var reasonStatus = map[entity.Reason]int{
	entity.ReasonInvalidTransition:   http.StatusUnprocessableEntity,
	entity.ReasonStaleWrite:          http.StatusConflict,
	entity.ReasonAlreadyExists:       http.StatusConflict,
	entity.ReasonNotFound:            http.StatusNotFound,
	entity.ReasonInvalidEntity:       http.StatusBadRequest,
	entity.ReasonChannelDisconnected: http.StatusServiceUnavailable,
	entity.ReasonResyncFailed:        http.StatusServiceUnavailable,
}

// writeDomainError writes err with the status and code of its reason.
// Errors without a reason are reported as 500 without their detail.
func writeDomainError(w http.ResponseWriter, err error) {
	var re *entity.Error
	if !errors.As(err, &re) {
		writeInternalError(w, "internal server error")
		return
	}
	status, ok := reasonStatus[re.Reason()]
	if !ok {
		writeInternalError(w, "internal server error")
		return
	}
	writeError(w, status, string(re.Reason()), err.Error())
}
