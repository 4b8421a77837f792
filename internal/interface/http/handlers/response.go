package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// APIVersion is reported in every response's meta.
const APIVersion = "v1"

// JSONResponse is the envelope every endpoint writes.
type JSONResponse struct {
	Success bool          `json:"success"`
	Data    any           `json:"data,omitempty"`
	Error   *APIError     `json:"error,omitempty"`
	Meta    *ResponseMeta `json:"meta"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Count     *int      `json:"count,omitempty"`
}

// Error codes.
const (
	CodeValidation    = "validation_error"
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeForbidden     = "forbidden"
	CodeUnauthorized  = "unauthorized"
	CodeUnavailable   = "service_unavailable"
	CodeFeatureOff    = "feature_disabled"
	CodeInternalError = "internal_error"
)

func newMeta() *ResponseMeta {
	return &ResponseMeta{Timestamp: time.Now().UTC(), Version: APIVersion}
}

// WriteJSON writes a success envelope around data.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	write(w, status, JSONResponse{Success: true, Data: data, Meta: newMeta()})
}

// WriteList writes a success envelope whose meta carries the item count.
func WriteList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	meta := newMeta()
	n := len(items)
	meta.Count = &n
	write(w, http.StatusOK, JSONResponse{Success: true, Data: items, Meta: meta})
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	write(w, status, JSONResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    newMeta(),
	})
}

// WriteDomainError maps err onto a status and code. Domain errors keep
// their message; anything else is reported as an internal error.
func WriteDomainError(w http.ResponseWriter, err error) {
	status, code := ClassifyError(err)
	message := "An unexpected error occurred"
	var de *shared.DomainError
	if errors.As(err, &de) {
		message = de.Message
	} else if status != http.StatusInternalServerError {
		message = err.Error()
	}
	WriteError(w, status, code, message)
}

// ClassifyError returns the HTTP status and error code for err.
func ClassifyError(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, shared.ErrAlreadyExists),
		errors.Is(err, shared.ErrInvalidState),
		errors.Is(err, shared.ErrStateTransition),
		errors.Is(err, shared.ErrConcurrentModification):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized, CodeUnauthorized
	case errors.Is(err, shared.ErrServiceUnavailable),
		errors.Is(err, shared.ErrTimeout):
		return http.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidInput),
		errors.Is(err, shared.ErrInvalidID),
		errors.Is(err, shared.ErrEmptyValue),
		errors.Is(err, shared.ErrNegativeValue),
		errors.Is(err, shared.ErrValueOutOfRange),
		errors.Is(err, shared.ErrInvalidFormat),
		errors.Is(err, shared.ErrFutureTimestamp):
		return http.StatusBadRequest, CodeValidation
	}
	return http.StatusInternalServerError, CodeInternalError
}

func write(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
