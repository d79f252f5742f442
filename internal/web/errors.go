package web

// errors.go maps errors to user-facing messages and HTTP statuses.
//
// Codes quoted to support:
//
//	CAT001  404  No country with that code
//	CAT002  409  A country with that code already exists
//	CAT003  503  The storage backend failed or is unreachable; nothing was changed
//	CAT004  422  Too few measured countries for the statistic
//	CAT005  400  A field value was rejected (code, name, rate, field name)
//	FILE001 413  Request body exceeds IMPORT_MAX_FILE_SIZE
//	IMP001  429  Every import slot is busy; retry shortly
//	REQ001  504  The request timed out or was cancelled
//	ERR000  500  Anything else; the technical error is in the server log

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/analyzer/internal/country"
	"github.com/JonMunkholm/analyzer/internal/ingest"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
	Status  int    // HTTP status
}

// ErrorResponse is the JSON body of every API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type errorKind struct {
	target error
	msg    UserMessage
}

// errorKinds is checked in order with errors.Is; the first match wins.
var errorKinds = []errorKind{
	{country.ErrNotFound, UserMessage{
		Message: "Country not found",
		Action:  "Check the three-letter code",
		Code:    "CAT001",
		Status:  http.StatusNotFound,
	}},
	{country.ErrDuplicateKey, UserMessage{
		Message: "A country with this code already exists",
		Action:  "Use PUT to change an existing country",
		Code:    "CAT002",
		Status:  http.StatusConflict,
	}},
	{country.ErrStorageUnavailable, UserMessage{
		Message: "The database is unavailable; no changes were made",
		Action:  "Please try again in a few moments",
		Code:    "CAT003",
		Status:  http.StatusServiceUnavailable,
	}},
	{country.ErrInsufficientData, UserMessage{
		Message: "Not enough measured countries to compute this statistic",
		Action:  "Add countries with both rates filled in",
		Code:    "CAT004",
		Status:  http.StatusUnprocessableEntity,
	}},
	{country.ErrInvalidValue, UserMessage{
		Message: "Invalid value",
		Action:  "Codes are 3 uppercase letters, names 1-32 characters, rates 0-100",
		Code:    "CAT005",
		Status:  http.StatusBadRequest,
	}},
	{ingest.ErrBusy, UserMessage{
		Message: "Too many imports are running",
		Action:  "Please wait a moment and try again",
		Code:    "IMP001",
		Status:  http.StatusTooManyRequests,
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Please try again",
		Code:    "REQ001",
		Status:  http.StatusGatewayTimeout,
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
		Status:  http.StatusGatewayTimeout,
	}},
}

var unknownError = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

var bodyTooLarge = UserMessage{
	Message: "Request body is too large",
	Action:  "Split the file into smaller imports",
	Code:    "FILE001",
	Status:  http.StatusRequestEntityTooLarge,
}

// MapError converts an error into a UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return unknownError
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return bodyTooLarge
	}

	for _, k := range errorKinds {
		if errors.Is(err, k.target) {
			msg := k.msg
			// Validation errors carry their own precise text.
			if k.target == country.ErrInvalidValue {
				msg.Message = err.Error()
			}
			return msg
		}
	}
	return unknownError
}

// respondError logs the technical error and writes the mapped user message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := MapError(err)

	level := slog.LevelWarn
	if msg.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", msg.Status,
		"error", err.Error(),
		"code", msg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	writeJSON(w, msg.Status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}
