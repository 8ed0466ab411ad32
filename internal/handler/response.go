package handler

// RESPONSE FORMAT:
// Every JSON endpoint answers with the same envelope:
//
//	{"status": "ok",    "data": {...}}
//	{"status": "error", "message": "Invalid phone", "field": "phone"}
//
// Status codes are chosen in exactly one place, writeError (and
// writeOAuthError for the provider callback), so services never see HTTP.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/sakif/authlink/internal/apperror"
	"github.com/sakif/authlink/internal/auth"
)

// Response is the JSON envelope.
type Response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
	Error   string `json:"error,omitempty"` // machine-readable OAuth failure kind
}

const maxRequestBody = 1 << 20

// writeJSON sets headers, then status, then body. Headers written after the
// body are silently dropped.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func writeOK(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Response{Status: "ok", Data: data})
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Response{Status: "ok", Message: message})
}

// writeError maps an error to a status code. Only AppError messages reach
// the client; anything else becomes a generic 500.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("internal error", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, Response{
			Status:  "error",
			Message: "An internal error occurred",
		})
		return
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperror.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, apperror.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, apperror.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperror.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperror.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, apperror.ErrUnsupportedMedia):
		status = http.StatusUnsupportedMediaType
	}

	writeJSON(w, status, Response{
		Status:  "error",
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

// oauthStatus is 400 for every failure kind except these.
var oauthStatus = map[auth.Kind]int{
	auth.KindInsufficientScope: http.StatusForbidden,
	auth.KindIdentityConflict:  http.StatusConflict,
}

// writeOAuthError answers a failed provider callback. The body names the
// failure kind and never carries upstream error text.
func writeOAuthError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind, ok := auth.KindOf(err)
	if !ok {
		writeError(w, logger, err)
		return
	}
	status, ok := oauthStatus[kind]
	if !ok {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, Response{
		Status:  "error",
		Message: kind.Message(),
		Error:   kind.String(),
	})
}

// readJSON decodes a JSON request body into dst.
func readJSON(r *http.Request, dst any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return apperror.UnsupportedMedia("Expected application/json")
	}

	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		return apperror.ValidationFailed("", "Invalid JSON")
	}
	return nil
}

// NotFound and MethodNotAllowed keep router-level errors in the envelope.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, Response{Status: "error", Message: "Not found"})
}

func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, Response{Status: "error", Message: "Method not allowed"})
}
