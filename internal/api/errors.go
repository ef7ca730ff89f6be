// Package api provides the HTTP handlers of the tour server and its
// standardized error responses.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/onnwee/panotour/internal/editor"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/scene"
)

// Common error codes used throughout the API.
const (
	// ErrCodeValidation indicates input validation failure.
	ErrCodeValidation = "validation_error"

	// ErrCodeAuthFailed indicates authentication failure.
	ErrCodeAuthFailed = "auth_failed"

	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound = "not_found"

	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal = "internal_error"

	// ErrCodeForbidden indicates the request is forbidden.
	ErrCodeForbidden = "forbidden"

	// ErrCodeConflict indicates a conflict with the current state.
	ErrCodeConflict = "conflict"

	// ErrCodeBadRequest indicates a malformed request.
	ErrCodeBadRequest = "bad_request"

	// ErrCodeMethodNotAllowed indicates the route exists for other methods.
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// ErrCodeSceneNotFound indicates the scene was not found.
	ErrCodeSceneNotFound = "scene_not_found"

	// ErrCodeDuplicateSlug indicates another scene already uses the slug.
	ErrCodeDuplicateSlug = "duplicate_slug"

	// ErrCodeNoChanges indicates an update that changes nothing.
	ErrCodeNoChanges = "no_changes"

	// ErrCodeUnsupportedType indicates an unsupported panorama content type.
	ErrCodeUnsupportedType = "unsupported_type"

	// ErrCodeFileTooLarge indicates the upload exceeds the size limit.
	ErrCodeFileTooLarge = "file_too_large"

	// ErrCodeTourUnavailable indicates the published tour could not be loaded.
	ErrCodeTourUnavailable = "tour_unavailable"

	// ErrCodeNotAcceptable indicates no supported representation was requested.
	ErrCodeNotAcceptable = "not_acceptable"
)

// ErrorResponse represents the standard error response format.
// All API errors return JSON in this structure: {"error": {"code": "...", "message": "..."}}
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the error code and human-readable message. Fields
// lists per-field problems for validation errors.
type ErrorDetail struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  []editor.FieldError `json:"fields,omitempty"`
}

// WriteError writes a standardized JSON error response and records code for
// the logging middleware.
//
// Format: {"error": {"code": "error_code", "message": "Error description"}}
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	writeErrorDetail(w, ctx, status, ErrorDetail{Code: code, Message: message})
}

func writeErrorDetail(w http.ResponseWriter, ctx context.Context, status int, detail ErrorDetail) {
	ctx = middleware.SetErrorCode(ctx, detail.Code)

	data, err := json.Marshal(ErrorResponse{Error: detail})
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// StatusCodeMapping returns the recommended HTTP status code for common error codes.
func StatusCodeMapping(code string) int {
	switch code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeNoChanges, ErrCodeUnsupportedType:
		return http.StatusBadRequest
	case ErrCodeAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeNotFound, ErrCodeSceneNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodeNotAcceptable:
		return http.StatusNotAcceptable
	case ErrCodeConflict, ErrCodeDuplicateSlug:
		return http.StatusConflict
	case ErrCodeFileTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeTourUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeEditorError maps editor and repository errors onto the envelope.
func writeEditorError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var verr *editor.ValidationError
	switch {
	case errors.Is(err, editor.ErrForbidden):
		WriteError(w, ctx, http.StatusForbidden, ErrCodeForbidden, "Admin role required")
	case errors.Is(err, scene.ErrDuplicateSlug):
		detail := ErrorDetail{Code: ErrCodeDuplicateSlug, Message: "Slug is already used by another scene"}
		if errors.As(err, &verr) {
			detail.Fields = verr.Problems
		}
		writeErrorDetail(w, ctx, http.StatusConflict, detail)
	case errors.As(err, &verr):
		writeErrorDetail(w, ctx, http.StatusBadRequest, ErrorDetail{
			Code:    ErrCodeValidation,
			Message: verr.Error(),
			Fields:  verr.Problems,
		})
	case errors.Is(err, scene.ErrDuplicateID):
		WriteError(w, ctx, http.StatusConflict, ErrCodeConflict, "Hotspot id is already used by another scene")
	case errors.Is(err, scene.ErrInvalidID):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "Ids must be UUIDs")
	case errors.Is(err, scene.ErrSceneNotFound):
		WriteError(w, ctx, http.StatusNotFound, ErrCodeSceneNotFound, "Scene not found")
	case errors.Is(err, scene.ErrNoChanges):
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeNoChanges, "No fields to update")
	default:
		slog.ErrorContext(ctx, "admin operation failed", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
	}
}

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// decodeJSON reads a JSON body, rejecting unknown fields. It writes the error
// response itself and reports whether decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return false
	}
	return true
}

// methodNotAllowed writes the 405 envelope with an Allow header.
func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
}
