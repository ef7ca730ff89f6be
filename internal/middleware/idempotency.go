package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/onnwee/panotour/internal/idempotency"
)

// Idempotency headers.
const (
	IdempotencyKeyHeader     = "Idempotency-Key"
	IdempotentReplayedHeader = "Idempotent-Replayed"
)

// idempotencyResponseWriter captures the response for storage.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
	written    bool
}

// WriteHeader captures the status code.
func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the response body.
func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b[:n])
	return n, err
}

// Idempotency replays the stored response of a POST that repeats an
// Idempotency-Key already used by the same principal. Requests without the
// header, or without an authenticated principal, pass through. Only 2xx
// responses are stored. Reusing a key on another route is rejected with 422
// and a retry racing the original with 409. Repository errors and stored
// bodies that fail their hash check fall through to the handler.
func Idempotency(repo idempotency.Repository, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		mu       sync.Mutex
		inflight = make(map[string]bool)
	)

	reject := func(w http.ResponseWriter, r *http.Request, status int, code, message string) {
		SetErrorCode(r.Context(), code)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}` + "\n"))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyKeyHeader)
			principal := GetUserID(r.Context())
			if r.Method != http.MethodPost || key == "" || principal == "" {
				next.ServeHTTP(w, r)
				return
			}

			if err := idempotency.ValidateKey(key); err != nil {
				if errors.Is(err, idempotency.ErrKeyTooLong) {
					reject(w, r, http.StatusBadRequest, "idempotency_key_too_long", "Idempotency-Key exceeds maximum length of 64 characters")
					return
				}
				reject(w, r, http.StatusBadRequest, "invalid_idempotency_key", "Invalid Idempotency-Key format")
				return
			}

			ctx := r.Context()
			existing, err := repo.Get(ctx, principal, key)
			if err == nil && !existing.Intact() {
				logger.WarnContext(ctx, "stored response failed its hash check, re-executing", "idempotency_key", key)
				existing, err = nil, idempotency.ErrKeyNotFound
			}
			switch {
			case err == nil:
				if !existing.Matches(r.Method, r.URL.Path) {
					reject(w, r, http.StatusUnprocessableEntity, "idempotency_key_reused", "Idempotency-Key was used for a different request")
					return
				}
				logger.InfoContext(ctx, "replaying stored response", "idempotency_key", key, "status", existing.ResponseStatusCode)
				if existing.ContentType != "" {
					w.Header().Set("Content-Type", existing.ContentType)
				}
				if existing.Location != "" {
					w.Header().Set("Location", existing.Location)
				}
				w.Header().Set(IdempotentReplayedHeader, "true")
				w.Header().Set("Content-Length", strconv.Itoa(len(existing.ResponseBody)))
				w.WriteHeader(existing.ResponseStatusCode)
				_, _ = w.Write([]byte(existing.ResponseBody))
				return
			case !errors.Is(err, idempotency.ErrKeyNotFound):
				logger.ErrorContext(ctx, "failed to check idempotency key", "idempotency_key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			scoped := principal + ":" + key
			mu.Lock()
			if inflight[scoped] {
				mu.Unlock()
				reject(w, r, http.StatusConflict, "idempotency_key_in_progress", "A request with this Idempotency-Key is still in progress")
				return
			}
			inflight[scoped] = true
			mu.Unlock()
			defer func() {
				mu.Lock()
				delete(inflight, scoped)
				mu.Unlock()
			}()

			capture := &idempotencyResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}
			body := capture.body.String()
			record := &idempotency.Record{
				Key:                key,
				PrincipalID:        principal,
				Method:             r.Method,
				Route:              r.URL.Path,
				ResponseHash:       idempotency.ComputeResponseHash(body),
				ResponseBody:       body,
				ResponseStatusCode: capture.statusCode,
				ContentType:        capture.Header().Get("Content-Type"),
				Location:           capture.Header().Get("Location"),
			}
			if err := repo.Store(ctx, record); err != nil {
				// The response is already sent.
				logger.ErrorContext(ctx, "failed to store idempotency key", "idempotency_key", key, "error", err)
			}
		})
	}
}
