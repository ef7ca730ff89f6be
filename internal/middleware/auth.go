package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/panotour/internal/auth"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthOptions configures the Authenticate middleware.
type AuthOptions struct {
	// Revocations is consulted for logged-out tokens. Optional.
	Revocations auth.RevocationStore
	// Metrics, when set, counts rejected tokens by reason.
	Metrics *Metrics
	Logger  *slog.Logger
}

// Authenticate resolves the request principal from an "Authorization: Bearer"
// access token. Requests without the header pass through as viewers. A token
// that is present but expired, malformed, of the wrong type or revoked is
// rejected with 401 so clients know to refresh.
func Authenticate(tokens TokenValidator, opts AuthOptions) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reject := func(w http.ResponseWriter, r *http.Request, code, reason string) {
		if opts.Metrics != nil {
			opts.Metrics.IncAuthFailures(reason)
		}
		SetErrorCode(r.Context(), code)
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"` + code + `","message":"Authentication required"}}` + "\n"))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				reject(w, r, "invalid_token", "invalid")
				return
			}

			claims, err := tokens.ValidateToken(strings.TrimSpace(raw))
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					reject(w, r, "token_expired", "expired")
					return
				}
				reject(w, r, "invalid_token", "invalid")
				return
			}
			if claims.Type != auth.TokenTypeAccess {
				reject(w, r, "invalid_token", "wrong_type")
				return
			}

			if opts.Revocations != nil && claims.ID != "" {
				revoked, err := opts.Revocations.IsRevoked(r.Context(), claims.ID)
				if err != nil {
					// Revocation lookups fail open like the rate limiter.
					logger.WarnContext(r.Context(), "revocation check failed", "error", err)
				} else if revoked {
					reject(w, r, "token_revoked", "revoked")
					return
				}
			}

			ctx := auth.WithPrincipal(r.Context(), claims.Principal())
			ctx = SetUserID(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
