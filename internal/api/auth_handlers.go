package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/panotour/internal/auth"
)

// ErrCodeInvalidToken indicates a missing, malformed or revoked token.
const ErrCodeInvalidToken = "invalid_token"

// AuthHandlers issues and revokes admin session tokens.
type AuthHandlers struct {
	accounts    *auth.Authenticator
	tokens      *auth.JWTService
	revocations auth.RevocationStore
	logger      *slog.Logger
	now         func() time.Time
}

// NewAuthHandlers creates auth handlers. revocations may be nil, in which
// case logout only tells the client to drop its tokens.
func NewAuthHandlers(accounts *auth.Authenticator, tokens *auth.JWTService, revocations auth.RevocationStore, logger *slog.Logger) *AuthHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandlers{
		accounts:    accounts,
		tokens:      tokens,
		revocations: revocations,
		logger:      logger,
		now:         time.Now,
	}
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries a fresh token pair.
type TokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Role         auth.Role `json:"role"`
}

// RefreshRequest is the body of POST /auth/refresh and, optionally, of
// POST /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// MeResponse describes the current principal.
type MeResponse struct {
	ID    string    `json:"id,omitempty"`
	Email string    `json:"email,omitempty"`
	Role  auth.Role `json:"role"`
}

// Login handles POST /auth/login.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "email and password are required")
		return
	}

	p, err := h.accounts.Authenticate(req.Email, req.Password)
	if err != nil {
		h.logger.WarnContext(r.Context(), "login failed", "reason", "invalid_credentials")
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid email or password")
		return
	}
	h.issue(w, r, p.ID, p.Role)
	h.logger.InfoContext(r.Context(), "admin logged in", "user_id", p.ID)
}

// Refresh handles POST /auth/refresh. The presented refresh token is
// revoked so each one can be used once.
func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}
	claims, ok := h.validate(w, r, req.RefreshToken, auth.TokenTypeRefresh)
	if !ok {
		return
	}
	acc, found := h.accounts.Lookup(claims.Subject)
	if !found {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeInvalidToken, "Account no longer exists")
		return
	}
	h.revoke(r, claims)
	h.issue(w, r, acc.ID, acc.Role)
}

// Logout handles POST /auth/logout. The bearer access token and, when
// given, the refresh token are revoked for their remaining lifetime.
func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	raw, _ := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims, ok := h.validate(w, r, strings.TrimSpace(raw), auth.TokenTypeAccess)
	if !ok {
		return
	}
	h.revoke(r, claims)

	var req RefreshRequest
	if json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req) == nil && req.RefreshToken != "" {
		if rc, err := h.tokens.ValidateToken(req.RefreshToken); err == nil &&
			rc.Type == auth.TokenTypeRefresh && rc.Subject == claims.Subject {
			h.revoke(r, rc)
		}
	}
	h.logger.InfoContext(r.Context(), "admin logged out", "user_id", claims.Subject)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me. Anonymous callers are viewers.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusOK, MeResponse{Role: auth.RoleViewer})
		return
	}
	resp := MeResponse{ID: p.ID, Role: p.Role}
	if acc, found := h.accounts.Lookup(p.ID); found {
		resp.Email = acc.Email
	}
	writeJSON(w, r, http.StatusOK, resp)
}

func (h *AuthHandlers) issue(w http.ResponseWriter, r *http.Request, userID string, role auth.Role) {
	access, err := h.tokens.GenerateAccessToken(userID, role)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to sign access token", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to issue token")
		return
	}
	refresh, err := h.tokens.GenerateRefreshToken(userID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to sign refresh token", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, TokenResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresAt:    h.now().Add(auth.AccessTokenExpiry).UTC(),
		Role:         role,
	})
}

// validate checks raw is an unrevoked token of typ, writing a 401 otherwise.
func (h *AuthHandlers) validate(w http.ResponseWriter, r *http.Request, raw, typ string) (*auth.Claims, bool) {
	if raw == "" {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeInvalidToken, "Token required")
		return nil, false
	}
	claims, err := h.tokens.ValidateToken(raw)
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		WriteError(w, r.Context(), http.StatusUnauthorized, "token_expired", "Token has expired")
		return nil, false
	case err != nil || claims.Type != typ:
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeInvalidToken, "Invalid token")
		return nil, false
	}
	if h.revocations != nil && claims.ID != "" {
		revoked, err := h.revocations.IsRevoked(r.Context(), claims.ID)
		if err != nil {
			h.logger.WarnContext(r.Context(), "revocation check failed", "error", err)
		} else if revoked {
			WriteError(w, r.Context(), http.StatusUnauthorized, "token_revoked", "Token has been revoked")
			return nil, false
		}
	}
	return claims, true
}

func (h *AuthHandlers) revoke(r *http.Request, claims *auth.Claims) {
	if h.revocations == nil || claims.ID == "" {
		return
	}
	ttl := claims.Remaining(h.now())
	if ttl <= 0 {
		return
	}
	if err := h.revocations.Revoke(r.Context(), claims.ID, ttl); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to revoke token", "error", err, "token_type", claims.Type)
	}
}
