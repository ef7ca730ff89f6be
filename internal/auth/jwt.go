// Package auth issues and validates admin session tokens and resolves the
// current principal of a request.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token type constants for the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Token expiration durations.
const (
	AccessTokenExpiry  = 15 * time.Minute
	RefreshTokenExpiry = 7 * 24 * time.Hour
)

// Default leeway for token validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrExpiredToken is returned when the token has expired.
var ErrExpiredToken = errors.New("token has expired")

// ErrEmptyUserID is returned when userID is empty.
var ErrEmptyUserID = errors.New("userID cannot be empty")

// Claims represents the tour's JWT claims. ID (jti) identifies the token for
// revocation on logout.
type Claims struct {
	jwt.RegisteredClaims
	Role Role   `json:"role,omitempty"` // Only set on access tokens
	Type string `json:"typ"`            // Token type: "access" or "refresh"
}

// Principal returns the principal the claims describe.
func (c *Claims) Principal() Principal {
	return Principal{ID: c.Subject, Role: c.Role}
}

// Issuer is the iss claim on every token and is required on validation.
const Issuer = "panotour"

// JWTService signs HS256 tokens with its current secret and accepts tokens
// signed with either the current or, during rotation, the previous secret.
type JWTService struct {
	current  []byte
	previous []byte
	leeway   time.Duration
	now      func() time.Time
}

// JWTOption configures a JWTService.
type JWTOption func(*JWTService)

// WithPreviousSecret keeps accepting tokens signed with secret. An empty
// secret is ignored.
func WithPreviousSecret(secret string) JWTOption {
	return func(s *JWTService) {
		if secret != "" {
			s.previous = []byte(secret)
		}
	}
}

// WithLeeway sets the clock skew tolerated on exp and iat.
func WithLeeway(d time.Duration) JWTOption {
	return func(s *JWTService) { s.leeway = d }
}

// NewJWTService creates a JWTService signing with secret.
func NewJWTService(secret string, opts ...JWTOption) *JWTService {
	s := &JWTService{current: []byte(secret), leeway: DefaultLeeway, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateAccessToken issues a short-lived token carrying role.
func (s *JWTService) GenerateAccessToken(userID string, role Role) (string, error) {
	return s.sign(userID, role, TokenTypeAccess, AccessTokenExpiry)
}

// GenerateRefreshToken issues a long-lived token with no role; it is only
// accepted by the refresh endpoint.
func (s *JWTService) GenerateRefreshToken(userID string) (string, error) {
	return s.sign(userID, "", TokenTypeRefresh, RefreshTokenExpiry)
}

func (s *JWTService) sign(userID string, role Role, typ string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
		Type: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.current)
}

// ValidateToken returns the claims of a well-signed, unexpired token. It
// returns ErrExpiredToken or ErrInvalidToken otherwise.
func (s *JWTService) ValidateToken(raw string) (*Claims, error) {
	var err error
	for _, secret := range [][]byte{s.current, s.previous} {
		if secret == nil {
			continue
		}
		var claims *Claims
		if claims, err = s.parse(raw, secret); err == nil {
			return claims, nil
		}
	}
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

func (s *JWTService) parse(raw string, secret []byte) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithLeeway(s.leeway),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// Remaining returns how long the claims stay valid.
func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	if d := c.ExpiresAt.Time.Sub(now); d > 0 {
		return d
	}
	return 0
}
