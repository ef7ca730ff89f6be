package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func TestGenerateAccessToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	tests := []struct {
		name    string
		userID  string
		role    Role
		wantErr bool
	}{
		{name: "admin token", userID: "user-123", role: RoleAdmin},
		{name: "viewer token", userID: "user-123", role: RoleViewer},
		{name: "empty userID", userID: "", role: RoleAdmin, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateAccessToken(tt.userID, tt.role)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GenerateAccessToken() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			claims, err := svc.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.Subject != tt.userID || claims.Role != tt.role || claims.Type != TokenTypeAccess {
				t.Errorf("claims = %+v", claims)
			}
			if claims.ID == "" {
				t.Error("access token should carry a jti")
			}
			if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != AccessTokenExpiry {
				t.Errorf("lifetime = %v, want %v", got, AccessTokenExpiry)
			}
		})
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	svc := NewJWTService(testSecret)

	if _, err := svc.GenerateRefreshToken(""); err != ErrEmptyUserID {
		t.Errorf("GenerateRefreshToken(\"\") error = %v, want ErrEmptyUserID", err)
	}

	token, err := svc.GenerateRefreshToken("user-123")
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Type != TokenTypeRefresh || claims.Role != "" {
		t.Errorf("refresh claims = %+v", claims)
	}
	if got := claims.ExpiresAt.Sub(claims.IssuedAt.Time); got != RefreshTokenExpiry {
		t.Errorf("lifetime = %v, want %v", got, RefreshTokenExpiry)
	}
}

func TestTokensHaveDistinctIDs(t *testing.T) {
	svc := NewJWTService(testSecret)
	t1, _ := svc.GenerateAccessToken("user-123", RoleAdmin)
	t2, _ := svc.GenerateAccessToken("user-123", RoleAdmin)
	c1, _ := svc.ValidateToken(t1)
	c2, _ := svc.ValidateToken(t2)
	if c1.ID == c2.ID {
		t.Error("tokens issued back to back share a jti")
	}
}

func signWith(t *testing.T, secret string, method jwt.SigningMethod, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	return token
}

func TestValidateToken_Failures(t *testing.T) {
	svc := NewJWTService(testSecret, WithLeeway(0))
	valid, _ := svc.GenerateAccessToken("user-123", RoleAdmin)

	expired := signWith(t, testSecret, jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "user-123",
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
		Type: TokenTypeAccess,
	})

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{name: "expired", token: expired, wantErr: ErrExpiredToken},
		{name: "tampered", token: valid[:len(valid)-4] + "abcd", wantErr: ErrInvalidToken},
		{name: "garbage", token: "not.a.token", wantErr: ErrInvalidToken},
		{name: "empty", token: "", wantErr: ErrInvalidToken},
		{name: "wrong secret", token: signWith(t, "other-secret", jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		}), wantErr: ErrInvalidToken},
		{name: "foreign issuer", token: signWith(t, testSecret, jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: "someone-else", Subject: "user-123", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		}), wantErr: ErrInvalidToken},
		{name: "wrong algorithm", token: signWith(t, testSecret, jwt.SigningMethodHS512, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "user-123", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		}), wantErr: ErrInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ValidateToken(tt.token)
			if err != tt.wantErr {
				t.Errorf("ValidateToken() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateToken_Leeway(t *testing.T) {
	recent := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "user-123",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-10 * time.Second)),
		},
		Type: TokenTypeAccess,
	}
	token := signWith(t, testSecret, jwt.SigningMethodHS256, recent)

	if _, err := NewJWTService(testSecret).ValidateToken(token); err != nil {
		t.Errorf("default leeway should accept a token expired 10s ago, got %v", err)
	}
	if _, err := NewJWTService(testSecret, WithLeeway(0)).ValidateToken(token); err != ErrExpiredToken {
		t.Errorf("zero leeway error = %v, want ErrExpiredToken", err)
	}
}

func TestValidateToken_Rotation(t *testing.T) {
	const newSecret = "rotated-secret-value-rotated-secret-value-00"
	old := NewJWTService(testSecret)
	token, _ := old.GenerateAccessToken("user-123", RoleAdmin)

	rotated := NewJWTService(newSecret, WithPreviousSecret(testSecret))
	if _, err := rotated.ValidateToken(token); err != nil {
		t.Errorf("token signed with previous secret should validate, got %v", err)
	}

	fresh, _ := rotated.GenerateAccessToken("user-123", RoleAdmin)
	if _, err := old.ValidateToken(fresh); err != ErrInvalidToken {
		t.Errorf("old service accepted token signed with new secret: %v", err)
	}

	finished := NewJWTService(newSecret)
	if _, err := finished.ValidateToken(token); err != ErrInvalidToken {
		t.Errorf("token signed with retired secret should fail, got %v", err)
	}
	if !strings.Contains(fresh, ".") {
		t.Error("token should be a compact JWS")
	}
}

func TestClaimsRemaining(t *testing.T) {
	now := time.Now()
	c := &Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute))}}
	if got := c.Remaining(now); got < 59*time.Second || got > time.Minute {
		t.Errorf("Remaining() = %v", got)
	}
	if got := c.Remaining(now.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining() after expiry = %v, want 0", got)
	}
	if got := (&Claims{}).Remaining(now); got != 0 {
		t.Errorf("Remaining() without exp = %v, want 0", got)
	}
}

func TestJWTService_Clock(t *testing.T) {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewJWTService(testSecret, WithLeeway(0))
	svc.now = func() time.Time { return base }

	token, err := svc.GenerateAccessToken("admin-1", RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Issuer != Issuer || !claims.IssuedAt.Equal(base) {
		t.Errorf("claims = %+v", claims.RegisteredClaims)
	}

	svc.now = func() time.Time { return base.Add(AccessTokenExpiry + time.Second) }
	if _, err := svc.ValidateToken(token); err != ErrExpiredToken {
		t.Errorf("after expiry error = %v, want ErrExpiredToken", err)
	}
}
