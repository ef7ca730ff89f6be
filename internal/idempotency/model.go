// Package idempotency stores responses of admin requests sent with an
// Idempotency-Key header so a client retrying a scene upload gets the
// original result instead of a second scene.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

const (
	// MaxKeyLength bounds client-chosen keys.
	MaxKeyLength = 64
	// DefaultExpiry is how long a stored response is replayed.
	DefaultExpiry = 24 * time.Hour
)

var (
	ErrKeyNotFound = errors.New("idempotency key not found")
	ErrKeyExists   = errors.New("idempotency key already exists")
	ErrInvalidKey  = errors.New("invalid idempotency key")
	ErrKeyTooLong  = fmt.Errorf("idempotency key exceeds maximum length of %d characters", MaxKeyLength)
)

// Record is the stored outcome of one successful request. Keys are scoped
// to the principal that sent them, so two admins may reuse the same key.
type Record struct {
	Key                string    `json:"key"`
	PrincipalID        string    `json:"principal_id"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	CreatedAt          time.Time `json:"created_at"`
	ResponseHash       string    `json:"response_hash"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
	ContentType        string    `json:"content_type,omitempty"`
	Location           string    `json:"location,omitempty"`
}

// ValidateKey accepts 1 to MaxKeyLength bytes of printable ASCII.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return ErrInvalidKey
	case len(key) > MaxKeyLength:
		return ErrKeyTooLong
	}
	for i := 0; i < len(key); i++ {
		if key[i] < 0x21 || key[i] > 0x7e {
			return ErrInvalidKey
		}
	}
	return nil
}

// ComputeResponseHash returns the hex SHA-256 of a response body.
func ComputeResponseHash(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

// Matches reports whether a record was produced by the same request line.
func (r *Record) Matches(method, route string) bool {
	return r.Method == method && r.Route == route
}

// Intact reports whether the stored body still hashes to ResponseHash.
func (r *Record) Intact() bool {
	return r.ResponseHash == ComputeResponseHash(r.ResponseBody)
}

// Repository persists idempotency records.
type Repository interface {
	// Get returns the record for principalID and key, or ErrKeyNotFound.
	Get(ctx context.Context, principalID, key string) (*Record, error)
	// Store saves a new record, or returns ErrKeyExists.
	Store(ctx context.Context, record *Record) error
	// DeleteOlderThan removes records older than age and reports how many
	// went.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
