package auth

import (
	"errors"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for an unknown email or a wrong password.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Account is a login that may receive tokens.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
}

// Authenticator checks email and password against bcrypt hashes.
type Authenticator struct {
	accounts map[string]Account
}

// NewAuthenticator creates an Authenticator over accounts. Emails are matched
// case-insensitively.
func NewAuthenticator(accounts ...Account) *Authenticator {
	a := &Authenticator{accounts: make(map[string]Account, len(accounts))}
	for _, acc := range accounts {
		a.accounts[normalizeEmail(acc.Email)] = acc
	}
	return a
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// Authenticate returns the principal for valid credentials. Unknown emails
// still pay for a bcrypt comparison so timing does not reveal which accounts exist.
func (a *Authenticator) Authenticate(email, password string) (Principal, error) {
	acc, ok := a.accounts[normalizeEmail(email)]
	if !ok {
		dummyHashOnce.Do(func() {
			dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)
		})
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Principal{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{ID: acc.ID, Email: acc.Email, Role: acc.Role}, nil
}

// Lookup returns the account for id.
func (a *Authenticator) Lookup(id string) (Account, bool) {
	for _, acc := range a.accounts {
		if acc.ID == id {
			return acc, true
		}
	}
	return Account{}, false
}

// HashPassword returns a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
