package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidEmail is returned for malformed account emails.
var ErrInvalidEmail = errors.New("invalid email format")

// Address limits from RFC 5321.
const (
	maxEmailLength    = 254
	maxEmailLocalPart  = 64
)

var emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// Email lowercases and trims an address and checks its shape. It does not
// check that the domain exists.
func Email(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	switch {
	case email == "":
		return "", ErrEmpty
	case len(email) > maxEmailLength:
		return "", fmt.Errorf("%w: email exceeds %d bytes", ErrStringTooLong, maxEmailLength)
	case !emailPattern.MatchString(email):
		return "", ErrInvalidEmail
	}
	if local, _, _ := strings.Cut(email, "@"); len(local) > maxEmailLocalPart {
		return "", fmt.Errorf("%w: local part exceeds %d bytes", ErrStringTooLong, maxEmailLocalPart)
	}
	return email, nil
}
