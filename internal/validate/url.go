package validate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
)

// URL validation errors
var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
	ErrSSRFRisk         = errors.New("URL poses SSRF risk")
)

// URLConstraints defines validation constraints for URLs.
type URLConstraints struct {
	AllowedSchemes []string
	// BlockPrivate rejects hosts that are, or resolve to, loopback, private
	// or link-local addresses.
	BlockPrivate bool
	MaxLength    int
}

var webSchemes = []string{"https", "http"}

// MediaURLConstraints accepts http(s) media links without resolving hosts.
var MediaURLConstraints = URLConstraints{AllowedSchemes: webSchemes, MaxLength: 2048}

// ProbeURLConstraints is used before the server itself fetches a URL.
var ProbeURLConstraints = URLConstraints{AllowedSchemes: webSchemes, BlockPrivate: true, MaxLength: 2048}

// URL trims raw and checks it against c, returning the trimmed form.
func URL(raw string, c URLConstraints) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmpty
	}
	if c.MaxLength > 0 && len(raw) > c.MaxLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, c.MaxLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if len(c.AllowedSchemes) > 0 && !slices.Contains(c.AllowedSchemes, u.Scheme) {
		return "", fmt.Errorf("%w: %q", ErrDisallowedScheme, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}
	if c.BlockPrivate {
		if err := checkSSRF(host); err != nil {
			return "", err
		}
	}
	return raw, nil
}

// MediaURL validates a hotspot or scene media link.
func MediaURL(raw string) (string, error) {
	return URL(raw, MediaURLConstraints)
}

func checkSSRF(host string) error {
	switch strings.ToLower(host) {
	case "localhost", "localhost.localdomain":
		return fmt.Errorf("%w: localhost not allowed", ErrSSRFRisk)
	}
	ips := []net.IP{net.ParseIP(host)}
	if ips[0] == nil {
		var err error
		if ips, err = net.LookupIP(host); err != nil {
			// Unresolvable hosts fail at fetch time instead.
			return nil
		}
	}
	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: private IP address %s", ErrSSRFRisk, ip)
		}
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
