package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/onnwee/panotour/internal/validate"
)

// Checker confirms media a store owns. It returns ErrForeignURL for URLs it
// does not serve.
type Checker interface {
	Exists(ctx context.Context, url string) error
}

// Resolver confirms scene media references. URLs owned by one of the stores
// are checked there; anything else gets an HTTP HEAD. Positive results are
// cached for TTL.
type Resolver struct {
	stores []Checker
	client *http.Client
	ttl    time.Duration
	now    func() time.Time
	probe  validate.URLConstraints

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewResolver creates a resolver. A nil client uses a 5s timeout client.
func NewResolver(client *http.Client, ttl time.Duration, stores ...Checker) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Resolver{
		stores: stores,
		client: client,
		ttl:    ttl,
		now:    time.Now,
		probe:  validate.ProbeURLConstraints,
		seen:   make(map[string]time.Time),
	}
}

// Exists returns nil when url resolves.
func (r *Resolver) Exists(ctx context.Context, url string) error {
	if r.cached(url) {
		return nil
	}
	err := r.check(ctx, url)
	if err == nil && r.ttl > 0 {
		r.mu.Lock()
		r.seen[url] = r.now().Add(r.ttl)
		r.mu.Unlock()
	}
	return err
}

func (r *Resolver) cached(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.seen[url]
	if ok && r.now().Before(until) {
		return true
	}
	delete(r.seen, url)
	return false
}

func (r *Resolver) check(ctx context.Context, url string) error {
	for _, s := range r.stores {
		err := s.Exists(ctx, url)
		if errors.Is(err, ErrForeignURL) {
			continue
		}
		return err
	}
	return r.head(ctx, url)
}

func (r *Resolver) head(ctx context.Context, url string) error {
	if _, err := validate.URL(url, r.probe); err != nil {
		return fmt.Errorf("refusing to probe media: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("media probe failed: %w", err)
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case resp.StatusCode >= 400:
		return fmt.Errorf("media probe returned %d", resp.StatusCode)
	}
	return nil
}
