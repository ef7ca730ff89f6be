package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Query filters entries. Zero fields match everything.
type Query struct {
	ActorID string
	SceneID string
	Action  string
	From    time.Time // inclusive
	To      time.Time // inclusive
	Limit   int       // 0 = no limit
}

func (q Query) matches(e *Entry) bool {
	if q.ActorID != "" && e.ActorID != q.ActorID {
		return false
	}
	if q.SceneID != "" && e.SceneID != q.SceneID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if !q.From.IsZero() && e.CreatedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && e.CreatedAt.After(q.To) {
		return false
	}
	return true
}

// Repository defines the interface for audit trail storage.
type Repository interface {
	// Append records an entry, linking it to the previous one.
	Append(ctx context.Context, entry LogEntry) (*Entry, error)

	// Query returns matching entries, newest first.
	Query(ctx context.Context, q Query) ([]*Entry, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// Thread-safe via RWMutex.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
}

// NewInMemoryRepository creates a new in-memory audit repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{now: time.Now}
}

// Append records an entry to the trail.
func (r *InMemoryRepository) Append(_ context.Context, in LogEntry) (*Entry, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := &Entry{
		ID:        uuid.New().String(),
		Seq:       int64(len(r.entries)) + 1,
		ActorID:   in.ActorID,
		SceneID:   in.SceneID,
		Action:    in.Action,
		Outcome:   in.Outcome,
		Detail:    in.Detail,
		RequestID: in.RequestID,
		CreatedAt: r.now().UTC(),
	}
	if n := len(r.entries); n > 0 {
		e.PreviousHash = r.entries[n-1].Hash()
	}
	r.entries = append(r.entries, e)

	// Return a copy to prevent external modification
	out := *e
	return &out, nil
}

// Query returns matching entries, newest first.
func (r *InMemoryRepository) Query(_ context.Context, q Query) ([]*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []*Entry
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if !q.matches(e) {
			continue
		}
		out := *e
		results = append(results, &out)
		if q.Limit > 0 && len(results) >= q.Limit {
			break
		}
	}
	return results, nil
}

// Chain returns every entry, oldest first, for verification.
func (r *InMemoryRepository) Chain() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Entry, len(r.entries))
	for i, e := range r.entries {
		c := *e
		out[i] = &c
	}
	return out
}
