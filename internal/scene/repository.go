package scene

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// EdgeUpdate changes a scene's sequential edge and publish state.
// NextSet reports whether NextSceneID should be written; NextSet with a nil
// NextSceneID clears the edge.
type EdgeUpdate struct {
	NextSet     bool
	NextSceneID *string
	Published   *bool
}

// Empty reports whether the update changes nothing.
func (u EdgeUpdate) Empty() bool {
	return !u.NextSet && u.Published == nil
}

// Repository defines the persistence operations for scenes and hotspots.
// Every write is idempotent on the scene id.
type Repository interface {
	// ListAll returns every scene, drafts included, in ascending creation order.
	ListAll(ctx context.Context) ([]Scene, error)

	// ListPublished returns only published scenes in ascending creation order.
	ListPublished(ctx context.Context) ([]Scene, error)

	// GetByID retrieves a scene with its hotspots.
	GetByID(ctx context.Context, id string) (*Scene, error)

	// GetBySlug retrieves a scene by slug.
	GetBySlug(ctx context.Context, slug string) (*Scene, error)

	// ExistsBySlug reports whether another scene (not excludeID) uses slug.
	ExistsBySlug(ctx context.Context, slug, excludeID string) (bool, error)

	// Insert stores a new scene and its hotspots. Inserting an id that already
	// exists is a no-op.
	Insert(ctx context.Context, s *Scene) error

	// Update replaces a scene's metadata. Edges and hotspots are untouched.
	Update(ctx context.Context, s *Scene) error

	// UpdateEdges changes next-scene pointer and publish state.
	UpdateEdges(ctx context.Context, id string, u EdgeUpdate) error

	// ReplaceHotspots swaps the full hotspot set of a scene.
	ReplaceHotspots(ctx context.Context, sceneID string, hotspots []Hotspot) error

	// Delete nulls every next-scene pointer that targets id, then removes the
	// scene and its own hotspots. Link hotspots elsewhere that target id are
	// left dangling.
	Delete(ctx context.Context, id string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
// Used for tests and development.
type InMemoryRepository struct {
	mu      sync.RWMutex
	scenes  map[string]*Scene
	order   []string
	timeNow func() time.Time
}

// NewInMemoryRepository creates a new in-memory scene repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		scenes:  make(map[string]*Scene),
		timeNow: time.Now,
	}
}

// ListAll returns every scene in insertion order.
func (r *InMemoryRepository) ListAll(ctx context.Context) ([]Scene, error) {
	return r.list(func(*Scene) bool { return true }), nil
}

// ListPublished returns the published scenes in insertion order.
func (r *InMemoryRepository) ListPublished(ctx context.Context) ([]Scene, error) {
	return r.list(func(s *Scene) bool { return s.Published }), nil
}

func (r *InMemoryRepository) list(keep func(*Scene) bool) []Scene {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Scene, 0, len(r.order))
	for _, id := range r.order {
		if s := r.scenes[id]; keep(s) {
			out = append(out, s.Clone())
		}
	}
	return out
}

// GetByID retrieves a scene by its ID.
func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.scenes[id]
	if !ok {
		return nil, ErrSceneNotFound
	}
	c := s.Clone()
	return &c, nil
}

// GetBySlug retrieves a scene by its slug.
func (r *InMemoryRepository) GetBySlug(ctx context.Context, slug string) (*Scene, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if s := r.scenes[id]; s.Slug == slug {
			c := s.Clone()
			return &c, nil
		}
	}
	return nil, ErrSceneNotFound
}

// ExistsBySlug reports whether a scene other than excludeID uses slug.
func (r *InMemoryRepository) ExistsBySlug(ctx context.Context, slug, excludeID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.slugTaken(slug, excludeID), nil
}

func (r *InMemoryRepository) slugTaken(slug, excludeID string) bool {
	for id, s := range r.scenes {
		if id != excludeID && s.Slug == slug {
			return true
		}
	}
	return false
}

// Insert stores a new scene. An existing id makes the call a no-op.
func (r *InMemoryRepository) Insert(ctx context.Context, s *Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scenes[s.ID]; exists {
		return nil
	}
	if r.slugTaken(s.Slug, s.ID) {
		return ErrDuplicateSlug
	}
	if err := r.hotspotsTaken(s.ID, s.Hotspots); err != nil {
		return err
	}

	c := s.Clone()
	if c.CreatedAt == nil {
		now := r.timeNow()
		c.CreatedAt = &now
	}
	stampHotspots(c.ID, c.Hotspots, *c.CreatedAt)
	r.scenes[c.ID] = &c
	r.order = append(r.order, c.ID)
	r.sortOrder()
	return nil
}

// sortOrder keeps ascending creation order; ties keep insertion order.
func (r *InMemoryRepository) sortOrder() {
	sort.SliceStable(r.order, func(i, j int) bool {
		return r.scenes[r.order[i]].CreatedAt.Before(*r.scenes[r.order[j]].CreatedAt)
	})
}

// Update replaces the metadata of an existing scene.
func (r *InMemoryRepository) Update(ctx context.Context, s *Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.scenes[s.ID]
	if !ok {
		return ErrSceneNotFound
	}
	if r.slugTaken(s.Slug, s.ID) {
		return ErrDuplicateSlug
	}

	c := s.Clone()
	existing.Title = c.Title
	existing.Slug = c.Slug
	existing.Description = c.Description
	existing.MediaURL = c.MediaURL
	existing.Coords = c.Coords
	existing.Orientation = c.Orientation
	return nil
}

// UpdateEdges changes the next pointer and publish state of a scene.
func (r *InMemoryRepository) UpdateEdges(ctx context.Context, id string, u EdgeUpdate) error {
	if u.Empty() {
		return ErrNoChanges
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.scenes[id]
	if !ok {
		return ErrSceneNotFound
	}
	if u.NextSet {
		s.NextSceneID = cloneString(u.NextSceneID)
	}
	if u.Published != nil {
		s.Published = *u.Published
	}
	return nil
}

// ReplaceHotspots swaps the hotspot set of a scene.
func (r *InMemoryRepository) ReplaceHotspots(ctx context.Context, sceneID string, hotspots []Hotspot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.scenes[sceneID]
	if !ok {
		return ErrSceneNotFound
	}
	if err := r.hotspotsTaken(sceneID, hotspots); err != nil {
		return err
	}
	replaced := make([]Hotspot, len(hotspots))
	for i, h := range hotspots {
		replaced[i] = h.Clone()
	}
	stampHotspots(sceneID, replaced, r.timeNow())
	s.Hotspots = replaced
	return nil
}

// Delete clears back-pointers to id and then removes the scene.
func (r *InMemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.scenes[id]; !ok {
		return ErrSceneNotFound
	}
	for _, s := range r.scenes {
		if s.Next() == id {
			s.NextSceneID = nil
		}
	}
	delete(r.scenes, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// stampHotspots sets owner and creation time on hotspots that lack them.
// hotspotsTaken reports ErrDuplicateID when a hotspot id is owned by a scene
// other than sceneID. Hotspot ids are unique across the tour.
func (r *InMemoryRepository) hotspotsTaken(sceneID string, hs []Hotspot) error {
	for _, h := range hs {
		if h.ID == "" {
			continue
		}
		for id, other := range r.scenes {
			if id == sceneID {
				continue
			}
			for _, oh := range other.Hotspots {
				if oh.ID == h.ID {
					return fmt.Errorf("hotspot %q on scene %q: %w", h.ID, id, ErrDuplicateID)
				}
			}
		}
	}
	return nil
}

func stampHotspots(sceneID string, hs []Hotspot, now time.Time) {
	for i := range hs {
		hs[i].SceneID = sceneID
		if hs[i].CreatedAt == nil {
			t := now
			hs[i].CreatedAt = &t
		}
	}
}
