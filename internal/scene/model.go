// Package scene provides the tour's record shapes, the derived scene graph
// and repositories for persisting scenes and their hotspots.
package scene

import (
	"errors"
	"time"

	"github.com/onnwee/panotour/internal/geometry"
)

// Common errors for scene operations.
var (
	ErrSceneNotFound = errors.New("scene not found")
	ErrDuplicateSlug = errors.New("scene slug already exists")
	ErrNoChanges     = errors.New("no fields to update")

	// ErrDuplicateID means a hotspot id is already owned by another scene.
	ErrDuplicateID = errors.New("id already in use")
	// ErrInvalidID means an id is not a UUID.
	ErrInvalidID = errors.New("id is not a valid UUID")
)

// HotspotType distinguishes navigation markers from informational ones.
type HotspotType string

const (
	// HotspotLink navigates to TargetSceneID when activated.
	HotspotLink HotspotType = "link"
	// HotspotInfo opens an information panel when activated.
	HotspotInfo HotspotType = "info"
)

// Valid reports whether t is a known hotspot type.
func (t HotspotType) Valid() bool {
	return t == HotspotLink || t == HotspotInfo
}

// Hotspot is an interactive marker placed on a scene.
// Position is independent of the scene's camera orientation.
type Hotspot struct {
	ID       string            `json:"id"`
	SceneID  string            `json:"scene_id"`
	Type     HotspotType       `json:"type"`
	Label    string            `json:"label,omitempty"`
	Position geometry.YawPitch `json:"yaw_pitch"`
	Order    int               `json:"order"`

	// Link payload
	TargetSceneID *string `json:"target_scene_id,omitempty"`

	// Info payload
	Description string `json:"description,omitempty"`
	MediaURL    string `json:"media_url,omitempty"`

	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Target returns the link target or "" when none is set.
func (h Hotspot) Target() string {
	if h.TargetSceneID == nil {
		return ""
	}
	return *h.TargetSceneID
}

// Scene is one panoramic node in the tour graph.
type Scene struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Slug        string               `json:"slug"`
	Description string               `json:"description,omitempty"`
	MediaURL    string               `json:"media_url"`
	Coords      *geometry.LatLng     `json:"coords,omitempty"`
	Orientation geometry.Orientation `json:"orientation"`
	Published   bool                 `json:"published"`
	NextSceneID *string              `json:"next_scene_id,omitempty"`
	Hotspots    []Hotspot            `json:"hotspots"`

	CreatedBy string     `json:"created_by,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Next returns the sequential successor id or "" when none is set.
func (s Scene) Next() string {
	if s.NextSceneID == nil {
		return ""
	}
	return *s.NextSceneID
}

// Clone returns a deep copy so callers can never alias stored state.
func (s Scene) Clone() Scene {
	c := s
	if s.Coords != nil {
		coords := *s.Coords
		c.Coords = &coords
	}
	c.NextSceneID = cloneString(s.NextSceneID)
	c.CreatedAt = cloneTime(s.CreatedAt)
	if s.Hotspots != nil {
		c.Hotspots = make([]Hotspot, len(s.Hotspots))
		for i, h := range s.Hotspots {
			c.Hotspots[i] = h.Clone()
		}
	}
	return c
}

// Clone returns a deep copy of the hotspot.
func (h Hotspot) Clone() Hotspot {
	c := h
	c.TargetSceneID = cloneString(h.TargetSceneID)
	c.CreatedAt = cloneTime(h.CreatedAt)
	return c
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// FilterPublished returns the published scenes of list, preserving order.
func FilterPublished(list []Scene) []Scene {
	out := make([]Scene, 0, len(list))
	for _, s := range list {
		if s.Published {
			out = append(out, s)
		}
	}
	return out
}
