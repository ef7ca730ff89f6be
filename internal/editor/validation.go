package editor

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/validate"
)

// Editor errors.
var (
	ErrValidation    = errors.New("validation failed")
	ErrForbidden     = errors.New("admin role required")
	ErrSceneExists   = errors.New("scene already exists")
	ErrAuditDisabled = errors.New("audit trail is not configured")
)

// FieldError is one rejected field of a proposed mutation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every problem found in a mutation.
type ValidationError struct {
	Problems []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		parts[i] = p.Field + " " + p.Message
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Is matches scene.ErrDuplicateSlug when a slug collision is among the problems.
func (e *ValidationError) Is(target error) bool {
	if target != scene.ErrDuplicateSlug {
		return false
	}
	for _, p := range e.Problems {
		if p.Field == "slug" && p.Message == msgSlugTaken {
			return true
		}
	}
	return false
}

func invalid(problems ...FieldError) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

const msgSlugTaken = "is already used by another scene"

func checkMetadata(snap Snapshot, s scene.Scene) []FieldError {
	var problems []FieldError
	add := func(field string, err error) {
		problems = append(problems, FieldError{Field: field, Message: err.Error()})
	}

	if _, err := validate.SceneTitle(s.Title); err != nil {
		add("title", err)
	}
	switch {
	case !scene.ValidSlug(s.Slug):
		problems = append(problems, FieldError{Field: "slug", Message: "must be lowercase letters, digits and single hyphens"})
	case snap.SlugTaken(s.Slug, s.ID):
		problems = append(problems, FieldError{Field: "slug", Message: msgSlugTaken})
	}
	if _, err := validate.Description(s.Description); err != nil {
		add("description", err)
	}
	if strings.TrimSpace(s.MediaURL) == "" {
		problems = append(problems, FieldError{Field: "media_url", Message: "is required"})
	}
	if err := s.Orientation.Validate(); err != nil {
		add("orientation", err)
	}
	if c := s.Coords; c != nil {
		if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) || c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
			problems = append(problems, FieldError{Field: "coords", Message: "latitude or longitude out of range"})
		}
	}
	return problems
}

func checkNext(snap Snapshot, id string, next *string) []FieldError {
	target := derefString(next)
	switch {
	case target == "":
		return nil
	case target == id:
		return []FieldError{{Field: "next_scene_id", Message: "cannot point at the scene itself"}}
	case !snap.Contains(target):
		return []FieldError{{Field: "next_scene_id", Message: fmt.Sprintf("unknown scene %q", target)}}
	}
	return nil
}

// checkSuppliedIDs rejects client-chosen ids that are not UUIDs. Ids the
// snapshot already holds are accepted so stored records can be re-submitted.
func checkSuppliedIDs(snap Snapshot, sceneID string, hotspots []scene.Hotspot) []FieldError {
	var problems []FieldError
	if sceneID != "" && !snap.Contains(sceneID) && !isUUID(sceneID) {
		problems = append(problems, FieldError{Field: "id", Message: "must be a UUID"})
	}
	for i, h := range hotspots {
		if h.ID == "" || isUUID(h.ID) {
			continue
		}
		if _, known := snap.HotspotOwner(h.ID); !known {
			problems = append(problems, FieldError{Field: fmt.Sprintf("hotspots[%d].id", i), Message: "must be a UUID"})
		}
	}
	return problems
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// checkHotspots validates the hotspot set proposed for sceneID.
func checkHotspots(snap Snapshot, sceneID string, hotspots []scene.Hotspot) []FieldError {
	var problems []FieldError
	seen := make(map[string]bool, len(hotspots))
	for i, h := range hotspots {
		field := fmt.Sprintf("hotspots[%d]", i)
		add := func(suffix, msg string) {
			problems = append(problems, FieldError{Field: field + suffix, Message: msg})
		}

		switch owner, owned := snap.HotspotOwner(h.ID); {
		case h.ID == "":
			add(".id", "is required")
		case seen[h.ID]:
			add(".id", fmt.Sprintf("duplicate hotspot id %q", h.ID))
		case owned && owner != sceneID:
			add(".id", fmt.Sprintf("hotspot id %q belongs to scene %q", h.ID, owner))
		}
		seen[h.ID] = true

		if err := h.Position.Validate(); err != nil {
			add(".yaw_pitch", err.Error())
		}

		switch h.Type {
		case scene.HotspotLink:
			target := h.Target()
			switch {
			case target == "":
				add(".target_scene_id", "is required for link hotspots")
			case !snap.Contains(target):
				add(".target_scene_id", fmt.Sprintf("unknown scene %q", target))
			}
			if _, err := validate.HotspotLabel(h.Label, false); err != nil {
				add(".label", err.Error())
			}
		case scene.HotspotInfo:
			if _, err := validate.HotspotLabel(h.Label, true); err != nil {
				add(".label", "is required for info hotspots")
			}
			if _, err := validate.Description(h.Description); err != nil {
				add(".description", err.Error())
			}
			if h.MediaURL != "" {
				if _, err := validate.MediaURL(h.MediaURL); err != nil {
					add(".media_url", err.Error())
				}
			}
		default:
			add(".type", fmt.Sprintf("unknown hotspot type %q", h.Type))
		}
	}
	return problems
}
