package editor

import (
	"fmt"

	"github.com/onnwee/panotour/internal/scene"
)

// Intent is one proposed admin mutation.
type Intent interface {
	intent()
}

// CreateScene adds a new scene with its hotspots.
type CreateScene struct {
	Scene scene.Scene
}

// UpdateScene edits title, slug, description, media, orientation and coords.
type UpdateScene struct {
	Scene scene.Scene
}

// SetNextScene sets or clears (nil) the sequential successor.
type SetNextScene struct {
	SceneID     string
	NextSceneID *string
}

// SetPublished toggles viewer visibility.
type SetPublished struct {
	SceneID   string
	Published bool
}

// ReplaceHotspots swaps a scene's full hotspot set.
type ReplaceHotspots struct {
	SceneID  string
	Hotspots []scene.Hotspot
}

// DeleteScene removes a scene. Next pointers targeting it are cleared and
// link hotspots elsewhere are left dangling.
type DeleteScene struct {
	SceneID string
}

func (CreateScene) intent()     {}
func (UpdateScene) intent()     {}
func (SetNextScene) intent()    {}
func (SetPublished) intent()    {}
func (ReplaceHotspots) intent() {}
func (DeleteScene) intent()     {}

// Reduce validates in against snap and returns the resulting snapshot.
// On error snap is returned unchanged.
func Reduce(snap Snapshot, in Intent) (Snapshot, error) {
	switch in := in.(type) {
	case CreateScene:
		return reduceCreate(snap, in)
	case UpdateScene:
		return reduceUpdate(snap, in)
	case SetNextScene:
		return reduceSetNext(snap, in)
	case SetPublished:
		i, ok := snap.index[in.SceneID]
		if !ok {
			return snap, scene.ErrSceneNotFound
		}
		return snap.with(i, func(s *scene.Scene) { s.Published = in.Published }), nil
	case ReplaceHotspots:
		return reduceHotspots(snap, in)
	case DeleteScene:
		return reduceDelete(snap, in)
	default:
		return snap, fmt.Errorf("unknown intent %T", in)
	}
}

func reduceCreate(snap Snapshot, in CreateScene) (Snapshot, error) {
	s := in.Scene
	if s.ID == "" {
		return snap, invalid(FieldError{Field: "id", Message: "is required"})
	}
	if snap.Contains(s.ID) {
		return snap, fmt.Errorf("scene %s: %w", s.ID, ErrSceneExists)
	}

	var problems []FieldError
	problems = append(problems, checkMetadata(snap, s)...)
	problems = append(problems, checkNext(snap, s.ID, s.NextSceneID)...)
	problems = append(problems, checkHotspots(snap, s.ID, s.Hotspots)...)
	if err := invalid(problems...); err != nil {
		return snap, err
	}

	list := make([]scene.Scene, 0, snap.Len()+1)
	list = append(list, snap.scenes...)
	return NewSnapshot(append(list, s)), nil
}

func reduceUpdate(snap Snapshot, in UpdateScene) (Snapshot, error) {
	i, ok := snap.index[in.Scene.ID]
	if !ok {
		return snap, scene.ErrSceneNotFound
	}
	if err := invalid(checkMetadata(snap, in.Scene)...); err != nil {
		return snap, err
	}
	return snap.with(i, func(s *scene.Scene) {
		s.Title = in.Scene.Title
		s.Slug = in.Scene.Slug
		s.Description = in.Scene.Description
		s.MediaURL = in.Scene.MediaURL
		s.Orientation = in.Scene.Orientation
		s.Coords = in.Scene.Clone().Coords
	}), nil
}

func reduceSetNext(snap Snapshot, in SetNextScene) (Snapshot, error) {
	i, ok := snap.index[in.SceneID]
	if !ok {
		return snap, scene.ErrSceneNotFound
	}
	if err := invalid(checkNext(snap, in.SceneID, in.NextSceneID)...); err != nil {
		return snap, err
	}
	return snap.with(i, func(s *scene.Scene) {
		s.NextSceneID = scene.StringPtr(derefString(in.NextSceneID))
	}), nil
}

func reduceHotspots(snap Snapshot, in ReplaceHotspots) (Snapshot, error) {
	i, ok := snap.index[in.SceneID]
	if !ok {
		return snap, scene.ErrSceneNotFound
	}
	if err := invalid(checkHotspots(snap, in.SceneID, in.Hotspots)...); err != nil {
		return snap, err
	}
	return snap.with(i, func(s *scene.Scene) {
		s.Hotspots = (scene.Scene{Hotspots: in.Hotspots}).Clone().Hotspots
	}), nil
}

func reduceDelete(snap Snapshot, in DeleteScene) (Snapshot, error) {
	if !snap.Contains(in.SceneID) {
		return snap, scene.ErrSceneNotFound
	}
	kept := make([]scene.Scene, 0, snap.Len()-1)
	for _, s := range snap.scenes {
		if s.ID == in.SceneID {
			continue
		}
		if s.Next() == in.SceneID {
			s.NextSceneID = nil
		}
		kept = append(kept, s)
	}
	return NewSnapshot(kept), nil
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
