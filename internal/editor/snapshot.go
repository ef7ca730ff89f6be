package editor

import (
	"github.com/onnwee/panotour/internal/scene"
)

// Snapshot is an immutable view of every scene, drafts included. Reduce
// returns a new snapshot and never modifies its input.
type Snapshot struct {
	scenes []scene.Scene
	index  map[string]int
}

// NewSnapshot copies list into a snapshot, preserving order.
func NewSnapshot(list []scene.Scene) Snapshot {
	s := Snapshot{
		scenes: make([]scene.Scene, len(list)),
		index:  make(map[string]int, len(list)),
	}
	for i, sc := range list {
		s.scenes[i] = sc.Clone()
		s.index[sc.ID] = i
	}
	return s
}

// Len returns the number of scenes.
func (s Snapshot) Len() int { return len(s.scenes) }

// Scenes returns copies of all scenes in order.
func (s Snapshot) Scenes() []scene.Scene {
	out := make([]scene.Scene, len(s.scenes))
	for i, sc := range s.scenes {
		out[i] = sc.Clone()
	}
	return out
}

// Scene returns a copy of the scene with id.
func (s Snapshot) Scene(id string) (scene.Scene, bool) {
	i, ok := s.index[id]
	if !ok {
		return scene.Scene{}, false
	}
	return s.scenes[i].Clone(), true
}

// Contains reports whether id names a scene in the snapshot.
func (s Snapshot) Contains(id string) bool {
	_, ok := s.index[id]
	return ok
}

// SlugTaken reports whether a scene other than excludeID uses slug.
func (s Snapshot) SlugTaken(slug, excludeID string) bool {
	for _, sc := range s.scenes {
		if sc.Slug == slug && sc.ID != excludeID {
			return true
		}
	}
	return false
}

// HotspotOwner returns the id of the scene holding hotspotID.
func (s Snapshot) HotspotOwner(hotspotID string) (string, bool) {
	for _, sc := range s.scenes {
		for _, h := range sc.Hotspots {
			if h.ID == hotspotID {
				return sc.ID, true
			}
		}
	}
	return "", false
}

// ReferencesTo lists scenes whose next pointer targets id and link hotspots
// that target id.
func (s Snapshot) ReferencesTo(id string) (predecessors []string, links []string) {
	for _, sc := range s.scenes {
		if sc.Next() == id {
			predecessors = append(predecessors, sc.ID)
		}
		for _, h := range sc.Hotspots {
			if h.Type == scene.HotspotLink && h.Target() == id {
				links = append(links, h.ID)
			}
		}
	}
	return predecessors, links
}

// with returns a copy of s in which fn has modified the scene at index i.
func (s Snapshot) with(i int, fn func(*scene.Scene)) Snapshot {
	next := NewSnapshot(s.scenes)
	fn(&next.scenes[i])
	return next
}
