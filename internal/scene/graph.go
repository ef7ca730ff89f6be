package scene

import (
	"fmt"
	"sort"
)

// WarningKind classifies a graph integrity problem.
type WarningKind string

// Integrity warning kinds. None of them prevents a graph from being built.
const (
	WarnMissingSceneID       WarningKind = "missing_scene_id"
	WarnDuplicateSceneID     WarningKind = "duplicate_scene_id"
	WarnDuplicateSlug        WarningKind = "duplicate_slug"
	WarnDanglingNext         WarningKind = "dangling_next_scene"
	WarnMultiplePredecessors WarningKind = "multiple_predecessors"
	WarnDanglingLink         WarningKind = "dangling_link_target"
	WarnMissingLinkTarget    WarningKind = "missing_link_target"
	WarnDuplicateHotspotID   WarningKind = "duplicate_hotspot_id"
	WarnOrphanHotspot        WarningKind = "orphan_hotspot"
)

// Warning describes one integrity problem found while building a graph.
// Affected hotspots and controls degrade to inert; rendering continues.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	SceneID   string      `json:"scene_id,omitempty"`
	HotspotID string      `json:"hotspot_id,omitempty"`
	Ref       string      `json:"ref,omitempty"`
	Message   string      `json:"message"`
}

func (w Warning) String() string {
	return string(w.Kind) + ": " + w.Message
}

type hotspotRef struct {
	sceneID string
	index   int
}

// Graph is an immutable view of a scene list with sequential (next-scene)
// and spatial (link hotspot) adjacency. Accessors return copies.
type Graph struct {
	order    []string
	scenes   map[string]*Scene
	slugs    map[string]string
	next     map[string]string
	prev     map[string]string
	hotspots map[string]hotspotRef
	entry    string
	warnings []Warning
}

// BuildGraph derives a graph from a flat scene list. It never fails: every
// inconsistency is reported as a warning and the affected edge is dropped,
// so a consistent input yields zero warnings. When data conflicts, the first
// occurrence in list order wins.
func BuildGraph(list []Scene) (*Graph, []Warning) {
	g := &Graph{
		order:    make([]string, 0, len(list)),
		scenes:   make(map[string]*Scene, len(list)),
		slugs:    make(map[string]string, len(list)),
		next:     make(map[string]string),
		prev:     make(map[string]string),
		hotspots: make(map[string]hotspotRef),
	}

	for i := range list {
		s := list[i].Clone()
		if s.ID == "" {
			g.warn(Warning{Kind: WarnMissingSceneID, Ref: s.Slug,
				Message: fmt.Sprintf("scene at position %d has no id and was skipped", i)})
			continue
		}
		if _, dup := g.scenes[s.ID]; dup {
			g.warn(Warning{Kind: WarnDuplicateSceneID, SceneID: s.ID,
				Message: fmt.Sprintf("scene id %q appears more than once; first occurrence kept", s.ID)})
			continue
		}
		if s.Slug != "" {
			if owner, dup := g.slugs[s.Slug]; dup {
				g.warn(Warning{Kind: WarnDuplicateSlug, SceneID: s.ID, Ref: owner,
					Message: fmt.Sprintf("slug %q is shared with scene %q", s.Slug, owner)})
			} else {
				g.slugs[s.Slug] = s.ID
			}
		}
		sortHotspots(s.Hotspots)
		g.scenes[s.ID] = &s
		g.order = append(g.order, s.ID)
	}

	for _, id := range g.order {
		g.linkSequential(g.scenes[id])
	}
	for _, id := range g.order {
		g.indexHotspots(g.scenes[id])
	}
	g.entry = entryID(g.order, g.next)

	return g, g.Warnings()
}

func (g *Graph) warn(w Warning) {
	g.warnings = append(g.warnings, w)
}

func (g *Graph) linkSequential(s *Scene) {
	target := s.Next()
	if target == "" {
		return
	}
	if _, ok := g.scenes[target]; !ok {
		g.warn(Warning{Kind: WarnDanglingNext, SceneID: s.ID, Ref: target,
			Message: fmt.Sprintf("scene %q points to missing next scene %q", s.ID, target)})
		return
	}
	g.next[s.ID] = target
	if first, taken := g.prev[target]; taken {
		g.warn(Warning{Kind: WarnMultiplePredecessors, SceneID: s.ID, Ref: target,
			Message: fmt.Sprintf("scene %q is next of both %q and %q; %q is used as previous", target, first, s.ID, first)})
		return
	}
	g.prev[target] = s.ID
}

func (g *Graph) indexHotspots(s *Scene) {
	for i := range s.Hotspots {
		h := &s.Hotspots[i]
		if h.SceneID == "" {
			h.SceneID = s.ID
		} else if h.SceneID != s.ID {
			g.warn(Warning{Kind: WarnOrphanHotspot, SceneID: s.ID, HotspotID: h.ID, Ref: h.SceneID,
				Message: fmt.Sprintf("hotspot %q is listed on scene %q but owned by %q", h.ID, s.ID, h.SceneID)})
			h.SceneID = s.ID
		}
		if h.ID != "" {
			if _, dup := g.hotspots[h.ID]; dup {
				g.warn(Warning{Kind: WarnDuplicateHotspotID, SceneID: s.ID, HotspotID: h.ID,
					Message: fmt.Sprintf("hotspot id %q appears more than once; first occurrence kept", h.ID)})
			} else {
				g.hotspots[h.ID] = hotspotRef{sceneID: s.ID, index: i}
			}
		}
		if h.Type != HotspotLink {
			continue
		}
		target := h.Target()
		switch {
		case target == "":
			g.warn(Warning{Kind: WarnMissingLinkTarget, SceneID: s.ID, HotspotID: h.ID,
				Message: fmt.Sprintf("link hotspot %q has no target scene", h.ID)})
		case g.scenes[target] == nil:
			g.warn(Warning{Kind: WarnDanglingLink, SceneID: s.ID, HotspotID: h.ID, Ref: target,
				Message: fmt.Sprintf("link hotspot %q targets missing scene %q", h.ID, target)})
		}
	}
}

// sortHotspots orders hotspots by Order; equal orders keep input order.
func sortHotspots(hs []Hotspot) {
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].Order < hs[j].Order })
}

// entryID returns the first id in order that no other scene points to as
// next, falling back to the first id when every scene is targeted.
func entryID(order []string, next map[string]string) string {
	if len(order) == 0 {
		return ""
	}
	targeted := make(map[string]bool, len(next))
	for from, to := range next {
		if from != to {
			targeted[to] = true
		}
	}
	for _, id := range order {
		if !targeted[id] {
			return id
		}
	}
	return order[0]
}

// EntryScene returns the default starting scene of a tour built from list.
// It is deterministic for a given list order. ok is false for an empty list.
func EntryScene(list []Scene) (Scene, bool) {
	g, _ := BuildGraph(list)
	return g.Entry()
}

// Len returns the number of scenes in the graph.
func (g *Graph) Len() int {
	return len(g.order)
}

// Warnings returns the integrity warnings found while building the graph.
func (g *Graph) Warnings() []Warning {
	out := make([]Warning, len(g.warnings))
	copy(out, g.warnings)
	return out
}

// Contains reports whether id names a scene in the graph.
func (g *Graph) Contains(id string) bool {
	_, ok := g.scenes[id]
	return ok
}

// Scene returns the scene with the given id.
func (g *Graph) Scene(id string) (Scene, bool) {
	s, ok := g.scenes[id]
	if !ok {
		return Scene{}, false
	}
	return s.Clone(), true
}

// SceneBySlug returns the scene owning slug (first occurrence on duplicates).
func (g *Graph) SceneBySlug(slug string) (Scene, bool) {
	id, ok := g.slugs[slug]
	if !ok {
		return Scene{}, false
	}
	return g.Scene(id)
}

// Scenes returns all scenes in input order.
func (g *Graph) Scenes() []Scene {
	out := make([]Scene, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.scenes[id].Clone())
	}
	return out
}

// Entry returns the entry scene. ok is false for an empty graph.
func (g *Graph) Entry() (Scene, bool) {
	return g.Scene(g.entry)
}

// NextOf returns the sequential successor of id.
func (g *Graph) NextOf(id string) (Scene, bool) {
	next, ok := g.next[id]
	if !ok {
		return Scene{}, false
	}
	return g.Scene(next)
}

// PreviousOf returns the scene whose next edge points at id.
func (g *Graph) PreviousOf(id string) (Scene, bool) {
	prev, ok := g.prev[id]
	if !ok {
		return Scene{}, false
	}
	return g.Scene(prev)
}

// Hotspot returns the hotspot with the given id.
func (g *Graph) Hotspot(id string) (Hotspot, bool) {
	ref, ok := g.hotspots[id]
	if !ok {
		return Hotspot{}, false
	}
	return g.scenes[ref.sceneID].Hotspots[ref.index].Clone(), true
}

// ResolveLink follows a link hotspot to its target scene. A dangling or
// missing target, an unknown hotspot, or a non-link hotspot all yield
// ok == false rather than an error.
func (g *Graph) ResolveLink(hotspotID string) (Scene, bool) {
	h, ok := g.Hotspot(hotspotID)
	if !ok || h.Type != HotspotLink {
		return Scene{}, false
	}
	return g.Scene(h.Target())
}

// Neighbors returns the ids of scenes reachable from id through link
// hotspots, in hotspot order, without duplicates or dangling targets.
func (g *Graph) Neighbors(id string) []string {
	s, ok := g.scenes[id]
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, h := range s.Hotspots {
		target := h.Target()
		if h.Type != HotspotLink || target == "" || seen[target] || !g.Contains(target) {
			continue
		}
		seen[target] = true
		out = append(out, target)
	}
	return out
}

// LinearPath walks the sequential chain from start. It stops at the end of
// the chain or at the first scene already visited; cyclic reports the
// latter.
func (g *Graph) LinearPath(start string) (path []Scene, cyclic bool) {
	visited := make(map[string]bool)
	for id := start; id != ""; id = g.next[id] {
		s, ok := g.scenes[id]
		if !ok {
			break
		}
		if visited[id] {
			return path, true
		}
		visited[id] = true
		path = append(path, s.Clone())
	}
	return path, false
}
