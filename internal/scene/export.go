package scene

// EdgeKind distinguishes sequential edges from spatial ones.
type EdgeKind string

const (
	EdgeNext EdgeKind = "next"
	EdgeLink EdgeKind = "link"
)

// Edge is one resolvable connection between two scenes.
type Edge struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Kind      EdgeKind `json:"kind"`
	HotspotID string   `json:"hotspot_id,omitempty"`
}

// Export is a serializable summary of a graph: its scenes, resolvable
// edges, entry scene, the sequential path from the entry and every
// integrity warning.
type Export struct {
	EntrySceneID string    `json:"entry_scene_id,omitempty"`
	Path         []string  `json:"path"`
	Cyclic       bool      `json:"cyclic"`
	Scenes       []Scene   `json:"scenes"`
	Edges        []Edge    `json:"edges"`
	Warnings     []Warning `json:"warnings"`
}

// Export summarizes the graph. Dangling and dropped edges are absent from
// Edges and reported in Warnings.
func (g *Graph) Export() Export {
	out := Export{
		EntrySceneID: g.entry,
		Path:         []string{},
		Scenes:       g.Scenes(),
		Edges:        []Edge{},
		Warnings:     g.Warnings(),
	}

	path, cyclic := g.LinearPath(g.entry)
	for _, s := range path {
		out.Path = append(out.Path, s.ID)
	}
	out.Cyclic = cyclic

	for _, id := range g.order {
		if next, ok := g.next[id]; ok {
			out.Edges = append(out.Edges, Edge{From: id, To: next, Kind: EdgeNext})
		}
		for _, h := range g.scenes[id].Hotspots {
			if h.Type == HotspotLink && g.Contains(h.Target()) {
				out.Edges = append(out.Edges, Edge{From: id, To: h.Target(), Kind: EdgeLink, HotspotID: h.ID})
			}
		}
	}
	return out
}
