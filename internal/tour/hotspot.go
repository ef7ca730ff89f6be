package tour

import (
	"math"

	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/scene"
)

// DefaultHitRadius is the overlay distance, in percent, within which a click
// selects a hotspot.
const DefaultHitRadius = 4.0

// EffectKind is the result class of activating a hotspot.
type EffectKind string

const (
	EffectNoOp       EffectKind = "noop"
	EffectTransition EffectKind = "transition"
	EffectShowInfo   EffectKind = "show_info"
)

// Effect is what activating a hotspot should do.
type Effect struct {
	Kind      EffectKind `json:"kind"`
	SceneID   string     `json:"scene_id,omitempty"`
	HotspotID string     `json:"hotspot_id,omitempty"`
}

// NoOp is the inert effect.
var NoOp = Effect{Kind: EffectNoOp}

// Activate resolves a hotspot against the graph. A link whose target does not
// resolve is inert rather than a transition to an unknown scene.
func Activate(g *scene.Graph, h scene.Hotspot) Effect {
	if g == nil {
		return NoOp
	}
	switch h.Type {
	case scene.HotspotLink:
		target, ok := g.ResolveLink(h.ID)
		if !ok {
			return NoOp
		}
		return Effect{Kind: EffectTransition, SceneID: target.ID, HotspotID: h.ID}
	case scene.HotspotInfo:
		return Effect{Kind: EffectShowInfo, HotspotID: h.ID}
	default:
		return NoOp
	}
}

// HitTest returns the hotspot whose overlay position is nearest to pt within
// radius. Ties go to the earlier hotspot in display order.
func HitTest(hotspots []scene.Hotspot, pt geometry.OverlayPoint, radius float64) (scene.Hotspot, bool) {
	best := -1
	bestDist := math.Inf(1)
	for i, h := range hotspots {
		d := geometry.Distance(geometry.PlaceOnSphere(h.Position.Yaw, h.Position.Pitch), pt)
		if d <= radius && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return scene.Hotspot{}, false
	}
	return hotspots[best], true
}
