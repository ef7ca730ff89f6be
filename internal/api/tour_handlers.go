package api

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/tour"
)

// ContentTypeCBOR is served by GET /tour/graph when the client accepts it.
const ContentTypeCBOR = "application/cbor"

// TourHandlers serves the published tour to viewers.
type TourHandlers struct {
	source tour.SceneSource
	bounds geometry.MapBounds
	logger *slog.Logger
}

// NewTourHandlers creates viewer handlers over the published scene list.
func NewTourHandlers(source tour.SceneSource, bounds geometry.MapBounds, logger *slog.Logger) *TourHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TourHandlers{source: source, bounds: bounds, logger: logger}
}

// HotspotView is a hotspot with its flat-overlay placement and its
// position on the equirectangular texture. Inert marks a link whose target
// is not in the published tour; activating it does nothing.
type HotspotView struct {
	scene.Hotspot
	Overlay geometry.OverlayPoint `json:"overlay"`
	Texture TextureCoord          `json:"texture"`
	Inert   bool                  `json:"inert,omitempty"`
}

// TextureCoord is a UV position in [0, 1].
type TextureCoord struct {
	U float64 `json:"u"`
	V float64 `json:"v"`
}

// SceneView is a published scene ready for a renderer.
type SceneView struct {
	scene.Scene
	Camera    geometry.CameraView `json:"camera"`
	Hotspots  []HotspotView       `json:"hotspots"`
	Next      string              `json:"next,omitempty"`
	Previous  string              `json:"previous,omitempty"`
	Neighbors []string            `json:"neighbors"` // link targets, for prefetching
}

// MapMarker places a scene on the map overlay.
type MapMarker struct {
	SceneID   string                `json:"scene_id"`
	Slug      string                `json:"slug"`
	Title     string                `json:"title"`
	Position  geometry.OverlayPoint `json:"position"`
	HasCoords bool                  `json:"has_coords"`
}

// MapResponse is the body of GET /tour/map.
type MapResponse struct {
	Bounds  geometry.MapBounds `json:"bounds"`
	Markers []MapMarker        `json:"markers"`
}

// loadGraph fetches published scenes and builds the graph, writing the
// error response itself on failure.
func (h *TourHandlers) loadGraph(w http.ResponseWriter, r *http.Request) (*scene.Graph, bool) {
	list, err := h.source.ListPublished(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list published scenes", "error", err)
		WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeTourUnavailable, "Tour is temporarily unavailable")
		return nil, false
	}
	g, warnings := scene.BuildGraph(list)
	if len(warnings) > 0 {
		h.logger.DebugContext(r.Context(), "published graph has integrity warnings", "count", len(warnings))
	}
	return g, true
}

func viewOf(g *scene.Graph, s scene.Scene) SceneView {
	v := SceneView{
		Scene:     s,
		Camera:    geometry.View(s.Orientation),
		Hotspots:  make([]HotspotView, 0, len(s.Hotspots)),
		Neighbors: g.Neighbors(s.ID),
	}
	if v.Neighbors == nil {
		v.Neighbors = []string{}
	}
	for _, hs := range s.Hotspots {
		hv := HotspotView{
			Hotspot: hs,
			Overlay: geometry.PlaceOnSphere(hs.Position.Yaw, hs.Position.Pitch),
		}
		hv.Texture.U, hv.Texture.V = geometry.TextureCoord(hs.Position.Yaw, hs.Position.Pitch)
		if hs.Type == scene.HotspotLink {
			_, resolved := g.ResolveLink(hs.ID)
			hv.Inert = !resolved
		}
		v.Hotspots = append(v.Hotspots, hv)
	}
	if next, ok := g.NextOf(s.ID); ok {
		v.Next = next.ID
	}
	if prev, ok := g.PreviousOf(s.ID); ok {
		v.Previous = prev.ID
	}
	return v
}

// ListScenes handles GET /tour/scenes.
func (h *TourHandlers) ListScenes(w http.ResponseWriter, r *http.Request) {
	g, ok := h.loadGraph(w, r)
	if !ok {
		return
	}
	scenes := g.Scenes()
	views := make([]SceneView, 0, len(scenes))
	for _, s := range scenes {
		views = append(views, viewOf(g, s))
	}
	entry, _ := g.Entry()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"entry_scene_id": entry.ID,
		"scenes":         views,
	})
}

// GetScene handles GET /tour/scenes/{slug}.
func (h *TourHandlers) GetScene(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	if !scene.ValidSlug(slug) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeSceneNotFound, "Scene not found")
		return
	}
	g, ok := h.loadGraph(w, r)
	if !ok {
		return
	}
	s, found := g.SceneBySlug(slug)
	if !found {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeSceneNotFound, "Scene not found")
		return
	}
	writeJSON(w, r, http.StatusOK, viewOf(g, s))
}

// Graph handles GET /tour/graph. The export is CBOR encoded when the Accept
// header asks for application/cbor, JSON otherwise.
func (h *TourHandlers) Graph(w http.ResponseWriter, r *http.Request) {
	g, ok := h.loadGraph(w, r)
	if !ok {
		return
	}
	writeExport(w, r, g.Export())
}

func writeExport(w http.ResponseWriter, r *http.Request, ex scene.Export) {
	if !accepts(r, ContentTypeCBOR) {
		writeJSON(w, r, http.StatusOK, ex)
		return
	}
	data, err := cbor.Marshal(ex)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to encode graph as CBOR", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Internal server error")
		return
	}
	w.Header().Set("Content-Type", ContentTypeCBOR)
	w.Header().Add("Vary", "Accept")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// accepts reports whether the Accept header lists mediaType explicitly.
func accepts(r *http.Request, mediaType string) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(mt), mediaType) {
			return true
		}
	}
	return false
}

// Map handles GET /tour/map.
func (h *TourHandlers) Map(w http.ResponseWriter, r *http.Request) {
	g, ok := h.loadGraph(w, r)
	if !ok {
		return
	}
	scenes := g.Scenes()
	resp := MapResponse{Bounds: h.bounds, Markers: make([]MapMarker, 0, len(scenes))}
	for i, s := range scenes {
		resp.Markers = append(resp.Markers, MapMarker{
			SceneID:   s.ID,
			Slug:      s.Slug,
			Title:     s.Title,
			Position:  geometry.MapPosition(s.Coords, h.bounds, i, len(scenes)),
			HasCoords: s.Coords != nil,
		})
	}
	writeJSON(w, r, http.StatusOK, resp)
}
