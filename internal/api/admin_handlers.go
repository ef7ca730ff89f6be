package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/panotour/internal/audit"
	"github.com/onnwee/panotour/internal/auth"
	"github.com/onnwee/panotour/internal/editor"
	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/media"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/validate"
)

// maxJSONBody bounds admin JSON request bodies.
const maxJSONBody = 1 << 20

// ErrCodeUploadsUnavailable indicates direct uploads are not configured.
const ErrCodeUploadsUnavailable = "uploads_unavailable"

// ErrCodeAuditUnavailable indicates the audit trail is not configured.
const ErrCodeAuditUnavailable = "audit_unavailable"

// maxAuditLimit caps the entries returned by one audit query.
const maxAuditLimit = 1000

// UploadSigner issues presigned panorama upload URLs.
type UploadSigner interface {
	SignUpload(ctx context.Context, req media.SignRequest) (*media.SignedUpload, error)
}

// ImageProcessor checks an uploaded panorama and returns the bytes to store.
type ImageProcessor func(data []byte) ([]byte, media.Info, error)

// InspectAndStrip is the default ImageProcessor: it rejects anything but
// JPEG and PNG and re-encodes without metadata.
func InspectAndStrip(data []byte) ([]byte, media.Info, error) {
	info, err := media.Inspect(data)
	if err != nil {
		return nil, media.Info{}, err
	}
	out, err := media.StripMetadata(data, info)
	if err != nil {
		return nil, media.Info{}, err
	}
	return out, info, nil
}

// AdminOptions configures AdminHandlers.
type AdminOptions struct {
	Signer         UploadSigner
	Process        ImageProcessor
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// AdminHandlers exposes the graph editor over HTTP. Authorization is
// enforced by the editor itself.
type AdminHandlers struct {
	editor    *editor.Editor
	signer    UploadSigner
	process   ImageProcessor
	maxUpload int64
	logger    *slog.Logger
}

// NewAdminHandlers creates admin handlers over ed.
func NewAdminHandlers(ed *editor.Editor, opts AdminOptions) *AdminHandlers {
	h := &AdminHandlers{
		editor:    ed,
		signer:    opts.Signer,
		process:   opts.Process,
		maxUpload: opts.MaxUploadBytes,
		logger:    opts.Logger,
	}
	if h.process == nil {
		h.process = InspectAndStrip
	}
	if h.maxUpload <= 0 {
		h.maxUpload = editor.DefaultMaxUploadBytes
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// HotspotRequest is one hotspot in a create or replace request. When
// Overlay is set it places the hotspot by a point on the flat preview and
// Position is ignored.
type HotspotRequest struct {
	ID            string                 `json:"id,omitempty"`
	Type          string                 `json:"type"`
	Label         string                 `json:"label,omitempty"`
	Position      geometry.YawPitch      `json:"yaw_pitch"`
	Overlay       *geometry.OverlayPoint `json:"overlay,omitempty"`
	TargetSceneID *string                `json:"target_scene_id,omitempty"`
	Description   string                 `json:"description,omitempty"`
	MediaURL      string                 `json:"media_url,omitempty"`
}

func (h HotspotRequest) toHotspot() scene.Hotspot {
	pos := h.Position
	if h.Overlay != nil {
		pos = geometry.FromOverlay(*h.Overlay)
	}
	return scene.Hotspot{
		ID:            strings.TrimSpace(h.ID),
		Type:          scene.HotspotType(strings.ToLower(strings.TrimSpace(h.Type))),
		Label:         h.Label,
		Position:      pos,
		TargetSceneID: h.TargetSceneID,
		Description:   h.Description,
		MediaURL:      h.MediaURL,
	}
}

func toHotspots(in []HotspotRequest) []scene.Hotspot {
	out := make([]scene.Hotspot, len(in))
	for i, h := range in {
		out[i] = h.toHotspot()
	}
	return out
}

// CreateSceneRequest is the JSON form of POST /admin/scenes. Multipart
// requests carry the same fields as form values plus an image file.
type CreateSceneRequest struct {
	ID          string                `json:"id,omitempty"`
	Title       string                `json:"title"`
	Slug        string                `json:"slug,omitempty"`
	Description string                `json:"description,omitempty"`
	MediaURL    string                `json:"media_url,omitempty"`
	Coords      *geometry.LatLng      `json:"coords,omitempty"`
	Orientation *geometry.Orientation `json:"orientation,omitempty"`
	Published   bool                  `json:"published,omitempty"`
	NextSceneID *string               `json:"next_scene_id,omitempty"`
	Hotspots    []HotspotRequest      `json:"hotspots,omitempty"`
}

func (c CreateSceneRequest) toScene() scene.Scene {
	s := scene.Scene{
		ID:          strings.TrimSpace(c.ID),
		Title:       c.Title,
		Slug:        c.Slug,
		Description: c.Description,
		MediaURL:    c.MediaURL,
		Coords:      c.Coords,
		Orientation: geometry.DefaultOrientation(),
		Published:   c.Published,
		NextSceneID: c.NextSceneID,
		Hotspots:    toHotspots(c.Hotspots),
	}
	if c.Orientation != nil {
		s.Orientation = *c.Orientation
	}
	return s
}

// UpdateSceneRequest is the body of PATCH /admin/scenes/{id}. Absent fields
// keep their stored value.
type UpdateSceneRequest struct {
	Title       *string               `json:"title,omitempty"`
	Slug        *string               `json:"slug,omitempty"`
	Description *string               `json:"description,omitempty"`
	MediaURL    *string               `json:"media_url,omitempty"`
	Coords      *geometry.LatLng      `json:"coords,omitempty"`
	ClearCoords bool                  `json:"clear_coords,omitempty"`
	Orientation *geometry.Orientation `json:"orientation,omitempty"`
}

// EdgesRequest is the body of PATCH /admin/scenes/{id}/edges. A null
// next_scene_id clears the edge; an absent one leaves it alone.
type EdgesRequest struct {
	NextSceneID json.RawMessage `json:"next_scene_id,omitempty"`
	Published   *bool           `json:"published,omitempty"`
}

func (e EdgesRequest) toUpdate() (scene.EdgeUpdate, error) {
	u := scene.EdgeUpdate{Published: e.Published}
	if len(e.NextSceneID) == 0 {
		return u, nil
	}
	u.NextSet = true
	if string(e.NextSceneID) == "null" {
		return u, nil
	}
	var id string
	if err := json.Unmarshal(e.NextSceneID, &id); err != nil {
		return u, errors.New("next_scene_id must be a string or null")
	}
	if id = strings.TrimSpace(id); id != "" {
		u.NextSceneID = &id
	}
	return u, nil
}

// HotspotsRequest is the body of PUT /admin/scenes/{id}/hotspots.
type HotspotsRequest struct {
	Hotspots []HotspotRequest `json:"hotspots"`
}

// SignUploadRequest is the body of POST /admin/uploads/sign.
type SignUploadRequest struct {
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	SceneID     string `json:"scene_id,omitempty"`
}

// SceneListResponse is the body of GET /admin/scenes.
type SceneListResponse struct {
	Scenes []scene.Scene `json:"scenes"`
	Stats  editor.Stats  `json:"stats"`
}

// ListScenes handles GET /admin/scenes?status=&q=.
func (h *AdminHandlers) ListScenes(w http.ResponseWriter, r *http.Request) {
	status, err := editor.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, "status must be all, published or draft")
		return
	}
	list, stats, err := h.editor.List(r.Context(), editor.Filter{Status: status, Query: r.URL.Query().Get("q")})
	if err != nil {
		writeEditorError(w, r, err)
		return
	}
	if list == nil {
		list = []scene.Scene{}
	}
	writeJSON(w, r, http.StatusOK, SceneListResponse{Scenes: list, Stats: stats})
}

// GetScene handles GET /admin/scenes/{id}.
func (h *AdminHandlers) GetScene(w http.ResponseWriter, r *http.Request) {
	s, err := h.editor.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEditorError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// CreateScene handles POST /admin/scenes. It accepts JSON, or multipart
// form data with an optional "image" file and a "hotspots" JSON field.
func (h *AdminHandlers) CreateScene(w http.ResponseWriter, r *http.Request) {
	if p, ok := auth.CurrentUser(r.Context()); !ok || !p.IsAdmin() {
		writeEditorError(w, r, editor.ErrForbidden)
		return
	}

	var (
		req    CreateSceneRequest
		upload *editor.Upload
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var ok bool
		if req, upload, ok = h.parseMultipart(w, r); !ok {
			return
		}
	} else if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}

	id, err := h.editor.CreateScene(r.Context(), req.toScene(), upload)
	if err != nil {
		writeEditorError(w, r, err)
		return
	}
	created, err := h.editor.Get(r.Context(), id)
	if err != nil {
		writeEditorError(w, r, err)
		return
	}
	w.Header().Set("Location", "/admin/scenes/"+id)
	writeJSON(w, r, http.StatusCreated, created)
}

// parseMultipart reads the create form. Field errors are reported together
// as one validation error.
func (h *AdminHandlers) parseMultipart(w http.ResponseWriter, r *http.Request) (CreateSceneRequest, *editor.Upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+maxJSONBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, r.Context(), http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge, "Upload exceeds the maximum size")
			return CreateSceneRequest{}, nil, false
		}
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid multipart form")
		return CreateSceneRequest{}, nil, false
	}

	form := formReader{values: r.MultipartForm.Value}
	req := CreateSceneRequest{
		ID:          form.str("id"),
		Title:       form.str("title"),
		Slug:        form.str("slug"),
		Description: form.str("description"),
		MediaURL:    form.str("media_url"),
		Published:   form.boolean("published"),
	}
	if next := form.str("next_scene_id"); next != "" {
		req.NextSceneID = &next
	}
	o := geometry.DefaultOrientation()
	o.Yaw = form.float("yaw", o.Yaw)
	o.Pitch = form.float("pitch", o.Pitch)
	o.HFOV = form.float("fov", o.HFOV)
	req.Orientation = &o
	if form.has("lat") || form.has("lng") {
		req.Coords = &geometry.LatLng{Lat: form.float("lat", 0), Lng: form.float("lng", 0)}
	}
	if raw := form.str("hotspots"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Hotspots); err != nil {
			form.fail("hotspots", "must be a JSON array of hotspots")
		}
	}
	if len(form.problems) > 0 {
		writeEditorError(w, r, &editor.ValidationError{Problems: form.problems})
		return CreateSceneRequest{}, nil, false
	}

	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return req, nil, true
	}
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Invalid image upload")
		return CreateSceneRequest{}, nil, false
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeBadRequest, "Failed to read image upload")
		return CreateSceneRequest{}, nil, false
	}
	if int64(len(data)) > h.maxUpload {
		WriteError(w, r.Context(), http.StatusRequestEntityTooLarge, ErrCodeFileTooLarge, "Upload exceeds the maximum size")
		return CreateSceneRequest{}, nil, false
	}

	processed, info, err := h.process(data)
	if err != nil {
		writeErrorDetail(w, r.Context(), http.StatusBadRequest, ErrorDetail{
			Code:    ErrCodeUnsupportedType,
			Message: "Panorama must be a JPEG or PNG image",
			Fields:  []editor.FieldError{{Field: "image", Message: err.Error()}},
		})
		return CreateSceneRequest{}, nil, false
	}
	if !info.Equirectangular {
		h.logger.WarnContext(r.Context(), "panorama is not 2:1 equirectangular",
			"width", info.Width, "height", info.Height)
	}

	contentType := validate.MIMEImageJPEG
	if info.Type == "png" {
		contentType = validate.MIMEImagePNG
	}
	return req, &editor.Upload{
		ContentType: contentType,
		Size:        int64(len(processed)),
		Body:        bytes.NewReader(processed),
	}, true
}

// UpdateScene handles PATCH /admin/scenes/{id}.
func (h *AdminHandlers) UpdateScene(w http.ResponseWriter, r *http.Request) {
	var req UpdateSceneRequest
	if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}
	cur, err := h.editor.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEditorError(w, r, err)
		return
	}

	s := cur.Clone()
	if req.Title != nil {
		s.Title = *req.Title
	}
	if req.Slug != nil {
		s.Slug = *req.Slug
	}
	if req.Description != nil {
		s.Description = *req.Description
	}
	if req.MediaURL != nil {
		s.MediaURL = *req.MediaURL
	}
	if req.Coords != nil {
		s.Coords = req.Coords
	}
	if req.ClearCoords {
		s.Coords = nil
	}
	if req.Orientation != nil {
		s.Orientation = *req.Orientation
	}

	if err := h.editor.UpdateScene(r.Context(), s); err != nil {
		writeEditorError(w, r, err)
		return
	}
	h.respondScene(w, r, s.ID)
}

// UpdateEdges handles PATCH /admin/scenes/{id}/edges.
func (h *AdminHandlers) UpdateEdges(w http.ResponseWriter, r *http.Request) {
	var req EdgesRequest
	if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}
	u, err := req.toUpdate()
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	id := r.PathValue("id")
	if err := h.editor.UpdateSceneEdges(r.Context(), id, u); err != nil {
		writeEditorError(w, r, err)
		return
	}
	h.respondScene(w, r, id)
}

// ReplaceHotspots handles PUT /admin/scenes/{id}/hotspots.
func (h *AdminHandlers) ReplaceHotspots(w http.ResponseWriter, r *http.Request) {
	var req HotspotsRequest
	if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}
	id := r.PathValue("id")
	if err := h.editor.ReplaceHotspots(r.Context(), id, toHotspots(req.Hotspots)); err != nil {
		writeEditorError(w, r, err)
		return
	}
	h.respondScene(w, r, id)
}

// DeleteScene handles DELETE /admin/scenes/{id}. Deleting a missing scene
// succeeds.
func (h *AdminHandlers) DeleteScene(w http.ResponseWriter, r *http.Request) {
	if err := h.editor.DeleteScene(r.Context(), r.PathValue("id")); err != nil {
		writeEditorError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Graph handles GET /admin/graph: the export over every scene, drafts
// included.
func (h *AdminHandlers) Graph(w http.ResponseWriter, r *http.Request) {
	g, err := h.editor.Graph(r.Context())
	if err != nil {
		writeEditorError(w, r, err)
		return
	}
	writeExport(w, r, g.Export())
}

// SignUpload handles POST /admin/uploads/sign.
func (h *AdminHandlers) SignUpload(w http.ResponseWriter, r *http.Request) {
	if p, ok := auth.CurrentUser(r.Context()); !ok || !p.IsAdmin() {
		writeEditorError(w, r, editor.ErrForbidden)
		return
	}
	if h.signer == nil {
		WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeUploadsUnavailable, "Direct uploads are not configured")
		return
	}
	var req SignUploadRequest
	if !decodeJSON(w, r, maxJSONBody, &req) {
		return
	}

	signed, err := h.signer.SignUpload(r.Context(), media.SignRequest{
		ContentType: req.ContentType,
		SizeBytes:   req.SizeBytes,
		SceneID:     req.SceneID,
	})
	switch {
	case err == nil:
		writeJSON(w, r, http.StatusOK, signed)
	case errors.Is(err, validate.ErrInvalidMIMEType):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeUnsupportedType, "Allowed types: image/jpeg, image/png")
	case errors.Is(err, validate.ErrFileTooLarge):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeFileTooLarge, "File size exceeds maximum allowed")
	case errors.Is(err, validate.ErrFileEmpty), errors.Is(err, media.ErrInvalidScope):
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "failed to sign upload", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to generate signed URL")
	}
}

// AuditTrail handles GET /admin/audit?scene_id=&actor_id=&action=&from=&to=&limit=&format=.
// from and to are RFC 3339 timestamps; format is json (default) or csv.
func (h *AdminHandlers) AuditTrail(w http.ResponseWriter, r *http.Request) {
	q, format, problems := parseAuditQuery(r)
	if len(problems) > 0 {
		writeEditorError(w, r, &editor.ValidationError{Problems: problems})
		return
	}
	entries, err := h.editor.AuditTrail(r.Context(), q)
	if errors.Is(err, editor.ErrAuditDisabled) {
		WriteError(w, r.Context(), http.StatusServiceUnavailable, ErrCodeAuditUnavailable, "Audit trail is not configured")
		return
	}
	if err != nil {
		writeEditorError(w, r, err)
		return
	}
	data, err := audit.Encode(entries, format)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to export audit trail", "error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "Failed to export audit trail")
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write audit export", "error", err)
	}
}

func parseAuditQuery(r *http.Request) (audit.Query, audit.ExportFormat, []editor.FieldError) {
	v := r.URL.Query()
	q := audit.Query{
		SceneID: v.Get("scene_id"),
		ActorID: v.Get("actor_id"),
		Action:  v.Get("action"),
		Limit:   100,
	}
	var problems []editor.FieldError
	format, err := audit.ParseExportFormat(v.Get("format"))
	if err != nil {
		problems = append(problems, editor.FieldError{Field: "format", Message: "must be json or csv"})
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxAuditLimit {
			problems = append(problems, editor.FieldError{Field: "limit", Message: "must be between 1 and 1000"})
		} else {
			q.Limit = n
		}
	}
	bounds := []struct {
		field string
		dst   *time.Time
	}{{"from", &q.From}, {"to", &q.To}}
	for _, b := range bounds {
		field, dst := b.field, b.dst
		raw := v.Get(field)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			problems = append(problems, editor.FieldError{Field: field, Message: "must be an RFC 3339 timestamp"})
			continue
		}
		*dst = t
	}
	return q, format, problems
}

func (h *AdminHandlers) respondScene(w http.ResponseWriter, r *http.Request, id string) {
	s, err := h.editor.Get(r.Context(), id)
	if err != nil {
		writeEditorError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s)
}

// formReader reads typed multipart values and collects parse problems.
type formReader struct {
	values   map[string][]string
	problems []editor.FieldError
}

func (f *formReader) has(key string) bool {
	return strings.TrimSpace(f.str(key)) != ""
}

func (f *formReader) str(key string) string {
	if vs := f.values[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (f *formReader) float(key string, def float64) float64 {
	raw := strings.TrimSpace(f.str(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		f.fail(key, "must be a number")
		return def
	}
	return v
}

func (f *formReader) boolean(key string) bool {
	raw := strings.TrimSpace(f.str(key))
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		f.fail(key, "must be true or false")
	}
	return v
}

func (f *formReader) fail(field, msg string) {
	f.problems = append(f.problems, editor.FieldError{Field: field, Message: msg})
}
