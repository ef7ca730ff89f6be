// Package editor validates and applies admin mutations to the scene graph.
//
// Every operation requires an admin principal in the context and checks it
// before touching storage. Mutations are serialized: each one loads a fresh
// snapshot, reduces the intent against it and persists the result.
package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/panotour/internal/audit"
	"github.com/onnwee/panotour/internal/auth"
	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/scene"
	"github.com/onnwee/panotour/internal/tracing"
	"github.com/onnwee/panotour/internal/validate"
)

// DefaultMaxUploadBytes caps panorama uploads when Options leaves it unset.
const DefaultMaxUploadBytes = 20 << 20

// Store is the persistence the editor needs.
type Store interface {
	ListAll(ctx context.Context) ([]scene.Scene, error)
	GetByID(ctx context.Context, id string) (*scene.Scene, error)
	Insert(ctx context.Context, s *scene.Scene) error
	Update(ctx context.Context, s *scene.Scene) error
	UpdateEdges(ctx context.Context, id string, u scene.EdgeUpdate) error
	ReplaceHotspots(ctx context.Context, sceneID string, hotspots []scene.Hotspot) error
	Delete(ctx context.Context, id string) error
}

// MediaStore holds panorama images.
type MediaStore interface {
	// URL returns the public URL an object stored under key will have.
	URL(key string) string
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
}

// Upload is a panorama image submitted with a new scene.
type Upload struct {
	ContentType string
	Size        int64
	Body        io.Reader
}

// Options configures an Editor.
type Options struct {
	Logger         *slog.Logger
	MaxUploadBytes int64
	// Audit receives one entry per authorized mutation. Nil disables the
	// trail.
	Audit audit.Repository
	// NewID generates scene and hotspot ids. Defaults to random UUIDs.
	NewID func() string
}

// Editor applies validated mutations to a Store.
type Editor struct {
	store     Store
	media     MediaStore
	logger    *slog.Logger
	maxUpload int64
	newID     func() string
	trail     audit.Repository

	mu sync.Mutex
}

// New creates an Editor. media may be nil when scenes only reference
// existing media URLs.
func New(store Store, media MediaStore, opts Options) *Editor {
	e := &Editor{
		store:     store,
		media:     media,
		logger:    opts.Logger,
		maxUpload: opts.MaxUploadBytes,
		newID:     opts.NewID,
		trail:     opts.Audit,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.maxUpload <= 0 {
		e.maxUpload = DefaultMaxUploadBytes
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

func authorize(ctx context.Context) (auth.Principal, error) {
	p, ok := auth.CurrentUser(ctx)
	if !ok || !p.IsAdmin() {
		return auth.Principal{}, ErrForbidden
	}
	tracing.SetAttributes(ctx, tracing.AttrAdminID.String(p.ID))
	return p, nil
}

func (e *Editor) snapshot(ctx context.Context) (Snapshot, error) {
	list, err := e.store.ListAll(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load scenes: %w", err)
	}
	return NewSnapshot(list), nil
}

// List returns scenes matching f together with stats over all scenes.
func (e *Editor) List(ctx context.Context, f Filter) ([]scene.Scene, Stats, error) {
	if _, err := authorize(ctx); err != nil {
		return nil, Stats{}, err
	}
	list, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to list scenes: %w", err)
	}
	return f.Apply(list), ComputeStats(list), nil
}

// Get returns one scene, drafts included.
func (e *Editor) Get(ctx context.Context, id string) (*scene.Scene, error) {
	if _, err := authorize(ctx); err != nil {
		return nil, err
	}
	return e.store.GetByID(ctx, id)
}

// Graph builds the graph over every scene so integrity problems in drafts
// are visible before publishing.
func (e *Editor) Graph(ctx context.Context) (*scene.Graph, error) {
	if _, err := authorize(ctx); err != nil {
		return nil, err
	}
	list, err := e.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	g, _ := scene.BuildGraph(list)
	return g, nil
}

// CreateScene validates draft, stores the uploaded panorama when given and
// inserts the scene. Creating an id that already exists returns that id and
// changes nothing.
func (e *Editor) CreateScene(ctx context.Context, draft scene.Scene, upload *Upload) (_ string, err error) {
	ctx, end := tracing.StartSpan(ctx, "editor.create_scene")
	defer func() { end(err) }()

	p, err := authorize(ctx)
	if err != nil {
		return "", err
	}

	s := e.prepareScene(draft)
	s.CreatedBy = p.ID
	defer func() { e.record(ctx, audit.ActionSceneCreate, s.ID, err) }()
	s.Hotspots = e.prepareHotspots(s.ID, s.Hotspots)

	var key string
	if upload != nil {
		if e.media == nil {
			return "", errors.New("media storage is not configured")
		}
		contentType, err := validate.PanoramaFile(upload.ContentType, upload.Size, e.maxUpload)
		if err != nil {
			return "", invalid(FieldError{Field: "image", Message: err.Error()})
		}
		upload.ContentType = contentType
		key = panoramaKey(s.ID, contentType)
		s.MediaURL = e.media.URL(key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.snapshot(ctx)
	if err != nil {
		return "", err
	}
	if err := invalid(checkSuppliedIDs(snap, strings.TrimSpace(draft.ID), draft.Hotspots)...); err != nil {
		return "", err
	}
	if _, err := Reduce(snap, CreateScene{Scene: s}); err != nil {
		if errors.Is(err, ErrSceneExists) {
			e.logger.DebugContext(ctx, "create replayed for existing scene", slog.String("scene_id", s.ID))
			return s.ID, nil
		}
		return "", err
	}
	canonicalize(&s)

	if upload != nil {
		if err := e.media.Upload(ctx, key, upload.Body, upload.Size, upload.ContentType); err != nil {
			return "", fmt.Errorf("failed to store panorama: %w", err)
		}
	}
	if err := e.store.Insert(ctx, &s); err != nil {
		if key != "" {
			e.logger.WarnContext(ctx, "panorama stored but scene insert failed",
				slog.String("scene_id", s.ID),
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return "", fmt.Errorf("failed to insert scene: %w", err)
	}

	e.logger.InfoContext(ctx, "scene created",
		slog.String("scene_id", s.ID),
		slog.String("slug", s.Slug),
		slog.Int("hotspots", len(s.Hotspots)),
		slog.String("admin_id", p.ID),
	)
	return s.ID, nil
}

// UpdateScene edits a scene's metadata. Edges and hotspots are untouched.
func (e *Editor) UpdateScene(ctx context.Context, edit scene.Scene) (err error) {
	ctx, end := tracing.StartSpan(ctx, "editor.update_scene")
	defer func() { end(err) }()

	p, err := authorize(ctx)
	if err != nil {
		return err
	}
	s := e.prepareScene(edit)
	if s.ID == "" {
		return scene.ErrSceneNotFound
	}
	defer func() { e.record(ctx, audit.ActionSceneUpdate, s.ID, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.snapshot(ctx)
	if err != nil {
		return err
	}
	if s.MediaURL == "" {
		// Metadata edits keep the stored panorama unless a new one is named.
		if cur, ok := snap.Scene(s.ID); ok {
			s.MediaURL = cur.MediaURL
		}
	}
	if _, err := Reduce(snap, UpdateScene{Scene: s}); err != nil {
		return err
	}
	canonicalize(&s)
	if err := e.store.Update(ctx, &s); err != nil {
		return fmt.Errorf("failed to update scene: %w", err)
	}
	e.logger.InfoContext(ctx, "scene updated", slog.String("scene_id", s.ID), slog.String("admin_id", p.ID))
	return nil
}

// UpdateSceneEdges changes the next pointer and publish state of a scene.
func (e *Editor) UpdateSceneEdges(ctx context.Context, id string, u scene.EdgeUpdate) (err error) {
	ctx, end := tracing.StartSpan(ctx, "editor.update_edges", tracing.AttrSceneID.String(id))
	defer func() { end(err) }()

	p, err := authorize(ctx)
	if err != nil {
		return err
	}
	if u.Empty() {
		return scene.ErrNoChanges
	}
	defer func() { e.record(ctx, audit.ActionEdgesUpdate, id, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.snapshot(ctx)
	if err != nil {
		return err
	}
	if u.NextSet {
		if snap, err = Reduce(snap, SetNextScene{SceneID: id, NextSceneID: u.NextSceneID}); err != nil {
			return err
		}
	}
	if u.Published != nil {
		if _, err = Reduce(snap, SetPublished{SceneID: id, Published: *u.Published}); err != nil {
			return err
		}
	}
	if err := e.store.UpdateEdges(ctx, id, u); err != nil {
		return fmt.Errorf("failed to update scene edges: %w", err)
	}

	attrs := []any{slog.String("scene_id", id), slog.String("admin_id", p.ID)}
	if u.NextSet {
		attrs = append(attrs, slog.String("next_scene_id", derefString(u.NextSceneID)))
	}
	if u.Published != nil {
		attrs = append(attrs, slog.Bool("published", *u.Published))
	}
	e.logger.InfoContext(ctx, "scene edges updated", attrs...)
	return nil
}

// ReplaceHotspots swaps the hotspot set of a scene. Hotspots without an id
// get one; display order follows slice order.
func (e *Editor) ReplaceHotspots(ctx context.Context, sceneID string, hotspots []scene.Hotspot) (err error) {
	ctx, end := tracing.StartSpan(ctx, "editor.replace_hotspots", tracing.AttrSceneID.String(sceneID))
	defer func() { end(err) }()

	p, err := authorize(ctx)
	if err != nil {
		return err
	}
	hs := e.prepareHotspots(sceneID, hotspots)
	defer func() { e.record(ctx, audit.ActionHotspotsReplace, sceneID, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := invalid(checkSuppliedIDs(snap, "", hotspots)...); err != nil {
		return err
	}
	if _, err := Reduce(snap, ReplaceHotspots{SceneID: sceneID, Hotspots: hs}); err != nil {
		return err
	}
	canonicalizeHotspots(hs)
	if err := e.store.ReplaceHotspots(ctx, sceneID, hs); err != nil {
		return fmt.Errorf("failed to replace hotspots: %w", err)
	}
	e.logger.InfoContext(ctx, "hotspots replaced",
		slog.String("scene_id", sceneID),
		slog.Int("count", len(hs)),
		slog.String("admin_id", p.ID),
	)
	return nil
}

// DeleteScene removes a scene, clearing next pointers that targeted it.
// Link hotspots on other scenes keep their now dangling target. Deleting a
// scene that no longer exists succeeds.
func (e *Editor) DeleteScene(ctx context.Context, id string) (err error) {
	ctx, end := tracing.StartSpan(ctx, "editor.delete_scene", tracing.AttrSceneID.String(id))
	defer func() { end(err) }()

	p, err := authorize(ctx)
	if err != nil {
		return err
	}
	defer func() { e.record(ctx, audit.ActionSceneDelete, id, err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.snapshot(ctx)
	if err != nil {
		return err
	}
	predecessors, links := snap.ReferencesTo(id)
	if _, err := Reduce(snap, DeleteScene{SceneID: id}); err != nil {
		if errors.Is(err, scene.ErrSceneNotFound) {
			return nil
		}
		return err
	}
	if err := e.store.Delete(ctx, id); err != nil && !errors.Is(err, scene.ErrSceneNotFound) {
		return fmt.Errorf("failed to delete scene: %w", err)
	}

	e.logger.InfoContext(ctx, "scene deleted",
		slog.String("scene_id", id),
		slog.Int("cleared_next_pointers", len(predecessors)),
		slog.String("admin_id", p.ID),
	)
	if len(links) > 0 {
		tracing.AddEvent(ctx, "dangling_links", attribute.Int("count", len(links)))
		e.logger.WarnContext(ctx, "link hotspots left dangling",
			slog.String("scene_id", id),
			slog.Any("hotspot_ids", links),
		)
	}
	return nil
}

// AuditTrail returns recorded mutations matching q, newest first.
func (e *Editor) AuditTrail(ctx context.Context, q audit.Query) ([]*audit.Entry, error) {
	if _, err := authorize(ctx); err != nil {
		return nil, err
	}
	if e.trail == nil {
		return nil, ErrAuditDisabled
	}
	return e.trail.Query(ctx, q)
}

// record appends to the audit trail. Failures are logged; the mutation has
// already been applied or rejected.
func (e *Editor) record(ctx context.Context, action, sceneID string, cause error) {
	if e.trail == nil {
		return
	}
	if _, err := audit.Record(ctx, e.trail, action, sceneID, cause); err != nil {
		e.logger.ErrorContext(ctx, "failed to record audit entry",
			slog.String("action", action),
			slog.String("scene_id", sceneID),
			slog.String("error", err.Error()),
		)
	}
}

// prepareScene fills defaults: id, slug from title and default camera.
func (e *Editor) prepareScene(in scene.Scene) scene.Scene {
	s := in.Clone()
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		s.ID = e.newID()
	}
	s.Title = strings.TrimSpace(s.Title)
	s.Description = strings.TrimSpace(s.Description)
	s.MediaURL = strings.TrimSpace(s.MediaURL)
	s.Slug = strings.TrimSpace(s.Slug)
	if s.Slug == "" {
		s.Slug = scene.Slugify(s.Title)
	}
	if s.Orientation.HFOV == 0 {
		s.Orientation.HFOV = geometry.DefaultHFOV
	}
	return s
}

// canonicalize maps validated angles into their stored form.
func canonicalize(s *scene.Scene) {
	s.Orientation = s.Orientation.Normalize()
	canonicalizeHotspots(s.Hotspots)
}

func canonicalizeHotspots(hs []scene.Hotspot) {
	for i := range hs {
		hs[i].Position.Yaw = geometry.NormalizeYaw(hs[i].Position.Yaw)
	}
}

func (e *Editor) prepareHotspots(sceneID string, in []scene.Hotspot) []scene.Hotspot {
	out := make([]scene.Hotspot, len(in))
	for i, h := range in {
		h = h.Clone()
		if h.ID == "" {
			h.ID = e.newID()
		}
		h.SceneID = sceneID
		h.Order = i + 1
		h.Label = strings.TrimSpace(h.Label)
		if h.Type == scene.HotspotInfo {
			h.TargetSceneID = nil
		}
		out[i] = h
	}
	return out
}

func panoramaKey(sceneID, contentType string) string {
	ext := ".jpg"
	if contentType == validate.MIMEImagePNG {
		ext = ".png"
	}
	return "panoramas/" + sceneID + ext
}
