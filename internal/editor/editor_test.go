package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/onnwee/panotour/internal/audit"
	"github.com/onnwee/panotour/internal/auth"
	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/scene"
)

// countingStore records how many times storage was touched.
type countingStore struct {
	*scene.InMemoryRepository
	mu    sync.Mutex
	calls int
}

func (c *countingStore) touch() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingStore) ListAll(ctx context.Context) ([]scene.Scene, error) {
	c.touch()
	return c.InMemoryRepository.ListAll(ctx)
}

func (c *countingStore) Insert(ctx context.Context, s *scene.Scene) error {
	c.touch()
	return c.InMemoryRepository.Insert(ctx, s)
}

type memMedia struct {
	objects map[string][]byte
	fail    error
}

func (m *memMedia) URL(key string) string { return "https://media.test/" + key }

func (m *memMedia) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if m.fail != nil {
		return m.fail
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func adminCtx() context.Context {
	return auth.WithPrincipal(context.Background(), auth.Principal{ID: "admin-1", Role: auth.RoleAdmin})
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestEditor(t *testing.T) (*Editor, *countingStore, *memMedia) {
	t.Helper()
	store := &countingStore{InMemoryRepository: scene.NewInMemoryRepository()}
	media := &memMedia{objects: map[string][]byte{}}
	return New(store, media, Options{NewID: sequentialIDs()}), store, media
}

func draft(title string) scene.Scene {
	return scene.Scene{Title: title, MediaURL: "https://media.test/" + scene.Slugify(title) + ".jpg"}
}

func mustCreate(t *testing.T, e *Editor, s scene.Scene) string {
	t.Helper()
	id, err := e.CreateScene(adminCtx(), s, nil)
	if err != nil {
		t.Fatalf("CreateScene(%q) error = %v", s.Title, err)
	}
	return id
}

func problemFields(err error) []string {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return nil
	}
	fields := make([]string, len(ve.Problems))
	for i, p := range ve.Problems {
		fields[i] = p.Field
	}
	return fields
}

func TestEditor_RequiresAdmin(t *testing.T) {
	e, store, _ := newTestEditor(t)

	contexts := map[string]context.Context{
		"anonymous": context.Background(),
		"viewer":    auth.WithPrincipal(context.Background(), auth.Principal{ID: "v1", Role: auth.RoleViewer}),
	}
	for name, ctx := range contexts {
		t.Run(name, func(t *testing.T) {
			checks := []error{
				func() error { _, err := e.CreateScene(ctx, draft("Gate"), nil); return err }(),
				e.UpdateScene(ctx, draft("Gate")),
				e.UpdateSceneEdges(ctx, "x", scene.EdgeUpdate{NextSet: true}),
				e.ReplaceHotspots(ctx, "x", nil),
				e.DeleteScene(ctx, "x"),
				func() error { _, _, err := e.List(ctx, Filter{}); return err }(),
				func() error { _, err := e.Graph(ctx); return err }(),
				func() error { _, err := e.Get(ctx, "x"); return err }(),
				func() error { _, err := e.AuditTrail(ctx, audit.Query{}); return err }(),
			}
			for i, err := range checks {
				if !errors.Is(err, ErrForbidden) {
					t.Errorf("operation %d error = %v, want ErrForbidden", i, err)
				}
			}
		})
	}
	if store.calls != 0 {
		t.Errorf("storage touched %d times before authorization", store.calls)
	}
}

func TestEditor_CreateScene(t *testing.T) {
	e, _, _ := newTestEditor(t)
	ctx := adminCtx()

	target := mustCreate(t, e, draft("Library"))
	s := draft("Main Gate")
	s.Orientation = geometry.Orientation{Yaw: 270, Pitch: 10}
	s.Hotspots = []scene.Hotspot{
		{Type: scene.HotspotLink, TargetSceneID: scene.StringPtr(target), Position: geometry.YawPitch{Yaw: 200}},
		{Type: scene.HotspotInfo, Label: " Plaque ", Description: "Founded 1901", TargetSceneID: scene.StringPtr(target)},
	}
	id, err := e.CreateScene(ctx, s, nil)
	if err != nil {
		t.Fatalf("CreateScene() error = %v", err)
	}

	got, err := e.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Slug != "main-gate" {
		t.Errorf("slug = %q, want derived from title", got.Slug)
	}
	if got.Orientation.HFOV != geometry.DefaultHFOV || got.Orientation.Yaw != -90 {
		t.Errorf("orientation = %+v, want default fov and canonical yaw", got.Orientation)
	}
	if got.CreatedBy != "admin-1" || got.Published {
		t.Errorf("created_by=%q published=%v", got.CreatedBy, got.Published)
	}
	if len(got.Hotspots) != 2 {
		t.Fatalf("hotspots = %d, want 2", len(got.Hotspots))
	}
	for i, h := range got.Hotspots {
		if h.ID == "" || h.Order != i+1 || h.SceneID != id {
			t.Errorf("hotspot %d not prepared: %+v", i, h)
		}
	}
	if got.Hotspots[0].Position.Yaw != -160 {
		t.Errorf("hotspot yaw = %v, want -160", got.Hotspots[0].Position.Yaw)
	}
	if got.Hotspots[1].Label != "Plaque" || got.Hotspots[1].TargetSceneID != nil {
		t.Errorf("info hotspot not cleaned: %+v", got.Hotspots[1])
	}
}

func TestEditor_CreateSceneReplay(t *testing.T) {
	e, _, _ := newTestEditor(t)
	const fixed = "0b6f3c2e-5d1a-4e8b-9c47-2f1d6a9e3b10"
	s := draft("Gate")
	s.ID = fixed
	if _, err := e.CreateScene(adminCtx(), s, nil); err != nil {
		t.Fatal(err)
	}
	s.Title = "Changed"
	id, err := e.CreateScene(adminCtx(), s, nil)
	if err != nil || id != fixed {
		t.Fatalf("replay = %q, %v", id, err)
	}
	got, _ := e.Get(adminCtx(), fixed)
	if got.Title != "Gate" {
		t.Errorf("replay changed the scene: %q", got.Title)
	}
}

func TestEditor_CreateSceneWithUpload(t *testing.T) {
	e, _, media := newTestEditor(t)
	body := []byte("fake jpeg bytes")

	id, err := e.CreateScene(adminCtx(), scene.Scene{Title: "Quad"}, &Upload{
		ContentType: "image/jpeg",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("CreateScene() error = %v", err)
	}
	key := "panoramas/" + id + ".jpg"
	if !bytes.Equal(media.objects[key], body) {
		t.Errorf("panorama not stored under %s", key)
	}
	got, _ := e.Get(adminCtx(), id)
	if got.MediaURL != media.URL(key) {
		t.Errorf("media url = %q", got.MediaURL)
	}

	_, err = e.CreateScene(adminCtx(), scene.Scene{Title: "Gif"}, &Upload{
		ContentType: "image/gif", Size: 10, Body: strings.NewReader("gif"),
	})
	if fields := problemFields(err); len(fields) != 1 || fields[0] != "image" {
		t.Errorf("gif upload error = %v", err)
	}

	media.fail = errors.New("bucket gone")
	_, err = e.CreateScene(adminCtx(), scene.Scene{Title: "Lost"}, &Upload{
		ContentType: "image/png", Size: 3, Body: strings.NewReader("png"),
	})
	if err == nil || !strings.Contains(err.Error(), "bucket gone") {
		t.Errorf("upload failure error = %v", err)
	}
	if list, _, _ := e.List(adminCtx(), Filter{}); len(list) != 1 {
		t.Errorf("failed creates left %d scenes", len(list))
	}
}

func TestEditor_SlugCollision(t *testing.T) {
	e, _, _ := newTestEditor(t)
	first := mustCreate(t, e, draft("Gate"))

	dup := draft("Other")
	dup.Slug = "gate"
	_, err := e.CreateScene(adminCtx(), dup, nil)
	if !errors.Is(err, scene.ErrDuplicateSlug) || !errors.Is(err, ErrValidation) {
		t.Errorf("duplicate slug error = %v", err)
	}

	// Keeping one's own slug is fine.
	edit := draft("Gate Renamed")
	edit.ID, edit.Slug = first, "gate"
	if err := e.UpdateScene(adminCtx(), edit); err != nil {
		t.Errorf("UpdateScene keeping own slug error = %v", err)
	}
}

func TestEditor_UpdateScene(t *testing.T) {
	e, _, _ := newTestEditor(t)
	id := mustCreate(t, e, draft("Gate"))

	edit := scene.Scene{ID: id, Title: "North Gate", Slug: "north-gate", Coords: &geometry.LatLng{Lat: 18.521, Lng: 73.857}}
	if err := e.UpdateScene(adminCtx(), edit); err != nil {
		t.Fatalf("UpdateScene() error = %v", err)
	}
	got, _ := e.Get(adminCtx(), id)
	if got.Title != "North Gate" || got.MediaURL == "" || got.Coords == nil {
		t.Errorf("unexpected scene after update: %+v", got)
	}

	if err := e.UpdateScene(adminCtx(), scene.Scene{ID: "ghost", Title: "Ghost", MediaURL: "x"}); !errors.Is(err, scene.ErrSceneNotFound) {
		t.Errorf("UpdateScene(ghost) error = %v", err)
	}
}

func TestEditor_UpdateSceneEdges(t *testing.T) {
	e, _, _ := newTestEditor(t)
	ctx := adminCtx()
	a := mustCreate(t, e, draft("A"))
	b := mustCreate(t, e, draft("B"))

	yes := true
	if err := e.UpdateSceneEdges(ctx, a, scene.EdgeUpdate{NextSet: true, NextSceneID: scene.StringPtr(b), Published: &yes}); err != nil {
		t.Fatalf("UpdateSceneEdges() error = %v", err)
	}
	got, _ := e.Get(ctx, a)
	if got.Next() != b || !got.Published {
		t.Errorf("edges not applied: %+v", got)
	}

	tests := []struct {
		name    string
		id      string
		update  scene.EdgeUpdate
		wantErr error
	}{
		{name: "empty", id: a, update: scene.EdgeUpdate{}, wantErr: scene.ErrNoChanges},
		{name: "self", id: a, update: scene.EdgeUpdate{NextSet: true, NextSceneID: scene.StringPtr(a)}, wantErr: ErrValidation},
		{name: "unknown target", id: a, update: scene.EdgeUpdate{NextSet: true, NextSceneID: scene.StringPtr("ghost")}, wantErr: ErrValidation},
		{name: "unknown scene", id: "ghost", update: scene.EdgeUpdate{Published: &yes}, wantErr: scene.ErrSceneNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := e.UpdateSceneEdges(ctx, tt.id, tt.update); !errors.Is(err, tt.wantErr) {
				t.Errorf("UpdateSceneEdges() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	got, _ = e.Get(ctx, a)
	if got.Next() != b {
		t.Error("rejected updates changed the edge")
	}
}

func TestEditor_ReplaceHotspots(t *testing.T) {
	e, _, _ := newTestEditor(t)
	ctx := adminCtx()
	a := mustCreate(t, e, draft("A"))
	b := mustCreate(t, e, draft("B"))

	err := e.ReplaceHotspots(ctx, a, []scene.Hotspot{
		{Type: scene.HotspotLink, TargetSceneID: scene.StringPtr(b)},
		{Type: scene.HotspotInfo, Label: "Sign"},
	})
	if err != nil {
		t.Fatalf("ReplaceHotspots() error = %v", err)
	}
	got, _ := e.Get(ctx, a)
	if len(got.Hotspots) != 2 || got.Hotspots[1].Order != 2 {
		t.Errorf("hotspots = %+v", got.Hotspots)
	}

	err = e.ReplaceHotspots(ctx, a, []scene.Hotspot{{Type: scene.HotspotLink, TargetSceneID: scene.StringPtr("ghost")}})
	if fields := problemFields(err); len(fields) != 1 || fields[0] != "hotspots[0].target_scene_id" {
		t.Errorf("dangling link error = %v", err)
	}
	got, _ = e.Get(ctx, a)
	if len(got.Hotspots) != 2 {
		t.Error("rejected replacement changed hotspots")
	}
}

func TestEditor_DeleteScene(t *testing.T) {
	e, _, _ := newTestEditor(t)
	ctx := adminCtx()
	a := mustCreate(t, e, draft("A"))
	b := mustCreate(t, e, draft("B"))
	c := mustCreate(t, e, draft("C"))

	yes := true
	_ = e.UpdateSceneEdges(ctx, a, scene.EdgeUpdate{NextSet: true, NextSceneID: scene.StringPtr(b), Published: &yes})
	_ = e.UpdateSceneEdges(ctx, b, scene.EdgeUpdate{NextSet: true, NextSceneID: scene.StringPtr(c), Published: &yes})
	_ = e.UpdateSceneEdges(ctx, c, scene.EdgeUpdate{Published: &yes})
	_ = e.ReplaceHotspots(ctx, c, []scene.Hotspot{{Type: scene.HotspotLink, TargetSceneID: scene.StringPtr(b)}})

	if err := e.DeleteScene(ctx, b); err != nil {
		t.Fatalf("DeleteScene() error = %v", err)
	}
	got, _ := e.Get(ctx, a)
	if got.NextSceneID != nil {
		t.Error("predecessor next pointer should be cleared")
	}
	got, _ = e.Get(ctx, c)
	if got.Hotspots[0].Target() != b {
		t.Error("link hotspot should stay, dangling")
	}

	g, err := e.Graph(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := g.ResolveLink(got.Hotspots[0].ID); ok {
		t.Error("dangling link should not resolve")
	}
	if err := e.DeleteScene(ctx, b); err != nil {
		t.Errorf("second DeleteScene() error = %v, want nil", err)
	}
}

func TestEditor_List(t *testing.T) {
	e, _, _ := newTestEditor(t)
	ctx := adminCtx()
	a := mustCreate(t, e, scene.Scene{Title: "Library", Description: "Reading rooms", MediaURL: "l.jpg"})
	mustCreate(t, e, scene.Scene{Title: "Gym", Description: "Courts and pool", MediaURL: "g.jpg"})
	yes := true
	_ = e.UpdateSceneEdges(ctx, a, scene.EdgeUpdate{Published: &yes})
	_ = e.ReplaceHotspots(ctx, a, []scene.Hotspot{{Type: scene.HotspotInfo, Label: "Desk"}})

	list, stats, err := e.List(ctx, Filter{Status: StatusDraft})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Title != "Gym" {
		t.Errorf("draft filter = %+v", list)
	}
	if stats != (Stats{Total: 2, Published: 1, Drafts: 1, Hotspots: 1}) {
		t.Errorf("stats = %+v", stats)
	}

	list, _, _ = e.List(ctx, Filter{Query: "POOL"})
	if len(list) != 1 || list[0].Title != "Gym" {
		t.Errorf("query filter = %+v", list)
	}
}

func TestParseStatus(t *testing.T) {
	for in, want := range map[string]Status{"": StatusAll, "ALL": StatusAll, "published": StatusPublished, "drafts": StatusDraft} {
		if got, err := ParseStatus(in); err != nil || got != want {
			t.Errorf("ParseStatus(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseStatus("archived"); err == nil {
		t.Error("ParseStatus(archived) should fail")
	}
}

func TestEditor_AuditTrail(t *testing.T) {
	trail := audit.NewInMemoryRepository()
	store := &countingStore{InMemoryRepository: scene.NewInMemoryRepository()}
	e := New(store, nil, Options{NewID: sequentialIDs(), Audit: trail})

	id := mustCreate(t, e, draft("Gate"))
	if err := e.UpdateScene(adminCtx(), scene.Scene{ID: "ghost", Title: "Ghost", MediaURL: "x"}); err == nil {
		t.Fatal("UpdateScene(ghost) should fail")
	}
	if err := e.DeleteScene(adminCtx(), id); err != nil {
		t.Fatal(err)
	}
	// Rejected before authorization: not recorded.
	_ = e.DeleteScene(context.Background(), id)

	entries, err := e.AuditTrail(adminCtx(), audit.Query{})
	if err != nil {
		t.Fatalf("AuditTrail() error = %v", err)
	}
	want := []struct{ action, sceneID, outcome string }{
		{audit.ActionSceneDelete, id, audit.OutcomeSuccess},
		{audit.ActionSceneUpdate, "ghost", audit.OutcomeFailure},
		{audit.ActionSceneCreate, id, audit.OutcomeSuccess},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, w := range want {
		got := entries[i]
		if got.Action != w.action || got.SceneID != w.sceneID || got.Outcome != w.outcome || got.ActorID != "admin-1" {
			t.Errorf("entry %d = %+v, want %+v", i, got, w)
		}
	}
	if err := audit.Verify(trail.Chain()); err != nil {
		t.Errorf("chain broken: %v", err)
	}
}

func TestEditor_AuditTrailDisabled(t *testing.T) {
	e, _, _ := newTestEditor(t)
	if _, err := e.AuditTrail(adminCtx(), audit.Query{}); !errors.Is(err, ErrAuditDisabled) {
		t.Errorf("AuditTrail() error = %v, want ErrAuditDisabled", err)
	}
}

func TestEditor_HotspotIDOwnedByAnotherScene(t *testing.T) {
	e, _, _ := newTestEditor(t)
	ctx := adminCtx()
	a := mustCreate(t, e, draft("A"))
	b := mustCreate(t, e, draft("B"))

	const shared = "7d8e2a41-90c3-4f6b-a1d2-5e3c9b8f0a77"
	if err := e.ReplaceHotspots(ctx, a, []scene.Hotspot{
		{ID: shared, Type: scene.HotspotLink, TargetSceneID: scene.StringPtr(b)},
	}); err != nil {
		t.Fatalf("ReplaceHotspots(a) error = %v", err)
	}

	err := e.ReplaceHotspots(ctx, b, []scene.Hotspot{{ID: shared, Type: scene.HotspotInfo, Label: "Desk"}})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("reusing a's hotspot id on b: error = %v, want ErrValidation", err)
	}
	if fields := problemFields(err); len(fields) != 1 || fields[0] != "hotspots[0].id" {
		t.Errorf("problem fields = %v", fields)
	}

	dup := draft("C")
	dup.Hotspots = []scene.Hotspot{{ID: shared, Type: scene.HotspotInfo, Label: "Desk"}}
	if _, err := e.CreateScene(ctx, dup, nil); !errors.Is(err, ErrValidation) {
		t.Errorf("creating a scene with a's hotspot id: error = %v, want ErrValidation", err)
	}

	g, err := e.Graph(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h, ok := g.Hotspot(shared); !ok || h.SceneID != a {
		t.Errorf("hotspot %s should still belong only to a, got %+v", shared, h)
	}

	// The owner may re-submit its own id.
	if err := e.ReplaceHotspots(ctx, a, []scene.Hotspot{{ID: shared, Type: scene.HotspotInfo, Label: "Plaque"}}); err != nil {
		t.Errorf("owner re-submitting its hotspot id: error = %v", err)
	}
}

func TestEditor_SuppliedIDsMustBeUUIDs(t *testing.T) {
	e, store, _ := newTestEditor(t)
	ctx := adminCtx()

	s := draft("Gate")
	s.ID = "a"
	_, err := e.CreateScene(ctx, s, nil)
	if fields := problemFields(err); len(fields) != 1 || fields[0] != "id" {
		t.Errorf("non-UUID scene id: error = %v", err)
	}

	s = draft("Gate")
	s.Hotspots = []scene.Hotspot{{ID: "h1", Type: scene.HotspotInfo, Label: "Desk"}}
	_, err = e.CreateScene(ctx, s, nil)
	if fields := problemFields(err); len(fields) != 1 || fields[0] != "hotspots[0].id" {
		t.Errorf("non-UUID hotspot id on create: error = %v", err)
	}
	if list, _ := store.ListAll(context.Background()); len(list) != 0 {
		t.Fatalf("rejected creates stored %d scenes", len(list))
	}

	id := mustCreate(t, e, draft("Gate"))
	err = e.ReplaceHotspots(ctx, id, []scene.Hotspot{{ID: "h1", Type: scene.HotspotInfo, Label: "Desk"}})
	if fields := problemFields(err); len(fields) != 1 || fields[0] != "hotspots[0].id" {
		t.Errorf("non-UUID hotspot id on replace: error = %v", err)
	}

	// Generated ids and UUIDs pass.
	s = draft("Hall")
	s.ID = "3f9a1c55-2b7e-4d08-8e61-0c4b7a2d9f13"
	s.Hotspots = []scene.Hotspot{
		{ID: "c1e0a6d2-48b9-4f37-b5aa-9d2e61f0c384", Type: scene.HotspotInfo, Label: "Desk"},
		{Type: scene.HotspotInfo, Label: "Organ"},
	}
	if _, err := e.CreateScene(ctx, s, nil); err != nil {
		t.Errorf("UUID ids: error = %v", err)
	}
}
