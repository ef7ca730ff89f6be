package scene

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/panotour/internal/geometry"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	return context.Background()
}

// newClockedRepo returns a repository whose clock advances one second per call.
func newClockedRepo() *InMemoryRepository {
	repo := NewInMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	repo.timeNow = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	return repo
}

func TestInMemoryRepository_InsertAndGet(t *testing.T) {
	repo := newClockedRepo()
	ctx := testContext(t)

	s := &Scene{
		ID:          "s1",
		Title:       "Main Gate",
		Slug:        "main-gate",
		MediaURL:    "https://cdn.example/gate.jpg",
		Orientation: geometry.Orientation{Yaw: 10, HFOV: 75},
		Hotspots:    []Hotspot{info("h1", "Plaque", 1)},
	}
	if err := repo.Insert(ctx, s); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	got, err := repo.GetByID(ctx, "s1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Title != "Main Gate" || got.CreatedAt == nil {
		t.Errorf("unexpected scene: %+v", got)
	}
	if len(got.Hotspots) != 1 || got.Hotspots[0].SceneID != "s1" {
		t.Errorf("hotspots not stamped with owner: %+v", got.Hotspots)
	}

	bySlug, err := repo.GetBySlug(ctx, "main-gate")
	if err != nil || bySlug.ID != "s1" {
		t.Errorf("GetBySlug() = %v, %v", bySlug, err)
	}

	if _, err := repo.GetByID(ctx, "nope"); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("GetByID(nope) error = %v, want ErrSceneNotFound", err)
	}
}

func TestInMemoryRepository_InsertIdempotent(t *testing.T) {
	repo := newClockedRepo()
	ctx := testContext(t)

	if err := repo.Insert(ctx, &Scene{ID: "s1", Title: "First", Slug: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := repo.Insert(ctx, &Scene{ID: "s1", Title: "Replay", Slug: "replay"}); err != nil {
		t.Fatalf("replayed insert should succeed, got %v", err)
	}

	all, _ := repo.ListAll(ctx)
	if len(all) != 1 || all[0].Title != "First" {
		t.Errorf("replayed insert changed state: %+v", all)
	}
}

func TestInMemoryRepository_DuplicateSlug(t *testing.T) {
	repo := newClockedRepo()
	ctx := testContext(t)

	_ = repo.Insert(ctx, &Scene{ID: "s1", Slug: "gate"})
	if err := repo.Insert(ctx, &Scene{ID: "s2", Slug: "gate"}); !errors.Is(err, ErrDuplicateSlug) {
		t.Errorf("Insert duplicate slug error = %v, want ErrDuplicateSlug", err)
	}

	_ = repo.Insert(ctx, &Scene{ID: "s2", Slug: "court"})
	if err := repo.Update(ctx, &Scene{ID: "s2", Slug: "gate"}); !errors.Is(err, ErrDuplicateSlug) {
		t.Errorf("Update to taken slug error = %v, want ErrDuplicateSlug", err)
	}
	// Keeping one's own slug is not a collision.
	if err := repo.Update(ctx, &Scene{ID: "s2", Slug: "court", Title: "Court"}); err != nil {
		t.Errorf("Update keeping own slug error = %v", err)
	}

	taken, _ := repo.ExistsBySlug(ctx, "gate", "s1")
	if taken {
		t.Error("ExistsBySlug should exclude the scene itself")
	}
	taken, _ = repo.ExistsBySlug(ctx, "gate", "s2")
	if !taken {
		t.Error("ExistsBySlug should see other scenes")
	}
}

func TestInMemoryRepository_ListOrderAndPublished(t *testing.T) {
	repo := newClockedRepo()
	ctx := testContext(t)

	early := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.Insert(ctx, &Scene{ID: "late", Slug: "late", Published: true})
	_ = repo.Insert(ctx, &Scene{ID: "draft", Slug: "draft"})
	_ = repo.Insert(ctx, &Scene{ID: "early", Slug: "early", Published: true, CreatedAt: &early})

	all, _ := repo.ListAll(ctx)
	wantAll := []string{"early", "late", "draft"}
	for i, id := range wantAll {
		if all[i].ID != id {
			t.Fatalf("ListAll()[%d] = %q, want %q", i, all[i].ID, id)
		}
	}

	published, _ := repo.ListPublished(ctx)
	if len(published) != 2 || published[0].ID != "early" || published[1].ID != "late" {
		t.Errorf("ListPublished() = %+v", published)
	}
}

func TestInMemoryRepository_UpdateEdges(t *testing.T) {
	repo := newClockedRepo()
	ctx := testContext(t)
	_ = repo.Insert(ctx, &Scene{ID: "a", Slug: "a"})
	_ = repo.Insert(ctx, &Scene{ID: "b", Slug: "b"})

	if err := repo.UpdateEdges(ctx, "a", EdgeUpdate{}); !errors.Is(err, ErrNoChanges) {
		t.Errorf("empty update error = %v, want ErrNoChanges", err)
	}

	published := true
	if err := repo.UpdateEdges(ctx, "a", EdgeUpdate{NextSet: true, NextSceneID: StringPtr("b"), Published: &published}); err != nil {
		t.Fatalf("UpdateEdges() error = %v", err)
	}
	a, _ := repo.GetByID(ctx, "a")
	if a.Next() != "b" || !a.Published {
		t.Errorf("edges not applied: next=%q published=%v", a.Next(), a.Published)
	}

	// Publishing alone leaves the edge untouched.
	unpublished := false
	_ = repo.UpdateEdges(ctx, "a", EdgeUpdate{Published: &unpublished})
	a, _ = repo.GetByID(ctx, "a")
	if a.Next() != "b" || a.Published {
		t.Errorf("publish-only update changed edge: next=%q published=%v", a.Next(), a.Published)
	}

	_ = repo.UpdateEdges(ctx, "a", EdgeUpdate{NextSet: true})
	a, _ = repo.GetByID(ctx, "a")
	if a.NextSceneID != nil {
		t.Error("NextSet with nil should clear the edge")
	}

	if err := repo.UpdateEdges(ctx, "ghost", EdgeUpdate{NextSet: true}); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("UpdateEdges(ghost) error = %v, want ErrSceneNotFound", err)
	}
}

func TestInMemoryRepository_ReplaceHotspots(t *testing.T) {
	repo := newClockedRepo()
	ctx := testContext(t)
	_ = repo.Insert(ctx, &Scene{ID: "a", Slug: "a", Hotspots: []Hotspot{info("old", "Old", 0)}})

	replacement := []Hotspot{info("n1", "One", 1), info("n2", "Two", 2)}
	if err := repo.ReplaceHotspots(ctx, "a", replacement); err != nil {
		t.Fatalf("ReplaceHotspots() error = %v", err)
	}
	replacement[0].Label = "Mutated"

	a, _ := repo.GetByID(ctx, "a")
	if len(a.Hotspots) != 2 || a.Hotspots[0].ID != "n1" || a.Hotspots[0].Label != "One" {
		t.Errorf("unexpected hotspots: %+v", a.Hotspots)
	}

	if err := repo.ReplaceHotspots(ctx, "ghost", nil); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("ReplaceHotspots(ghost) error = %v, want ErrSceneNotFound", err)
	}
}

func TestInMemoryRepository_DeleteClearsBackPointers(t *testing.T) {
	repo := newClockedRepo()
	ctx := testContext(t)
	_ = repo.Insert(ctx, &Scene{ID: "a", Slug: "a", NextSceneID: StringPtr("b")})
	_ = repo.Insert(ctx, &Scene{ID: "b", Slug: "b"})
	_ = repo.Insert(ctx, &Scene{ID: "c", Slug: "c", NextSceneID: StringPtr("b")})

	if err := repo.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for _, id := range []string{"a", "c"} {
		s, _ := repo.GetByID(ctx, id)
		if s.NextSceneID != nil {
			t.Errorf("%s.next should be cleared", id)
		}
	}
	if err := repo.Delete(ctx, "b"); !errors.Is(err, ErrSceneNotFound) {
		t.Errorf("second Delete error = %v, want ErrSceneNotFound", err)
	}
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	repo := newClockedRepo()
	ctx := testContext(t)
	_ = repo.Insert(ctx, &Scene{ID: "a", Slug: "a", Hotspots: []Hotspot{info("h1", "One", 0)}})

	got, _ := repo.GetByID(ctx, "a")
	got.Title = "Mutated"
	got.Hotspots[0].Label = "Mutated"

	again, _ := repo.GetByID(ctx, "a")
	if again.Title == "Mutated" || again.Hotspots[0].Label == "Mutated" {
		t.Error("repository leaks internal state")
	}
}

func TestInMemoryRepository_HotspotIDsAreTourWide(t *testing.T) {
	repo := newClockedRepo()
	ctx := testContext(t)
	if err := repo.Insert(ctx, &Scene{ID: "a", Slug: "a", Hotspots: []Hotspot{info("h1", "One", 1)}}); err != nil {
		t.Fatal(err)
	}

	if err := repo.Insert(ctx, &Scene{ID: "b", Slug: "b", Hotspots: []Hotspot{info("h1", "Copy", 1)}}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("Insert with a taken hotspot id error = %v, want ErrDuplicateID", err)
	}
	if _, err := repo.GetByID(ctx, "b"); !errors.Is(err, ErrSceneNotFound) {
		t.Error("rejected insert should store nothing")
	}

	_ = repo.Insert(ctx, &Scene{ID: "b", Slug: "b"})
	if err := repo.ReplaceHotspots(ctx, "b", []Hotspot{info("h1", "Copy", 1)}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("ReplaceHotspots with a taken id error = %v, want ErrDuplicateID", err)
	}
	// Re-submitting a scene's own ids is a plain replace.
	if err := repo.ReplaceHotspots(ctx, "a", []Hotspot{info("h1", "Renamed", 1)}); err != nil {
		t.Errorf("ReplaceHotspots on the owner error = %v", err)
	}
}
