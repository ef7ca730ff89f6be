package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/onnwee/panotour/internal/audit"
	"github.com/onnwee/panotour/internal/auth"
	"github.com/onnwee/panotour/internal/editor"
	"github.com/onnwee/panotour/internal/geometry"
	"github.com/onnwee/panotour/internal/media"
	"github.com/onnwee/panotour/internal/middleware"
	"github.com/onnwee/panotour/internal/scene"
)

const testMediaBase = "https://media.test"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedTour stores a published three-scene tour: gate → court → hall, with a
// link hotspot from gate to hall and an info hotspot on court.
func seedTour(t *testing.T, repo *scene.InMemoryRepository, store *media.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	for _, key := range []string{"gate.jpg", "court.jpg", "hall.jpg"} {
		if err := store.Upload(ctx, key, bytes.NewReader([]byte("img")), 3, "image/jpeg"); err != nil {
			t.Fatal(err)
		}
	}
	scenes := []*scene.Scene{
		{
			ID: "gate", Title: "Main Gate", Slug: "main-gate", MediaURL: store.URL("gate.jpg"),
			Orientation: geometry.DefaultOrientation(), Published: true, NextSceneID: scene.StringPtr("court"),
			Coords: &geometry.LatLng{Lat: 18.52, Lng: 73.85},
			Hotspots: []scene.Hotspot{{ID: "to-hall", Type: scene.HotspotLink, Label: "Hall",
				TargetSceneID: scene.StringPtr("hall"), Position: geometry.YawPitch{Yaw: 90}}},
		},
		{
			ID: "court", Title: "Court", Slug: "court", MediaURL: store.URL("court.jpg"),
			Orientation: geometry.DefaultOrientation(), Published: true, NextSceneID: scene.StringPtr("hall"),
			Hotspots: []scene.Hotspot{{ID: "plaque", Type: scene.HotspotInfo, Label: "Plaque",
				Description: "Founded 1901"}},
		},
		{
			ID: "hall", Title: "Hall", Slug: "hall", MediaURL: store.URL("hall.jpg"),
			Orientation: geometry.DefaultOrientation(), Published: true,
		},
	}
	for _, s := range scenes {
		if err := repo.Insert(ctx, s); err != nil {
			t.Fatalf("seed %s: %v", s.ID, err)
		}
	}
}

func adminPrincipal() auth.Principal {
	return auth.Principal{ID: "admin-1", Email: "admin@example.com", Role: auth.RoleAdmin}
}

// asAdmin stands in for the Authenticate middleware.
func asAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithPrincipal(r.Context(), adminPrincipal())
		next.ServeHTTP(w, r.WithContext(middleware.SetUserID(ctx, adminPrincipal().ID)))
	})
}

type adminFixture struct {
	repo    *scene.InMemoryRepository
	media   *media.MemoryStore
	editor  *editor.Editor
	trail   *audit.InMemoryRepository
	handler *AdminHandlers
	mux     http.Handler
	anon    http.Handler
}

func newAdminFixture(t *testing.T, opts AdminOptions) *adminFixture {
	t.Helper()
	repo := scene.NewInMemoryRepository()
	store := media.NewMemoryStore(testMediaBase)
	seedTour(t, repo, store)

	ids := 0
	trail := audit.NewInMemoryRepository()
	ed := editor.New(repo, store, editor.Options{
		Logger: quietLogger(),
		Audit:  trail,
		NewID: func() string {
			ids++
			return fmt.Sprintf("gen-%d", ids)
		},
	})
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	h := NewAdminHandlers(ed, opts)
	mux := NewRouter(Routes{Admin: h})
	return &adminFixture{repo: repo, media: store, editor: ed, trail: trail, handler: h, mux: asAdmin(mux), anon: mux}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[ErrorResponse](t, rec).Error.Code
}
