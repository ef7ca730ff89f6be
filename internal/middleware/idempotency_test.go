package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/onnwee/panotour/internal/idempotency"
)

func newIdempotentHandler(repo idempotency.Repository, calls *atomic.Int32, status int) http.Handler {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Location", "/admin/scenes/gen-1")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"id":"gen-1","call":`+string(rune('0'+n))+`}`)
	})
	return Idempotency(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))(h)
}

func idempotentRequest(method, path, key, user string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(`{"title":"Gate"}`))
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	if user != "" {
		req = req.WithContext(SetUserID(req.Context(), user))
	}
	return req
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	var calls atomic.Int32
	h := newIdempotentHandler(idempotency.NewInMemoryRepository(), &calls, http.StatusCreated)

	first := httptest.NewRecorder()
	h.ServeHTTP(first, idempotentRequest(http.MethodPost, "/admin/scenes", "k1", "admin"))
	second := httptest.NewRecorder()
	h.ServeHTTP(second, idempotentRequest(http.MethodPost, "/admin/scenes", "k1", "admin"))

	if calls.Load() != 1 {
		t.Fatalf("handler called %d times, want 1", calls.Load())
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Errorf("replay = %d %q, want %d %q", second.Code, second.Body.String(), first.Code, first.Body.String())
	}
	if second.Header().Get(IdempotentReplayedHeader) != "true" {
		t.Error("replay should be marked")
	}
	if second.Header().Get("Location") != "/admin/scenes/gen-1" || second.Header().Get("Content-Type") != "application/json" {
		t.Errorf("replay headers = %v", second.Header())
	}
	if first.Header().Get(IdempotentReplayedHeader) != "" {
		t.Error("original response should not be marked as replayed")
	}
}

func TestIdempotency_PassThrough(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
	}{
		{"no key", idempotentRequest(http.MethodPost, "/admin/scenes", "", "admin")},
		{"anonymous", idempotentRequest(http.MethodPost, "/admin/scenes", "k1", "")},
		{"not a post", idempotentRequest(http.MethodPatch, "/admin/scenes/a", "k1", "admin")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			h := newIdempotentHandler(idempotency.NewInMemoryRepository(), &calls, http.StatusCreated)
			for i := 0; i < 2; i++ {
				h.ServeHTTP(httptest.NewRecorder(), tt.req.Clone(tt.req.Context()))
			}
			if calls.Load() != 2 {
				t.Errorf("handler called %d times, want 2", calls.Load())
			}
		})
	}
}

func TestIdempotency_FailuresAreNotStored(t *testing.T) {
	var calls atomic.Int32
	h := newIdempotentHandler(idempotency.NewInMemoryRepository(), &calls, http.StatusConflict)
	for i := 0; i < 2; i++ {
		h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/admin/scenes", "k1", "admin"))
	}
	if calls.Load() != 2 {
		t.Errorf("handler called %d times, want 2", calls.Load())
	}
}

func TestIdempotency_Rejections(t *testing.T) {
	repo := idempotency.NewInMemoryRepository()
	var calls atomic.Int32
	h := newIdempotentHandler(repo, &calls, http.StatusCreated)
	h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/admin/scenes", "used", "admin"))

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantCode   string
	}{
		{"too long", idempotentRequest(http.MethodPost, "/admin/scenes", strings.Repeat("k", 65), "admin"), http.StatusBadRequest, "idempotency_key_too_long"},
		{"bad characters", idempotentRequest(http.MethodPost, "/admin/scenes", "two words", "admin"), http.StatusBadRequest, "invalid_idempotency_key"},
		{"reused on another route", idempotentRequest(http.MethodPost, "/admin/uploads/sign", "used", "admin"), http.StatusUnprocessableEntity, "idempotency_key_reused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, tt.req)
			if rr.Code != tt.wantStatus || !strings.Contains(rr.Body.String(), tt.wantCode) {
				t.Errorf("got %d %s, want %d %s", rr.Code, rr.Body.String(), tt.wantStatus, tt.wantCode)
			}
		})
	}
	if calls.Load() != 1 {
		t.Errorf("handler called %d times, want 1", calls.Load())
	}
}

func TestIdempotency_ConcurrentRetryConflicts(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.WriteHeader(http.StatusCreated)
	})
	h := Idempotency(idempotency.NewInMemoryRepository(), nil)(slow)

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), idempotentRequest(http.MethodPost, "/admin/scenes", "k1", "admin"))
		close(done)
	}()
	<-entered

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, idempotentRequest(http.MethodPost, "/admin/scenes", "k1", "admin"))
	if rr.Code != http.StatusConflict {
		t.Errorf("concurrent retry = %d, want 409", rr.Code)
	}
	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("original request did not finish")
	}
}

type failingIdempotencyRepo struct{}

func (failingIdempotencyRepo) Get(context.Context, string, string) (*idempotency.Record, error) {
	return nil, errors.New("redis down")
}
func (failingIdempotencyRepo) Store(context.Context, *idempotency.Record) error {
	return errors.New("redis down")
}
func (failingIdempotencyRepo) DeleteOlderThan(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func TestIdempotency_FailsOpen(t *testing.T) {
	var calls atomic.Int32
	h := newIdempotentHandler(failingIdempotencyRepo{}, &calls, http.StatusCreated)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, idempotentRequest(http.MethodPost, "/admin/scenes", "k1", "admin"))
	if rr.Code != http.StatusCreated || calls.Load() != 1 {
		t.Errorf("got %d after %d calls, want the handler to run", rr.Code, calls.Load())
	}
}

func TestIdempotency_IgnoresCorruptRecord(t *testing.T) {
	repo := idempotency.NewInMemoryRepository()
	err := repo.Store(context.Background(), &idempotency.Record{
		Key:                "k1",
		PrincipalID:        "admin",
		Method:             http.MethodPost,
		Route:              "/admin/scenes",
		ResponseBody:       `{"id":"stale"}`,
		ResponseHash:       idempotency.ComputeResponseHash(`{"id":"other"}`),
		ResponseStatusCode: http.StatusCreated,
	})
	if err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	h := newIdempotentHandler(repo, &calls, http.StatusCreated)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, idempotentRequest(http.MethodPost, "/admin/scenes", "k1", "admin"))
	if calls.Load() != 1 || rr.Header().Get(IdempotentReplayedHeader) != "" {
		t.Errorf("handler calls = %d, replayed = %q; want a fresh execution", calls.Load(), rr.Header().Get(IdempotentReplayedHeader))
	}
	if strings.Contains(rr.Body.String(), "stale") {
		t.Errorf("body = %s, corrupt record was replayed", rr.Body.String())
	}
}
