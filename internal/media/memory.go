package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory panorama store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	base    string
	objects map[string]Object
}

// Object is a stored panorama.
type Object struct {
	ContentType string
	Data        []byte
}

// NewMemoryStore creates a store whose URLs start with baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		base:    strings.TrimRight(baseURL, "/"),
		objects: make(map[string]Object),
	}
}

// URL returns the URL an object under key is served at.
func (m *MemoryStore) URL(key string) string {
	return m.base + "/" + strings.TrimLeft(key, "/")
}

// Upload stores body under key.
func (m *MemoryStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(io.LimitReader(body, size+1))
	if err != nil {
		return fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("upload size mismatch: declared %d, got %d", size, len(data))
	}
	m.mu.Lock()
	m.objects[key] = Object{ContentType: contentType, Data: data}
	m.mu.Unlock()
	return nil
}

// Exists reports ErrNotFound for unknown keys and ErrForeignURL for URLs
// outside the store.
func (m *MemoryStore) Exists(ctx context.Context, url string) error {
	prefix := m.base + "/"
	if !strings.HasPrefix(url, prefix) {
		return ErrForeignURL
	}
	key := strings.TrimPrefix(url, prefix)
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Get returns the object under key.
func (m *MemoryStore) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[key]
	return o, ok
}

// ServeHTTP serves stored objects by key, with range support. Mount it under
// the path of the store's base URL.
func (m *MemoryStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimLeft(r.URL.Path, "/")
	obj, ok := m.Get(key)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, key, time.Time{}, bytes.NewReader(obj.Data))
}
