package middleware

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// testLogEntry represents a parsed JSON log entry for testing.
type testLogEntry struct {
	Level     string `json:"level"`
	Msg       string `json:"msg"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Size      int    `json:"size"`
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	ErrorCode string `json:"error_code"`
}

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func parseEntry(t *testing.T, buf *bytes.Buffer) testLogEntry {
	t.Helper()
	var entry testLogEntry
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v, log: %s", err, buf.String())
	}
	return entry
}

func TestLogging_BasicFields(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/tour/scenes", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := parseEntry(t, buf)
	if entry.Method != "GET" || entry.Path != "/tour/scenes" {
		t.Errorf("unexpected method/path: %s %s", entry.Method, entry.Path)
	}
	if entry.Status != 200 {
		t.Errorf("expected status 200, got %d", entry.Status)
	}
	if entry.Size != 5 {
		t.Errorf("expected size 5, got %d", entry.Size)
	}
	if entry.Level != "INFO" {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
}

func TestLogging_WithRequestID(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := RequestID(Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	entry := parseEntry(t, buf)
	if entry.RequestID != "req-123" {
		t.Errorf("expected request_id req-123, got %q", entry.RequestID)
	}
	if rr.Header().Get(RequestIDHeader) != "req-123" {
		t.Errorf("response header not echoed: %q", rr.Header().Get(RequestIDHeader))
	}
}

// Inner handlers set values on a derived context; Logging must still see them.
func TestLogging_ErrorCodeAndUserFromInnerHandler(t *testing.T) {
	buf := &bytes.Buffer{}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := SetUserID(r.Context(), "admin-1")
		SetErrorCode(ctx, "scene_not_found")
		w.WriteHeader(http.StatusNotFound)
	})
	handler := Logging(newTestLogger(buf))(inner)

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/tour/scenes/nope", nil))

	entry := parseEntry(t, buf)
	if entry.ErrorCode != "scene_not_found" {
		t.Errorf("expected error_code scene_not_found, got %q", entry.ErrorCode)
	}
	if entry.UserID != "admin-1" {
		t.Errorf("expected user_id admin-1, got %q", entry.UserID)
	}
	if entry.Level != "WARN" {
		t.Errorf("expected level WARN for 4xx, got %s", entry.Level)
	}
}

func TestLogging_ErrorCodeOmittedOnSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetErrorCode(r.Context(), "ignored")
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if entry := parseEntry(t, buf); entry.ErrorCode != "" {
		t.Errorf("error_code should be omitted for 2xx, got %q", entry.ErrorCode)
	}
}

func TestLogging_ServerErrorLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := Logging(newTestLogger(buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if entry := parseEntry(t, buf); entry.Level != "ERROR" {
		t.Errorf("expected level ERROR, got %s", entry.Level)
	}
}

func TestContextValuesWithoutLogging(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := SetUserID(req.Context(), "u1")
	ctx = SetErrorCode(ctx, "bad")
	if GetUserID(ctx) != "u1" || GetErrorCode(ctx) != "bad" {
		t.Errorf("got user %q code %q", GetUserID(ctx), GetErrorCode(ctx))
	}
	if GetUserID(req.Context()) != "" {
		t.Error("empty context should have no user")
	}
}

// hijackRecorder is a ResponseRecorder that supports hijacking.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	client, server := net.Pipe()
	_ = client.Close()
	return server, bufio.NewReadWriter(bufio.NewReader(server), bufio.NewWriter(server)), nil
}

func TestResponseWriters_Hijack(t *testing.T) {
	buf := &bytes.Buffer{}
	m := NewMetrics()
	handler := Logging(newTestLogger(buf))(HTTPMetrics(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := w.(http.Hijacker)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Hijacker")
		}
		conn, _, err := h.Hijack()
		if err != nil {
			t.Fatalf("Hijack() error = %v", err)
		}
		_ = conn.Close()
	})))

	rec := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tour/ws", nil))

	if !rec.hijacked {
		t.Error("underlying writer was not hijacked")
	}
	if entry := parseEntry(t, buf); entry.Status != http.StatusSwitchingProtocols {
		t.Errorf("expected status 101 after hijack, got %d", entry.Status)
	}
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected error when the underlying writer cannot hijack")
	}
}

func TestRequestID_Validation(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"empty generates", "", false},
		{"valid kept", "abc-123", true},
		{"spaces rejected", "abc 123", false},
		{"too long rejected", string(bytes.Repeat([]byte("a"), maxRequestIDLength+1)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if seen == "" {
				t.Fatal("request id missing from context")
			}
			if (seen == tt.incoming) != tt.keep {
				t.Errorf("request id = %q, keep=%v", seen, tt.keep)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		env       string
		level     string
		wantJSON  bool
		wantDebug bool
		wantInfo  bool
	}{
		{"development", "development", "", false, true, true},
		{"production", "production", "", true, false, true},
		{"production debug override", "production", "debug", true, true, true},
		{"warn override", "development", "warn", false, false, false},
		{"bad level keeps default", "development", "loud", false, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(tt.env, tt.level, &buf)
			ctx := context.Background()
			if got := logger.Enabled(ctx, slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			if got := logger.Enabled(ctx, slog.LevelInfo); got != tt.wantInfo {
				t.Errorf("info enabled = %v, want %v", got, tt.wantInfo)
			}
			logger.Error("scene load failed", "scene_id", "gate")
			if got := json.Valid(bytes.TrimSpace(buf.Bytes())); got != tt.wantJSON {
				t.Errorf("json output = %v, want %v: %s", got, tt.wantJSON, buf.String())
			}
		})
	}
}
