package middleware

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// staticRoutes are paths without dynamic segments.
var staticRoutes = map[string]bool{
	"/":                   true,
	"/tour/scenes":        true,
	"/tour/graph":         true,
	"/tour/map":           true,
	"/tour/ws":            true,
	"/auth/login":         true,
	"/auth/logout":        true,
	"/auth/refresh":       true,
	"/auth/me":            true,
	"/admin/scenes":       true,
	"/admin/graph":        true,
	"/admin/audit":        true,
	"/admin/uploads/sign": true,
	"/health":             true,
	"/ready":              true,
	"/metrics":            true,
}

// normalizePath converts paths with dynamic segments to route patterns to
// keep metric and span cardinality bounded. /tour/scenes/main-gate becomes
// /tour/scenes/{slug}; /admin/scenes/<id>/edges becomes
// /admin/scenes/{id}/edges.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "tour" && parts[1] == "scenes" && parts[2] != "":
		return "/tour/scenes/{slug}"
	case len(parts) >= 3 && parts[0] == "admin" && parts[1] == "scenes" && parts[2] != "":
		if len(parts) == 3 {
			return "/admin/scenes/{id}"
		}
		if len(parts) == 4 && (parts[3] == "edges" || parts[3] == "hotspots") {
			return "/admin/scenes/{id}/" + parts[3]
		}
	}

	// Unknown routes collapse into one series.
	return "/other"
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// Hijack lets websocket upgrades pass through the wrapper.
func (mrw *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return hijack(mrw.ResponseWriter, func() {
		mrw.statusCode = http.StatusSwitchingProtocols
		mrw.wroteHeader = true
	})
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (mrw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return mrw.ResponseWriter
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// Health check endpoints (/health, /ready) are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
