package middleware

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

const pprofPrefix = "/debug/pprof/"

// ProfilingConfig configures the profiling middleware.
type ProfilingConfig struct {
	Enabled bool
	// Environment is checked so production deployments never expose pprof.
	Environment string
}

func isProduction(env string) bool {
	switch strings.ToLower(env) {
	case "production", "prod":
		return true
	}
	return false
}

// Profiling serves the pprof handlers under /debug/pprof/ and passes every
// other request through. It is a no-op when disabled or in production.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}
		if isProduction(config.Environment) {
			slog.Error("refusing to enable profiling in production", "environment", config.Environment)
			return next
		}
		slog.Warn("profiling endpoints enabled", "environment", config.Environment, "prefix", pprofPrefix)

		debug := http.NewServeMux()
		debug.HandleFunc(pprofPrefix, pprof.Index)
		debug.HandleFunc(pprofPrefix+"cmdline", pprof.Cmdline)
		debug.HandleFunc(pprofPrefix+"profile", pprof.Profile)
		debug.HandleFunc(pprofPrefix+"symbol", pprof.Symbol)
		debug.HandleFunc(pprofPrefix+"trace", pprof.Trace)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/debug/pprof" || strings.HasPrefix(r.URL.Path, pprofPrefix) {
				debug.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
