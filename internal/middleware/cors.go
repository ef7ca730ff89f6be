package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig lists the cross-origin callers the API accepts. Origins are
// matched exactly; wildcards are not supported.
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	// MaxAge is how long browsers may cache a preflight answer, in seconds.
	MaxAge int
}

// DefaultCORSConfig returns the methods and headers the API accepts for the
// given origins.
func DefaultCORSConfig(origins []string) CORSConfig {
	return CORSConfig{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", RequestIDHeader, IdempotencyKeyHeader},
		AllowCredentials: true,
		MaxAge:           600,
	}
}

func (c CORSConfig) origins() map[string]struct{} {
	set := make(map[string]struct{}, len(c.AllowedOrigins))
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = struct{}{}
		}
	}
	return set
}

// Allows reports whether origin may call the API. Requests without an Origin
// header are same-origin and always allowed. With no configured origins only
// same-origin requests pass, which is what websocket origin checks need.
func (c CORSConfig) Allows(origin string) bool {
	if origin == "" {
		return true
	}
	_, ok := c.origins()[origin]
	return ok
}

// CORS answers preflight requests and sets Access-Control-* headers for
// allowed origins. Requests from any other origin get 403. With an empty
// allowlist the middleware is a pass-through.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := cfg.origins()
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := ""
	if cfg.MaxAge > 0 {
		maxAge = strconv.Itoa(cfg.MaxAge)
	}

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			if _, ok := allowed[origin]; !ok {
				SetErrorCode(r.Context(), "origin_not_allowed")
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":{"code":"origin_not_allowed","message":"Origin not allowed"}}` + "\n"))
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			h.Set("Access-Control-Allow-Methods", methods)
			h.Set("Access-Control-Allow-Headers", headers)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader+", "+IdempotentReplayedHeader)

			if r.Method == http.MethodOptions {
				if maxAge != "" {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
