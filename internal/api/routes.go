package api

import (
	"net/http"
	"sort"
	"strings"
)

// Routes holds the handler groups served by NewRouter. Nil groups are not
// mounted.
type Routes struct {
	Tour    *TourHandlers
	Socket  *TourSocketHandlers
	Auth    *AuthHandlers
	Admin   *AdminHandlers
	Health  *HealthHandlers
	Metrics http.Handler

	// AuthLimit wraps the credential endpoints and AdminLimit every admin
	// route. Either may be nil.
	AuthLimit  func(http.Handler) http.Handler
	AdminLimit func(http.Handler) http.Handler
	// Idempotent wraps scene creation so retried uploads replay. Optional.
	Idempotent func(http.Handler) http.Handler

	Service string
	Version string
}

// NewRouter mounts every route on a ServeMux. Known paths answer other
// methods with a JSON 405 and unknown paths with a JSON 404.
func NewRouter(rt Routes) *http.ServeMux {
	mux := http.NewServeMux()
	authLimit := orIdentity(rt.AuthLimit)
	adminLimit := orIdentity(rt.AdminLimit)
	idempotent := orIdentity(rt.Idempotent)

	if h := rt.Tour; h != nil {
		route(mux, "/tour/scenes", methods{http.MethodGet: h.ListScenes})
		route(mux, "/tour/scenes/{slug}", methods{http.MethodGet: h.GetScene})
		route(mux, "/tour/graph", methods{http.MethodGet: h.Graph})
		route(mux, "/tour/map", methods{http.MethodGet: h.Map})
	}
	if h := rt.Socket; h != nil {
		route(mux, "/tour/ws", methods{http.MethodGet: h.Serve})
	}

	if h := rt.Auth; h != nil {
		route(mux, "/auth/login", methods{http.MethodPost: limited(authLimit, h.Login)})
		route(mux, "/auth/refresh", methods{http.MethodPost: limited(authLimit, h.Refresh)})
		route(mux, "/auth/logout", methods{http.MethodPost: h.Logout})
		route(mux, "/auth/me", methods{http.MethodGet: h.Me})
	}

	if h := rt.Admin; h != nil {
		route(mux, "/admin/scenes", methods{
			http.MethodGet:  limited(adminLimit, h.ListScenes),
			http.MethodPost: limited(adminLimit, limited(idempotent, h.CreateScene)),
		})
		route(mux, "/admin/scenes/{id}", methods{
			http.MethodGet:    limited(adminLimit, h.GetScene),
			http.MethodPatch:  limited(adminLimit, h.UpdateScene),
			http.MethodDelete: limited(adminLimit, h.DeleteScene),
		})
		route(mux, "/admin/scenes/{id}/edges", methods{http.MethodPatch: limited(adminLimit, h.UpdateEdges)})
		route(mux, "/admin/scenes/{id}/hotspots", methods{http.MethodPut: limited(adminLimit, h.ReplaceHotspots)})
		route(mux, "/admin/graph", methods{http.MethodGet: limited(adminLimit, h.Graph)})
		route(mux, "/admin/audit", methods{http.MethodGet: limited(adminLimit, h.AuditTrail)})
		route(mux, "/admin/uploads/sign", methods{http.MethodPost: limited(adminLimit, h.SignUpload)})
	}

	if h := rt.Health; h != nil {
		route(mux, "/health", methods{http.MethodGet: h.Health})
		route(mux, "/ready", methods{http.MethodGet: h.Ready})
	}
	if rt.Metrics != nil {
		route(mux, "/metrics", methods{http.MethodGet: rt.Metrics.ServeHTTP})
	}

	service, version := rt.Service, rt.Version
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]string{"service": service, "version": version})
	})
	return mux
}

type methods map[string]http.HandlerFunc

// route registers one pattern per method plus a method-less fallback that
// answers 405 with the Allow list.
func route(mux *http.ServeMux, path string, m methods) {
	allow := make([]string, 0, len(m))
	for method, h := range m {
		mux.HandleFunc(method+" "+path, h)
		allow = append(allow, method)
		if method == http.MethodGet {
			allow = append(allow, http.MethodHead)
		}
	}
	sort.Strings(allow)
	allowed := strings.Join(allow, ", ")
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		methodNotAllowed(w, r, allowed)
	})
}

func limited(mw func(http.Handler) http.Handler, h http.HandlerFunc) http.HandlerFunc {
	return mw(h).ServeHTTP
}

func orIdentity(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return mw
}
