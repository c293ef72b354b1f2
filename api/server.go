/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer connecting the collection API to
  the handlers; collaborators (grid rendering, import tooling) consume
  these endpoints and contain no sync logic of their own.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the browser frontend

ROUTE GROUPS:
  /api/{collection}        Collection CRUD + bulk replace
  /api/consistency/*       Validation and auto-fix
  /api/online              Connectivity-restored notification
  /api/health              Liveness
  /metrics                 Prometheus

SECURITY NOTE:
  No authentication middleware. All endpoints are public; the tenant is
  fixed at server start.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/{collection}", func(r chi.Router) {
			r.Use(h.RequireCollection)
			r.Get("/", h.ListCollection)
			r.Post("/", h.CreateRecord)
			r.Put("/", h.BatchReplace)
			r.Get("/{id}", h.GetRecord)
			r.Put("/{id}", h.UpdateRecord)
			r.Delete("/{id}", h.DeleteRecord)
		})

		r.Route("/consistency", func(r chi.Router) {
			r.Post("/check", h.ConsistencyCheck)
			r.Post("/fix", h.ConsistencyFix)
		})

		r.Post("/online", h.NotifyOnline)
		r.Get("/health", h.Health)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
