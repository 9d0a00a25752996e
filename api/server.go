/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/companies/*   Org structure, hierarchy view, stats, redistribution
  /api/users/*       User creation and listing
  /api/agents/*      Supervisor assignment
  /api/leads/*       Ingestion and allocation
  /api/rules/*       Rule catalog and toggling
  /api/numbers/*     Phone number pool
  /api/scenarios/*   Demo data loaders (dev only)

SECURITY NOTE:
  No authentication middleware. Session handling lives in front of this
  service; all endpoints here trust the caller.

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

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Company routes
		r.Route("/companies", func(r chi.Router) {
			r.Get("/", h.ListCompanies)
			r.Post("/", h.CreateCompany)
			r.Get("/{id}/hierarchy", h.GetHierarchy)
			r.Get("/{id}/stats", h.GetStats)
			r.Post("/{id}/transfer-ownership", h.TransferOwnership)
			r.Post("/{id}/redistribute", h.TriggerRedistribution)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
		})

		// Agent hierarchy routes
		r.Route("/agents", func(r chi.Router) {
			r.Post("/{id}/assign", h.AssignAgent)
			r.Post("/{id}/detach", h.DetachAgent)
		})

		// Lead routes
		r.Route("/leads", func(r chi.Router) {
			r.Get("/", h.ListLeads)
			r.Post("/", h.IngestLead)
			r.Get("/{id}", h.GetLead)
			r.Post("/{id}/allocate", h.AllocateLead)
		})

		// Rule routes
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/{id}/toggle", h.ToggleRule)
		})

		// Phone number routes
		r.Route("/numbers", func(r chi.Router) {
			r.Get("/", h.ListNumbers)
			r.Post("/", h.RegisterNumber)
			r.Post("/{id}/assign", h.AssignNumber)
			r.Post("/{id}/unassign", h.UnassignNumber)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	// No frontend build is served from this binary; the dashboard is a
	// separate deployment. Give humans hitting the root a pointer.
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Lead Distribution Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Lead Distribution Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/companies">/api/companies</a> - List companies</li>
<li><a href="/api/rules">/api/rules</a> - List distribution rules</li>
<li><a href="/api/scenarios">/api/scenarios</a> - List demo scenarios</li>
</ul>
</body>
</html>`))
	})

	return r
}
