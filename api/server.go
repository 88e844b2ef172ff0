/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/projects/*       Projects, bill of quantities, certificates
  /api/certificates/*   Certificate lifecycle, quantities, documents
  /api/scenarios/*      Demo scenarios

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

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
		// Project routes
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", h.ListProjects)
			r.Post("/", h.CreateProject)
			r.Get("/{id}", h.GetProject)
			r.Get("/{id}/summary", h.GetProjectSummary)
			r.Get("/{id}/items", h.ListLineItems)
			r.Post("/{id}/contract", h.ImportContract)
			r.Post("/{id}/addendum", h.RegisterAddendum)
			r.Post("/{id}/special", h.RegisterSpecial)
			r.Get("/{id}/certificates", h.ListCertificates)
			r.Post("/{id}/certificates", h.CreateCertificate)
		})

		// Certificate routes
		r.Route("/certificates", func(r chi.Router) {
			r.Get("/{id}", h.GetCertificate)
			r.Get("/{id}/rows", h.GetCertificateRows)
			r.Get("/{id}/totals", h.GetCertificateTotals)
			r.Post("/{id}/quantities", h.ApplyQuantities)
			r.Post("/{id}/submit", h.SubmitCertificate)
			r.Post("/{id}/approve", h.ApproveCertificate)
			r.Post("/{id}/reject", h.RejectCertificate)
			r.Post("/{id}/reopen", h.ReopenCertificate)

			// Documents
			r.Get("/{id}/documents", h.GetDocumentStatus)
			r.Get("/{id}/documents/{kind}", h.DownloadDocument)
			r.Post("/{id}/documents/email", h.EmailDocuments)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
