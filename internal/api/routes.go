package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures all API routes.
func SetupRoutes(h *Handlers, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		// Agents
		r.Route("/agents", func(r chi.Router) {
			r.Post("/", h.CreateAgent)
			r.Get("/", h.ListAgents)
			r.Post("/advisor", h.AdviseCriteria)

			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Patch("/", h.UpdateAgent)
				r.Delete("/", h.DeleteAgent)
				r.Post("/check", h.CheckAgent)
				r.Post("/pause", h.PauseAgent)
				r.Post("/resume", h.ResumeAgent)
				r.Post("/complete", h.CompleteAgent)
				r.Get("/matches", h.ListAgentMatches)
			})
		})

		// Matches
		r.Patch("/matches/{matchID}", h.UpdateMatch)

		// Properties
		r.Route("/properties", func(r chi.Router) {
			r.Get("/", h.ListProperties)
			r.Post("/scan", h.ScanProperties)
		})

		// Corpus administration
		r.Route("/corpus", func(r chi.Router) {
			r.Post("/reload", h.ReloadCorpus)
			r.Post("/enrich", h.EnrichCorpus)
		})

		// Clients
		r.Get("/clients", h.ListClients)
	})

	return r
}
