package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkre153/dealfinder-pro-sub000/internal/config"
)

// Server represents the API server
type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	server   *http.Server
	router   *chi.Mux
}

// NewServer creates a new API server around pre-built handlers. Optional
// collaborators (scanner, CRM worker, advisor, archive) are attached to the
// handlers before or after this call; routes resolve them per request.
func NewServer(cfg config.ServerConfig, handlers *Handlers) *Server {
	router := SetupRoutes(handlers, cfg.CORSOrigins)

	return &Server{
		config:   cfg,
		handler:  router,
		handlers: handlers,
		router:   router,
	}
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// Generous body timeouts: the enrich endpoint accepts whole CSV
		// feeds in the request body.
		ReadTimeout:       5 * time.Minute,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
