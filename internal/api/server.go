// Package api exposes the rule engine operations over HTTP.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Veraticus/spice-rules/internal/api/handlers"
	"github.com/Veraticus/spice-rules/internal/api/middleware"
)

// Config holds API server configuration.
type Config struct {
	// TLS switches the listener to HTTPS when set.
	TLS            *tls.Config
	AllowedOrigins []string
	Port           int
}

// DefaultConfig returns defaults for the API server.
func DefaultConfig() Config {
	return Config{
		Port:           8080,
		AllowedOrigins: middleware.DefaultCORSConfig().AllowedOrigins,
	}
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
	services   *handlers.Services
	config     Config
}

// NewServer creates a new API server over the given services.
func NewServer(cfg Config, services *handlers.Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if services.Logger == nil {
		services.Logger = logger
	}

	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		logger:   logger,
		services: services,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // reapplication passes run inside the request
		IdleTimeout:  60 * time.Second,
		TLSConfig:    cfg.TLS,
	}

	return s
}

// setupMiddleware configures global middleware.
func (s *Server) setupMiddleware() {
	corsConfig := middleware.DefaultCORSConfig()
	if len(s.config.AllowedOrigins) > 0 {
		corsConfig.AllowedOrigins = s.config.AllowedOrigins
	}

	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.Recoverer)
	s.router.Use(middleware.CORS(corsConfig))
	s.router.Use(middleware.Logging(s.logger))
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check (no /api prefix - for load balancers)
	s.router.Get("/health", handlers.NewHealthHandler().ServeHTTP)

	s.router.Route("/api", func(r chi.Router) {
		engineHandler := handlers.NewEngineHandler(s.services)
		r.Post("/classify", engineHandler.Classify)
		r.Post("/reapply", engineHandler.Reapply)

		txns := handlers.NewTransactionsHandler(s.services)
		r.Get("/transactions", txns.List)
		r.Get("/transactions/{id}", txns.Get)
		r.Post("/transactions/{id}/reapply", txns.Reapply)
		r.Delete("/transactions/{id}/override", txns.ClearOverride)

		conflicts := handlers.NewConflictsHandler(s.services)
		r.Get("/conflicts", conflicts.List)
		r.Post("/conflicts/{id}/resolve", conflicts.Resolve)
		r.Post("/conflicts/{id}/advise", conflicts.Advise)
		r.Post("/conflicts/{id}/preview", conflicts.Preview)
		r.Post("/conflicts/{id}/apply", conflicts.Apply)

		rulesHandler := handlers.NewRulesHandler(s.services)
		r.Get("/rules", rulesHandler.List)
		r.Post("/rules", rulesHandler.Create)
		r.Post("/rules/seed", rulesHandler.Seed)
		r.Get("/rules/{id}", rulesHandler.Get)
		r.Patch("/rules/{id}", rulesHandler.Update)
		r.Delete("/rules/{id}", rulesHandler.Delete)
		r.Post("/rules/{id}/keywords", rulesHandler.AddKeywords)
		r.Delete("/rules/{id}/keywords", rulesHandler.RemoveKeywords)
		r.Post("/rules/{id}/activate", rulesHandler.Activate)
		r.Post("/rules/{id}/deactivate", rulesHandler.Deactivate)

		discoveryHandler := handlers.NewDiscoveryHandler(s.services)
		r.Get("/discovery", discoveryHandler.List)
		r.Post("/discovery/accept", discoveryHandler.Accept)

		taxonomyHandler := handlers.NewTaxonomyHandler(s.services)
		r.Get("/taxonomy", taxonomyHandler.List)
		r.Put("/taxonomy", taxonomyHandler.Import)
		r.Get("/taxonomy/{id}", taxonomyHandler.Get)
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.httpServer.Addr, "tls", s.httpServer.TLSConfig != nil)

	var err error
	if s.httpServer.TLSConfig != nil {
		// Certificates come from TLSConfig, so no files are passed.
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}
