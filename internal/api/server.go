package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/foxzi/autoreply/internal/activation"
	"github.com/foxzi/autoreply/internal/config"
	"github.com/foxzi/autoreply/internal/ipfilter"
	"github.com/foxzi/autoreply/internal/metrics"
	"github.com/foxzi/autoreply/internal/template"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	store      *template.Storage
	activator  *activation.Activator
	config     *config.Config
	filter     *ipfilter.Filter
	validate   *validator.Validate
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(store *template.Storage, activator *activation.Activator, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	filter, err := ipfilter.Parse(cfg.API.AllowedIPs, logger.With("component", "api_ipfilter"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse api allowed_ips: %w", err)
	}

	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		activator: activator,
		config:    cfg,
		filter:    filter,
		validate:  newValidator(),
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.Middleware)
		r.Use(s.authMiddleware)

		r.Get("/groups", s.handleListGroups)
		r.Post("/groups", s.handleCreateGroup)
		r.Get("/groups/{id}", s.handleGetGroup)
		r.Delete("/groups/{id}", s.handleDeleteGroup)
		r.Patch("/groups/{id}/versions/{locale}", s.handleEditVersion)
		r.Get("/groups/{id}/versions/{locale}/preview", s.handlePreviewVersion)

		r.Post("/import", s.handleImport)
		r.Get("/export", s.handleExport)
		r.Post("/reset", s.handleReset)

		r.Post("/activate", s.handleActivate)
		r.Post("/decode", s.handleDecode)
	})
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.API.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.API.ReadTimeout,
		WriteTimeout:   s.config.API.WriteTimeout,
		IdleTimeout:    s.config.API.IdleTimeout,
		MaxHeaderBytes: s.config.API.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server",
		"addr", s.config.API.ListenAddr,
		"ip_filter", s.filter.Count())
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
