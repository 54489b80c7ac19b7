// Package httpserver provides the HTTP REST API for the reference harvester
// service: harvest triggering, reference search, and insight generation.
package httpserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/medscribe/reference-harvester/internal/database"
	"github.com/medscribe/reference-harvester/internal/domain"
	"github.com/medscribe/reference-harvester/internal/repository"
)

// HarvestStarter starts a harvest workflow and returns its Temporal IDs.
// Implemented by the temporal client; abstracted here so handlers can be
// tested without a Temporal server.
type HarvestStarter interface {
	StartHarvestWorkflow(ctx context.Context, literatureQuery, trialsQuery string, maxPerSource int) (workflowID, runID string, err error)
}

// InsightGenerator produces and stores patient insights from a transcript.
// Implemented by insights.Generator.
type InsightGenerator interface {
	Generate(ctx context.Context, patientID, visitID, transcript string) (*domain.PatientInsight, error)
}

// Server is the HTTP REST API server.
type Server struct {
	router         chi.Router
	httpServer     *http.Server
	harvestStarter HarvestStarter
	generator      InsightGenerator
	referenceRepo  repository.ReferenceRepository
	insightRepo    repository.InsightRepository
	db             *database.DB
	logger         zerolog.Logger
	cors           corsConfig
	harvest        HarvestDefaults
	metricsPath    string
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// AllowedOrigin is echoed in CORS headers on the public endpoints.
	AllowedOrigin string
	// MetricsPath is where Prometheus metrics are exposed (empty disables).
	MetricsPath string
}

// HarvestDefaults are the query parameters applied when a harvest request
// omits them.
type HarvestDefaults struct {
	LiteratureQuery string
	TrialsQuery     string
	MaxPerSource    int
}

// NewServer creates a new HTTP server with all dependencies.
// generator may be nil when the insights flow is disabled; the endpoint then
// returns 503.
func NewServer(
	cfg Config,
	harvestStarter HarvestStarter,
	generator InsightGenerator,
	referenceRepo repository.ReferenceRepository,
	insightRepo repository.InsightRepository,
	db *database.DB,
	harvestDefaults HarvestDefaults,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		harvestStarter: harvestStarter,
		generator:      generator,
		referenceRepo:  referenceRepo,
		insightRepo:    insightRepo,
		db:             db,
		logger:         logger.With().Str("component", "http-server").Logger(),
		cors:           corsConfig{allowedOrigin: cfg.AllowedOrigin},
		harvest:        harvestDefaults,
		metricsPath:    cfg.MetricsPath,
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	if s.metricsPath != "" {
		r.Handle(s.metricsPath, promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(jsonContentTypeMiddleware)

		r.Post("/harvest", s.startHarvest)

		r.With(s.cors.allow("GET")).Get("/references/search", s.searchReferences)
		r.With(s.cors.allow("GET")).Options("/references/search", s.cors.preflight)

		r.With(s.cors.allow("POST")).Post("/insights", s.generateInsights)
		r.With(s.cors.allow("POST")).Options("/insights", s.cors.preflight)
		r.With(s.cors.allow("GET")).Get("/insights/{patientID}/{visitID}", s.getInsights)
	})

	return r
}

// Router exposes the configured handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler returns readiness status.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	health := s.db.Health(r.Context())
	if health.Status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "not_ready",
			"database": health.Status,
			"error":    health.Error,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ready",
		"database": "healthy",
	})
}
