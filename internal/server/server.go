// Package server provides the HTTP REST API for the BOQ matching service.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/stavmatch/boq-matching-service/internal/database"
	"github.com/stavmatch/boq-matching-service/internal/repository"
	"github.com/stavmatch/boq-matching-service/internal/temporal"
)

// WorkflowClient defines the workflow operations used by the HTTP server.
// Satisfied by *temporal.BatchWorkflowClient.
type WorkflowClient interface {
	StartBatchWorkflow(ctx context.Context, input temporal.BatchWorkflowInput, workflowFunc interface{}) (workflowID, runID string, err error)
	PauseWorkflow(ctx context.Context, workflowID, requestedBy string) error
	CancelWorkflow(ctx context.Context, workflowID string) error
	Progress(ctx context.Context, workflowID string) (*temporal.WorkflowProgress, error)
}

// Server is the HTTP REST API server.
type Server struct {
	router         chi.Router
	httpServer     *http.Server
	workflowClient WorkflowClient
	workflowFunc   interface{} // The Temporal workflow function reference.
	jobRepo        repository.JobRepository
	itemRepo       repository.ItemRepository
	db             *database.DB
	logger         zerolog.Logger
	validate       *validator.Validate
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server with all dependencies.
// workflowFunc is the Temporal workflow function reference
// (workflows.BatchMatchWorkflow) passed to StartBatchWorkflow.
func NewServer(
	cfg Config,
	workflowClient WorkflowClient,
	workflowFunc interface{},
	jobRepo repository.JobRepository,
	itemRepo repository.ItemRepository,
	db *database.DB,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		workflowClient: workflowClient,
		workflowFunc:   workflowFunc,
		jobRepo:        jobRepo,
		itemRepo:       itemRepo,
		db:             db,
		logger:         logger.With().Str("component", "http-server").Logger(),
		validate:       validator.New(validator.WithRequiredStructEnabled()),
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
	r.Use(jsonContentTypeMiddleware)

	// Health endpoints
	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/jobs", s.submitJob)
		r.Get("/jobs", s.listJobs)

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Get("/items", s.listJobItems)
			r.Get("/progress", s.getJobProgress)
			r.Post("/pause", s.pauseJob)
			r.Post("/resume", s.resumeJob)
			r.Post("/cancel", s.cancelJob)
		})
	})

	return r
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

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
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

// readinessHandler returns readiness status including Temporal connectivity.
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

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
