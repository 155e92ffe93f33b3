// Package web provides the admin HTTP API for registering, running and
// inspecting file ingestions.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/checkin/internal/config"
	"github.com/JonMunkholm/checkin/internal/core"
	"github.com/JonMunkholm/checkin/internal/dialect"
	"github.com/JonMunkholm/checkin/internal/ingest"
	"github.com/JonMunkholm/checkin/internal/web/middleware"
)

// FileStore is the file record access the API needs.
type FileStore interface {
	ingest.Registrar
	GetFile(ctx context.Context, id string) (core.FileUpload, error)
	ListFiles(ctx context.Context, status core.Status, limit int) ([]core.FileUpload, error)
}

// Runner runs and retries files. *ingest.Engine implements it.
type Runner interface {
	Run(ctx context.Context, fileID string) (ingest.Result, error)
	Retry(ctx context.Context, fileID string) (core.FileUpload, error)
	Detector() dialect.Detector
}

// Server is the admin HTTP server.
type Server struct {
	files   FileStore
	runner  Runner
	limiter *ingest.RunLimiter
	logger  *slog.Logger
	cfg     config.ServerConfig

	router *chi.Mux
	server *http.Server

	// background runs started by POST /api/files/{id}/ingest
	runs sync.WaitGroup
}

// NewServer creates a new Server instance.
func NewServer(cfg config.ServerConfig, files FileStore, runner Runner, limiter *ingest.RunLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = ingest.NewRunLimiter(ingest.DefaultMaxConcurrentRuns, ingest.DefaultMaxWait)
	}
	s := &Server{
		files:   files,
		runner:  runner,
		limiter: limiter,
		logger:  logger,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.APIKeys))

		r.Get("/files", s.handleListFiles)
		r.Post("/files", s.handleRegister)
		r.Get("/files/{id}", s.handleGetFile)
		r.Post("/files/{id}/ingest", s.handleIngest)
		r.Post("/files/{id}/retry", s.handleRetry)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	s.logger.Info("starting server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then waits for background runs to
// release their limiter slots or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if derr := s.limiter.WaitForDrain(ctx); derr != nil {
		s.logger.Warn("runs still active at shutdown", "active", s.limiter.Active())
		err = errors.Join(err, derr)
	}
	return err
}

// Wait blocks until every background run has returned.
func (s *Server) Wait() {
	s.runs.Wait()
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

// runTimeout bounds a synchronous ?wait=true run so a stuck database cannot
// hold the request forever.
const runTimeout = 6 * time.Hour
