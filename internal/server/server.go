// Package server provides the HTTP API for Bazaar.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/internal/auth"
	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/config"
	"github.com/hyperjump/bazaar/internal/ratelimit"
	"github.com/hyperjump/bazaar/internal/registry"
	"github.com/hyperjump/bazaar/internal/sentiment"
	"github.com/hyperjump/bazaar/pkg/utils"
)

// Analyzer runs predictions, training, and tuning.
type Analyzer interface {
	Predict(ctx context.Context, text, version string) (sentiment.Prediction, error)
	PredictBatch(ctx context.Context, texts []string, version string) (*sentiment.BatchResult, error)
	TrainAndRegister(ctx context.Context, texts, labels []string, p sentiment.TrainParams) (registry.Metadata, error)
	Tune(ctx context.Context, texts, labels []string, algorithm string, grid classifier.Grid) (*classifier.TuneResult, error)
}

// Catalog exposes model versions and the current pointer.
type Catalog interface {
	Current() (registry.Pointer, error)
	Get(ctx context.Context, id string) (registry.Metadata, error)
	List(ctx context.Context) ([]registry.Metadata, error)
	SetCurrent(ctx context.Context, id string) (registry.Pointer, error)
}

// Authenticator issues and validates bearer tokens.
type Authenticator interface {
	IssueToken(ctx context.Context, username, password string) (auth.Token, error)
	Validate(raw string) (auth.Identity, error)
}

// Limiter admits or rejects requests per client and endpoint class.
type Limiter interface {
	Check(client string, class ratelimit.Class) error
}

// Info describes the service on GET /.
type Info struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Server is the HTTP server for the Bazaar API.
type Server struct {
	analyzer Analyzer
	catalog  Catalog
	auth     Authenticator
	limiter  Limiter
	jobs     *sentiment.Jobs
	config   *config.ServerConfig
	info     Info
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	analyzer Analyzer,
	catalog Catalog,
	authenticator Authenticator,
	limiter Limiter,
	jobs *sentiment.Jobs,
	cfg *config.ServerConfig,
	info Info,
	logger *zap.Logger,
) *Server {
	return &Server{
		analyzer: analyzer,
		catalog:  catalog,
		auth:     authenticator,
		limiter:  limiter,
		jobs:     jobs,
		config:   cfg,
		info:     info,
		logger:   utils.OrNop(logger),
	}
}

// Router returns the HTTP handler with all routes and middleware.
func (s *Server) Router() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusNotFound, "Not Found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.respondError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/token", s.handleToken)
	r.Post("/analyze", s.handleAnalyze)
	r.Post("/analyze/batch", s.handleAnalyzeBatch)

	r.Route("/model", func(r chi.Router) {
		r.Get("/info", s.handleModelInfo)
		r.Get("/versions", s.handleModelVersions)
		r.Post("/promote", s.handlePromote)
		r.Post("/train", s.handleTrain)
		r.Post("/tune", s.handleTune)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Delete("/jobs/{id}", s.handleCancelJob)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
