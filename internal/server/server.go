// Package server provides the HTTP API for corpusd.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/config"
	"github.com/corpuslabs/corpusd/internal/extract"
	"github.com/corpuslabs/corpusd/internal/pipeline"
	"github.com/corpuslabs/corpusd/internal/retrieval"
	"github.com/corpuslabs/corpusd/internal/store"
	"github.com/corpuslabs/corpusd/internal/vecstore"
)

// Queue accepts ingestion jobs for background processing.
type Queue interface {
	Enqueue(job pipeline.Job) error
}

// Generator produces an answer from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Searcher runs retrieval and context assembly.
type Searcher interface {
	Search(ctx context.Context, query, documentID string) ([]retrieval.Candidate, error)
	BuildContext(candidates []retrieval.Candidate) string
}

// Server wires the HTTP layer to the ingestion and retrieval components.
type Server struct {
	echo      *echo.Echo
	cfg       *config.Config
	docs      *store.Store
	vectors   vecstore.Store
	queue     Queue
	engine    Searcher
	generator Generator
	formats   *extract.Registry
	logger    *zap.Logger
}

// NewServer creates the HTTP server and registers all routes. gatherer
// backs GET /metrics; pass the registry the collectors were registered on.
func NewServer(cfg *config.Config, docs *store.Store, vectors vecstore.Store, queue Queue, engine Searcher, generator Generator, gatherer prometheus.Gatherer, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:      e,
		cfg:       cfg,
		docs:      docs,
		vectors:   vectors,
		queue:     queue,
		engine:    engine,
		generator: generator,
		formats:   extract.NewRegistry(cfg.Ingest.PageCharThreshold),
		logger:    logger,
	}
	s.registerRoutes(gatherer)
	return s, nil
}

func (s *Server) registerRoutes(gatherer prometheus.Gatherer) {
	s.echo.GET("/health", s.handleHealth)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := s.echo.Group("/api")
	api.POST("/documents", s.handleUpload)
	api.GET("/documents", s.handleListDocuments)
	api.GET("/documents/:id", s.handleGetDocument)
	api.DELETE("/documents/:id", s.handleDeleteDocument)
	api.GET("/search", s.handleSearch)
	api.POST("/ask", s.handleAsk)
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
