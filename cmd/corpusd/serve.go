package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/config"
	"github.com/corpuslabs/corpusd/internal/logging"
	"github.com/corpuslabs/corpusd/internal/metrics"
	"github.com/corpuslabs/corpusd/internal/ollama"
	"github.com/corpuslabs/corpusd/internal/pipeline"
	"github.com/corpuslabs/corpusd/internal/rerank"
	"github.com/corpuslabs/corpusd/internal/retrieval"
	"github.com/corpuslabs/corpusd/internal/server"
	"github.com/corpuslabs/corpusd/internal/store"
	"github.com/corpuslabs/corpusd/internal/vecstore"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("starting corpusd",
		zap.String("version", version),
		zap.String("vector_store", cfg.VectorStore.Provider),
		zap.String("embedding_model", cfg.Ollama.EmbeddingModel),
	)

	dataDir, err := config.ExpandPath(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("resolving data dir: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	uploadDir, err := config.ExpandPath(cfg.Ingest.UploadDir)
	if err != nil {
		return fmt.Errorf("resolving upload dir: %w", err)
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return fmt.Errorf("creating upload dir: %w", err)
	}
	cfg.Ingest.UploadDir = uploadDir

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	docs, err := store.New(dataDir)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer docs.Close()

	vectors, err := vecstore.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening vector store: %w", err)
	}
	defer vectors.Close()

	client := ollama.NewClient(cfg.Ollama, logger, ollama.WithMetrics(m))

	var headers *pipeline.Generator
	if cfg.Ingest.GenerateHeaders {
		headers = pipeline.NewGenerator(client, logger)
	}
	pipe := pipeline.New(cfg, docs, vectors, client, headers, logger, pipeline.WithMetrics(m))
	workers := pipeline.NewWorkers(pipe, docs, cfg.Ingest.Workers, 4*cfg.Ingest.Workers, logger)

	reranker, err := rerank.New(cfg.Rerank, rerank.NewLexicalScorer(), logger, rerank.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("initializing reranker: %w", err)
	}
	engine := retrieval.NewEngine(cfg.Retrieval, cfg.Rerank, client, vectors, docs, reranker, logger, retrieval.WithMetrics(m))

	srv, err := server.NewServer(cfg, docs, vectors, workers, engine, client, registry, logger)
	if err != nil {
		return fmt.Errorf("initializing server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := workers.Start(ctx); err != nil {
		return fmt.Errorf("starting ingestion workers: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		workers.Stop()
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}

	cancel()
	workers.Stop()
	logger.Info("shutdown complete")
	return nil
}
