// Package pipeline turns an uploaded file into searchable chunks: it
// extracts pages, splits them, optionally annotates each chunk with a
// generated header, embeds everything, and stores the vectors. Progress
// is written to the document record after every stage so clients can
// poll it.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/chunk"
	"github.com/corpuslabs/corpusd/internal/config"
	"github.com/corpuslabs/corpusd/internal/extract"
	"github.com/corpuslabs/corpusd/internal/metrics"
	"github.com/corpuslabs/corpusd/internal/ollama"
	"github.com/corpuslabs/corpusd/internal/store"
	"github.com/corpuslabs/corpusd/internal/vecstore"
)

// Ingestion stages, in order. Progress within a stage only ever grows;
// the store clamps regressions.
const (
	StagePrechecking = "prechecking"
	StageExtracting  = "extracting"
	StageChunking    = "chunking"
	StageHeaders     = "generating_headers"
	StageEmbeddings  = "generating_embeddings"
	StageStoring     = "storing"
	StageCompleted   = "completed"
)

type serviceClient interface {
	CheckModel(ctx context.Context, model string) error
	EmbedBatch(ctx context.Context, texts []string, onProgress ollama.ProgressFunc) ([][]float32, error)
}

// Pipeline ingests one document at a time; Run is safe to call from
// multiple workers concurrently.
type Pipeline struct {
	cfg       *config.Config
	docs      *store.Store
	vectors   vecstore.Store
	extractor *extract.Registry
	splitter  *chunk.Splitter
	client    serviceClient
	headers   *Generator
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics attaches ingestion counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New creates a Pipeline. The header generator may be nil; it is also
// skipped when header generation is disabled in config.
func New(cfg *config.Config, docs *store.Store, vectors vecstore.Store, client serviceClient, headers *Generator, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		cfg:       cfg,
		docs:      docs,
		vectors:   vectors,
		extractor: extract.NewRegistry(cfg.Ingest.PageCharThreshold),
		splitter:  chunk.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		client:    client,
		headers:   headers,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ingests the file at path for the given document. On any error the
// document is marked failed with the error message; the upload itself
// is never retried automatically.
func (p *Pipeline) Run(ctx context.Context, documentID, path string) error {
	start := time.Now()
	log := p.logger.With(zap.String("document_id", documentID))

	err := p.run(ctx, documentID, path, log)

	if p.metrics != nil {
		p.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		// Bookkeeping must survive the cancellation that may have
		// caused the failure.
		failCtx := context.WithoutCancel(ctx)
		if markErr := p.docs.MarkFailed(failCtx, documentID, err.Error()); markErr != nil {
			log.Error("marking document failed", zap.Error(markErr))
		}
		if p.metrics != nil {
			p.metrics.DocumentsIngested.WithLabelValues(store.StatusFailed).Inc()
		}
		log.Error("ingestion failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return err
	}

	if p.metrics != nil {
		p.metrics.DocumentsIngested.WithLabelValues(store.StatusReady).Inc()
	}
	log.Info("ingestion completed", zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (p *Pipeline) run(ctx context.Context, documentID, path string, log *zap.Logger) error {
	if err := p.docs.SetStage(ctx, documentID, StagePrechecking, 5); err != nil {
		return err
	}
	if err := p.client.CheckModel(ctx, p.cfg.Ollama.EmbeddingModel); err != nil {
		return fmt.Errorf("embedding model check: %w", err)
	}
	if p.headersEnabled() {
		if err := p.client.CheckModel(ctx, p.cfg.Ollama.ChatModel); err != nil {
			return fmt.Errorf("chat model check: %w", err)
		}
	}

	if err := p.docs.SetStage(ctx, documentID, StageExtracting, 10); err != nil {
		return err
	}
	pages, err := p.extractor.Extract(path)
	if err != nil {
		return fmt.Errorf("extracting %s: %w", path, err)
	}
	if err := p.docs.SetPageCount(ctx, documentID, len(pages)); err != nil {
		return err
	}
	if err := p.docs.SetStage(ctx, documentID, StageExtracting, 25); err != nil {
		return err
	}
	log.Debug("extracted pages", zap.Int("pages", len(pages)))

	if err := p.docs.SetStage(ctx, documentID, StageChunking, 30); err != nil {
		return err
	}
	chunks, err := p.splitter.Split(pages)
	if err != nil {
		return fmt.Errorf("chunking: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("document produced no chunks")
	}
	if err := p.docs.SetChunkCount(ctx, documentID, len(chunks)); err != nil {
		return err
	}
	if err := p.docs.SetStage(ctx, documentID, StageChunking, 40); err != nil {
		return err
	}
	log.Debug("split into chunks", zap.Int("chunks", len(chunks)))

	if p.headersEnabled() {
		if err := p.docs.SetStage(ctx, documentID, StageHeaders, 42); err != nil {
			return err
		}
		if err := p.headers.Annotate(ctx, filepath.Base(path), chunks); err != nil {
			return fmt.Errorf("generating headers: %w", err)
		}
	}

	if err := p.docs.SetStage(ctx, documentID, StageEmbeddings, 45); err != nil {
		return err
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = embeddingText(c)
	}
	embeddings, err := p.client.EmbedBatch(ctx, texts, func(completed, total int) {
		progress := 45 + 45*completed/total
		if err := p.docs.SetStage(ctx, documentID, StageEmbeddings, progress); err != nil {
			log.Warn("updating embedding progress", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	records := make([]vecstore.Record, 0, len(chunks))
	for i, c := range chunks {
		if embeddings[i] == nil {
			continue
		}
		records = append(records, vecstore.Record{
			ID:         c.ID,
			Text:       c.Text,
			Header:     c.Header,
			PageNumber: c.PageNumber,
			ChunkIndex: c.Index,
			Embedding:  embeddings[i],
		})
	}
	if len(records) == 0 {
		return fmt.Errorf("0 successful embeddings out of %d chunks", len(chunks))
	}
	if len(records) < len(chunks) {
		log.Warn("some chunks failed to embed and were dropped",
			zap.Int("failed", len(chunks)-len(records)),
			zap.Int("total", len(chunks)),
		)
	}

	if err := p.docs.SetStage(ctx, documentID, StageStoring, 92); err != nil {
		return err
	}
	if err := p.vectors.AddChunks(ctx, documentID, records); err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}

	return p.docs.MarkReady(ctx, documentID, len(records))
}

func (p *Pipeline) headersEnabled() bool {
	return p.cfg.Ingest.GenerateHeaders && p.headers != nil
}

// embeddingText is what actually gets embedded: the generated header
// restores context the chunk lost when it was cut from its page.
func embeddingText(c chunk.Chunk) string {
	if c.Header == "" {
		return c.Text
	}
	return c.Header + "\n\n" + c.Text
}
