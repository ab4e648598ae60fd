// Package retrieval answers queries against the ingested corpus: it
// embeds the query, searches the vector store, filters by similarity,
// optionally reranks, and assembles a bounded context string.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/config"
	"github.com/corpuslabs/corpusd/internal/metrics"
	"github.com/corpuslabs/corpusd/internal/rerank"
	"github.com/corpuslabs/corpusd/internal/vecstore"
)

// Candidate is a chunk that survived retrieval, carrying both the
// vector similarity and (when reranking ran) the reranker score.
type Candidate struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	Text        string  `json:"text"`
	Header      string  `json:"header,omitempty"`
	PageNumber  int     `json:"page_number"`
	ChunkIndex  int     `json:"chunk_index"`
	Similarity  float32 `json:"similarity"`
	RerankScore float32 `json:"rerank_score"`
	Reranked    bool    `json:"reranked"`
}

// Embedder turns a query into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ReadyLister reports which documents are searchable.
type ReadyLister interface {
	ListReady(ctx context.Context) ([]string, error)
}

// Engine runs retrieval over the vector store.
type Engine struct {
	cfg       config.RetrievalConfig
	rerankCfg config.RerankConfig
	embedder  Embedder
	vectors   vecstore.Store
	docs      ReadyLister
	reranker  *rerank.Reranker
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches search counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates a retrieval Engine. The reranker may be nil.
func NewEngine(cfg config.RetrievalConfig, rerankCfg config.RerankConfig, embedder Embedder, vectors vecstore.Store, docs ReadyLister, reranker *rerank.Reranker, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:       cfg,
		rerankCfg: rerankCfg,
		embedder:  embedder,
		vectors:   vectors,
		docs:      docs,
		reranker:  reranker,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search retrieves the best chunks for query. An empty documentID
// searches every ready document; a non-empty one restricts the search
// to that document. Results are ordered best-first.
func (e *Engine) Search(ctx context.Context, query, documentID string) ([]Candidate, error) {
	if query == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	scope := "document"
	threshold := e.cfg.SimilarityThreshold
	var documentIDs []string
	if documentID == "" {
		scope = "all"
		// Evidence spread across many documents produces weaker
		// per-document matches, so the global search relaxes the bar.
		threshold -= e.cfg.GlobalThresholdMargin
		ready, err := e.docs.ListReady(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing ready documents: %w", err)
		}
		documentIDs = ready
	} else {
		documentIDs = []string{documentID}
	}
	if e.metrics != nil {
		e.metrics.SearchRequests.WithLabelValues(scope).Inc()
	}
	if len(documentIDs) == 0 {
		return []Candidate{}, nil
	}

	vector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// When reranking runs, overfetch so the reranker has more to choose
	// from than the final result size.
	fetchK := e.cfg.TopK
	rerankEnabled := e.reranker != nil && e.reranker.Enabled()
	if rerankEnabled {
		factor := e.rerankCfg.FetchFactor
		if factor <= 0 {
			factor = 1
		}
		fetchK = e.rerankCfg.TopK * factor
		if fetchK < e.cfg.TopK {
			fetchK = e.cfg.TopK
		}
	}

	var candidates []Candidate
	for _, id := range documentIDs {
		results, err := e.vectors.Search(ctx, id, vector, fetchK)
		if err != nil {
			return nil, fmt.Errorf("searching document %s: %w", id, err)
		}
		for _, r := range results {
			if float64(r.Similarity) < threshold {
				continue
			}
			candidates = append(candidates, Candidate{
				ChunkID:    r.ChunkID,
				DocumentID: r.DocumentID,
				Text:       r.Text,
				Header:     r.Header,
				PageNumber: r.PageNumber,
				ChunkIndex: r.ChunkIndex,
				Similarity: r.Similarity,
			})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > fetchK {
		candidates = candidates[:fetchK]
	}

	if rerankEnabled && len(candidates) > 0 {
		candidates = e.rerankCandidates(ctx, query, candidates)
	} else if len(candidates) > e.cfg.TopK {
		candidates = candidates[:e.cfg.TopK]
	}

	e.logger.Debug("search completed",
		zap.String("scope", scope),
		zap.Int("documents", len(documentIDs)),
		zap.Int("results", len(candidates)),
	)
	return candidates, nil
}

func (e *Engine) rerankCandidates(ctx context.Context, query string, candidates []Candidate) []Candidate {
	byKey := make(map[string]Candidate, len(candidates))
	items := make([]rerank.Item, len(candidates))
	for i, c := range candidates {
		byKey[c.ChunkID] = c
		items[i] = rerank.Item{Key: c.ChunkID, Text: c.Text, Score: c.Similarity}
	}

	topK := e.rerankCfg.TopK
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	scored := e.reranker.Rerank(ctx, query, items, topK)

	out := make([]Candidate, len(scored))
	for i, s := range scored {
		c := byKey[s.Key]
		c.RerankScore = s.RerankScore
		c.Reranked = true
		out[i] = c
	}
	return out
}
