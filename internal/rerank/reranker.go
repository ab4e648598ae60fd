// Package rerank rescores retrieval candidates against the query with a
// second, more precise model. Scores are memoized in an LRU cache keyed
// by (query, chunk text), and any scorer failure falls back to the
// original similarity ordering rather than failing the search.
package rerank

import (
	"context"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/config"
	"github.com/corpuslabs/corpusd/internal/metrics"
)

// Scorer produces a relevance score for a query/text pair. Higher is
// more relevant. Implementations may call out to a cross-encoder model;
// LexicalScorer is the built-in, dependency-free default.
type Scorer interface {
	Score(ctx context.Context, query, text string) (float32, error)
}

// Item is a retrieval candidate to be rescored.
type Item struct {
	Key   string // cache/result identity, usually the chunk ID
	Text  string
	Score float32 // retrieval similarity, used when reranking is skipped
}

// Scored is an item with its reranker score attached.
type Scored struct {
	Item
	RerankScore float32
}

// Reranker rescores candidates with a Scorer plus an LRU score cache.
type Reranker struct {
	cfg     config.RerankConfig
	scorer  Scorer
	cache   *lru.Cache[string, float32]
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Reranker.
type Option func(*Reranker)

// WithMetrics attaches cache and failure counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reranker) { r.metrics = m }
}

// New creates a Reranker. A nil scorer disables reranking regardless of
// configuration.
func New(cfg config.RerankConfig, scorer Scorer, logger *zap.Logger, opts ...Option) (*Reranker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, float32](size)
	if err != nil {
		return nil, err
	}
	r := &Reranker{cfg: cfg, scorer: scorer, cache: cache, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Enabled reports whether reranking will actually run.
func (r *Reranker) Enabled() bool {
	return r.cfg.Enabled && r.scorer != nil
}

// Rerank rescores items and returns the top K by reranker score. When
// reranking is disabled it returns the first topK items unchanged, with
// the retrieval similarity standing in for the reranker score. When the
// scorer fails it does the same: a degraded ordering beats a failed
// search.
func (r *Reranker) Rerank(ctx context.Context, query string, items []Item, topK int) []Scored {
	if topK <= 0 || topK > len(items) {
		topK = len(items)
	}
	if !r.Enabled() {
		return passthrough(items, topK)
	}

	scored := make([]Scored, len(items))
	for i, item := range items {
		score, err := r.score(ctx, query, item)
		if err != nil {
			if r.metrics != nil {
				r.metrics.RerankFailures.Inc()
			}
			r.logger.Warn("reranker failed, keeping retrieval order",
				zap.String("chunk", item.Key),
				zap.Error(err),
			)
			return passthrough(items, topK)
		}
		scored[i] = Scored{Item: item, RerankScore: score}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RerankScore > scored[j].RerankScore
	})
	return scored[:topK]
}

func (r *Reranker) score(ctx context.Context, query string, item Item) (float32, error) {
	key := cacheKey(query, item.Text)
	if score, ok := r.cache.Get(key); ok {
		if r.metrics != nil {
			r.metrics.RerankCacheHits.Inc()
		}
		return score, nil
	}
	if r.metrics != nil {
		r.metrics.RerankCacheMisses.Inc()
	}

	score, err := r.scorer.Score(ctx, query, item.Text)
	if err != nil {
		return 0, err
	}
	r.cache.Add(key, score)
	return score, nil
}

func passthrough(items []Item, topK int) []Scored {
	out := make([]Scored, topK)
	for i := 0; i < topK; i++ {
		out[i] = Scored{Item: items[i], RerankScore: items[i].Score}
	}
	return out
}

// cacheKey joins query and text with a NUL byte, which cannot occur in
// either side after extraction.
func cacheKey(query, text string) string {
	var b strings.Builder
	b.Grow(len(query) + len(text) + 1)
	b.WriteString(query)
	b.WriteByte(0)
	b.WriteString(text)
	return b.String()
}
