package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/config"
)

type stubScorer struct {
	scores map[string]float32
	calls  int
	err    error
}

func (s *stubScorer) Score(_ context.Context, _, text string) (float32, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.scores[text], nil
}

func enabledCfg() config.RerankConfig {
	return config.RerankConfig{Enabled: true, TopK: 5, CacheSize: 16, FetchFactor: 3}
}

func items() []Item {
	return []Item{
		{Key: "a", Text: "alpha", Score: 0.9},
		{Key: "b", Text: "beta", Score: 0.8},
		{Key: "c", Text: "gamma", Score: 0.7},
	}
}

func TestRerankReordersByScore(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float32{"alpha": 0.1, "beta": 0.9, "gamma": 0.5}}
	r, err := New(enabledCfg(), scorer, zap.NewNop())
	require.NoError(t, err)

	out := r.Rerank(context.Background(), "q", items(), 2)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].Key)
	assert.Equal(t, "c", out[1].Key)
	assert.InDelta(t, 0.9, out[0].RerankScore, 1e-6)
	assert.Equal(t, 3, scorer.calls, "one scorer call per unique pair")
}

func TestRerankUsesCache(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float32{"alpha": 0.1, "beta": 0.9, "gamma": 0.5}}
	r, err := New(enabledCfg(), scorer, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	first := r.Rerank(ctx, "q", items(), 3)
	second := r.Rerank(ctx, "q", items(), 3)
	assert.Equal(t, first, second)
	assert.Equal(t, 3, scorer.calls, "repeat query served entirely from cache")
}

func TestRerankFailsOpen(t *testing.T) {
	scorer := &stubScorer{err: errors.New("model unavailable")}
	r, err := New(enabledCfg(), scorer, zap.NewNop())
	require.NoError(t, err)

	out := r.Rerank(context.Background(), "q", items(), 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Key, "retrieval order preserved on scorer failure")
	assert.Equal(t, "b", out[1].Key)
	assert.InDelta(t, 0.9, out[0].RerankScore, 1e-6, "similarity stands in for the score")
}

func TestRerankDisabledPassesThrough(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float32{"alpha": 0.1}}
	r, err := New(config.RerankConfig{Enabled: false, CacheSize: 16}, scorer, zap.NewNop())
	require.NoError(t, err)

	out := r.Rerank(context.Background(), "q", items(), 3)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].Key)
	assert.Zero(t, scorer.calls)
	assert.False(t, r.Enabled())
}

func TestRerankTopKClamped(t *testing.T) {
	scorer := &stubScorer{scores: map[string]float32{"alpha": 1}}
	r, err := New(enabledCfg(), scorer, zap.NewNop())
	require.NoError(t, err)

	out := r.Rerank(context.Background(), "q", items(), 10)
	assert.Len(t, out, 3)
}

func TestLexicalScorer(t *testing.T) {
	s := NewLexicalScorer()
	ctx := context.Background()

	score, err := s.Score(ctx, "database migration strategy", "Our migration applies each database change in order.")
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, score, 1e-6)

	score, err = s.Score(ctx, "database migration strategy", "Completely unrelated text about birds.")
	require.NoError(t, err)
	assert.Zero(t, score)

	// Stopword-only query cannot match anything.
	score, err = s.Score(ctx, "the and for", "the and for")
	require.NoError(t, err)
	assert.Zero(t, score)

	// Duplicate query terms count once.
	score, err = s.Score(ctx, "cache cache eviction", "cache behavior")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, score, 1e-6)
}
