package ollama

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// progressEvery controls how often batch progress callbacks fire.
const progressEvery = 10

// ProgressFunc receives (completed, total) as batch items finish. It fires
// on every progressEvery-th completion and on the final one.
type ProgressFunc func(completed, total int)

// EmbedBatch embeds texts with at most cfg.Concurrency in-flight requests.
// Results keep input order; a failed item leaves a nil slot and does not
// abort its siblings. The returned error is non-nil only when ctx ends.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, onProgress ProgressFunc) ([][]float32, error) {
	results := make([][]float32, len(texts))
	err := c.forEachBounded(ctx, len(texts), onProgress, func(i int) {
		vec, err := c.Embed(ctx, texts[i])
		if err != nil {
			c.logger.Warn("embedding failed",
				zap.Int("index", i),
				zap.Error(err))
			return
		}
		results[i] = vec
	})
	return results, err
}

// GenerateBatch runs Generate over prompts under the same bounded-concurrency
// discipline as EmbedBatch. Failed items leave an empty string.
func (c *Client) GenerateBatch(ctx context.Context, prompts []string, onProgress ProgressFunc) ([]string, error) {
	results := make([]string, len(prompts))
	err := c.forEachBounded(ctx, len(prompts), onProgress, func(i int) {
		text, err := c.Generate(ctx, prompts[i])
		if err != nil {
			c.logger.Warn("generation failed",
				zap.Int("index", i),
				zap.Error(err))
			return
		}
		results[i] = text
	})
	return results, err
}

// forEachBounded runs fn(i) for i in [0,total) with bounded concurrency.
// Each fn writes into its own input-indexed slot, so completion order does
// not matter. Item failures are fn's business; only ctx expiry is an error.
func (c *Client) forEachBounded(ctx context.Context, total int, onProgress ProgressFunc, fn func(i int)) error {
	if total == 0 {
		return nil
	}

	var (
		g, gctx   = errgroup.WithContext(ctx)
		completed atomic.Int64
		mu        sync.Mutex
	)
	g.SetLimit(c.cfg.Concurrency)

	for i := 0; i < total; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			fn(i)
			done := int(completed.Add(1))
			if onProgress != nil && (done%progressEvery == 0 || done == total) {
				mu.Lock()
				onProgress(done, total)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}
