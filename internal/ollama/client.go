// Package ollama wraps the Ollama-compatible embedding/generation HTTP API
// with retries, exponential backoff, and bounded-concurrency batch helpers.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/corpuslabs/corpusd/internal/config"
	"github.com/corpuslabs/corpusd/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrModelNotFound indicates the requested model is not installed on the
	// service. Not retryable; the error text carries a remediation hint.
	ErrModelNotFound = errors.New("model not found")

	// ErrUnavailable indicates the service stayed unreachable after all
	// retries. It wraps the last underlying transport error.
	ErrUnavailable = errors.New("service unavailable")

	// ErrBadRequest indicates the service rejected the request for a
	// non-transient reason other than a missing model.
	ErrBadRequest = errors.New("service rejected request")
)

// Client talks to an Ollama-compatible HTTP service.
type Client struct {
	cfg     config.OllamaConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Metrics

	// sleep is swapped out in tests to avoid real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics attaches prometheus collectors to the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient creates a client from config.
func NewClient(cfg config.OllamaConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		sleep:  sleepCtx,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type showRequest struct {
	Name string `json:"name"`
}

// Embed generates an embedding vector for text using the configured
// embedding model.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out embedResponse
	err := c.doWithRetry(ctx, "embed", "/api/embeddings",
		embedRequest{Model: c.cfg.EmbeddingModel, Prompt: text}, c.cfg.EmbeddingModel, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding in response", ErrBadRequest)
	}
	return out.Embedding, nil
}

// Generate produces text for prompt using the configured chat model.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var out generateResponse
	err := c.doWithRetry(ctx, "generate", "/api/generate",
		generateRequest{Model: c.cfg.ChatModel, Prompt: prompt, Stream: false}, c.cfg.ChatModel, &out)
	if err != nil {
		return "", err
	}
	return out.Response, nil
}

// CheckModel verifies that model is installed on the service. Used by
// ingestion prechecks to fail fast before any heavy work.
func (c *Client) CheckModel(ctx context.Context, model string) error {
	return c.doWithRetry(ctx, "show", "/api/show", showRequest{Name: model}, model, nil)
}

// EmbeddingModel returns the configured embedding model name.
func (c *Client) EmbeddingModel() string { return c.cfg.EmbeddingModel }

// doWithRetry posts body to path, retrying transient failures with
// exponential backoff (baseDelay << attempt). Model-not-found and other
// client errors surface immediately.
func (c *Client) doWithRetry(ctx context.Context, op, path string, body any, model string, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.ServiceRetries.Inc()
			}
			delay := c.cfg.RetryBaseDelay << (attempt - 1)
			c.logger.Debug("retrying service call",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", delay),
				zap.Error(lastErr))
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
		}

		err := c.doOnce(ctx, path, payload, model, out)
		if err == nil {
			c.countOutcome(op, "ok")
			return nil
		}
		if !retryable(err) {
			c.countOutcome(op, "fatal")
			return err
		}
		lastErr = err
		c.countOutcome(op, "transient")
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, c.cfg.Retries+1, lastErr)
}

// doOnce performs a single HTTP round trip and classifies the response.
func (c *Client) doOnce(ctx context.Context, path string, payload []byte, model string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transientError{err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %q; run `ollama pull %s` to install it", ErrModelNotFound, model, model)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &transientError{err: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrBadRequest, resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrBadRequest, err)
	}
	return nil
}

func (c *Client) countOutcome(op, outcome string) {
	if c.metrics != nil {
		c.metrics.ServiceRequests.WithLabelValues(op, outcome).Inc()
	}
}

// transientError marks connect/timeout/5xx failures as retryable.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func retryable(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
