package pipeline

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by Enqueue when the ingestion backlog is at
// capacity. Callers should surface it as a retry-later condition.
var ErrQueueFull = errors.New("ingestion queue is full")

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("ingestion workers stopped")

// Job is one document waiting to be ingested.
type Job struct {
	DocumentID string
	Path       string
}

// staleLister marks documents stranded mid-ingestion by a previous run.
type staleLister interface {
	FailStale(ctx context.Context) (int, error)
}

// Workers runs ingestion jobs on a fixed pool of goroutines behind a
// bounded queue.
type Workers struct {
	pipeline *Pipeline
	docs     staleLister
	logger   *zap.Logger
	workers  int

	jobs chan Job
	wg   sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewWorkers creates a worker pool with n workers and a queue of
// queueSize pending jobs.
func NewWorkers(p *Pipeline, docs staleLister, n, queueSize int, logger *zap.Logger) *Workers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n <= 0 {
		n = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Workers{
		pipeline: p,
		docs:     docs,
		logger:   logger,
		workers:  n,
		jobs:     make(chan Job, queueSize),
	}
}

// Start sweeps documents stranded by a previous process and launches
// the workers. ctx bounds the lifetime of all ingestion runs.
func (w *Workers) Start(ctx context.Context) error {
	n, err := w.docs.FailStale(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		w.logger.Warn("failed documents stranded by previous run", zap.Int("count", n))
	}

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go w.work(ctx)
	}
	w.logger.Info("ingestion workers started", zap.Int("workers", w.workers))
	return nil
}

func (w *Workers) work(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-w.jobs:
			if !ok {
				return
			}
			// Run marks the document failed on error; nothing to do here.
			_ = w.pipeline.Run(ctx, job.DocumentID, job.Path)
		}
	}
}

// Enqueue adds a job without blocking.
func (w *Workers) Enqueue(job Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrStopped
	}
	select {
	case w.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (w *Workers) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.jobs)
	w.mu.Unlock()
	w.wg.Wait()
}
