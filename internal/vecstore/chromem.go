package vecstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemStore is the embedded backend built on chromem-go. It persists
// collections as gob files under a single directory and needs no
// external service.
type ChromemStore struct {
	db     *chromem.DB
	logger *zap.Logger
}

// NewChromemStore opens (or creates) a persistent chromem database at path.
func NewChromemStore(path string, compress bool, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	expanded, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(expanded, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", expanded, err)
	}

	db, err := chromem.NewPersistentDB(expanded, compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB: %w", err)
	}

	logger.Info("chromem vector store opened",
		zap.String("path", expanded),
		zap.Bool("compress", compress),
	)

	return &ChromemStore{db: db, logger: logger}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// noEmbed guards against chromem falling back to its default OpenAI
// embedder: all embeddings are supplied explicitly, so this must never run.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embeddings are computed upstream")
}

func (s *ChromemStore) AddChunks(ctx context.Context, documentID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	name, err := collectionName(documentID)
	if err != nil {
		return err
	}

	collection, err := s.db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	docs := make([]chromem.Document, len(records))
	for i, rec := range records {
		docs[i] = chromem.Document{
			ID:        rec.ID,
			Content:   rec.Text,
			Embedding: rec.Embedding,
			Metadata: map[string]string{
				"document_id": documentID,
				"header":      rec.Header,
				"page_number": strconv.Itoa(rec.PageNumber),
				"chunk_index": strconv.Itoa(rec.ChunkIndex),
			},
		}
	}

	// Concurrency of 1: embeddings are precomputed, so there is nothing
	// to parallelize inside chromem.
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding chunks to %s: %w", name, err)
	}

	s.logger.Debug("stored chunks",
		zap.String("document_id", documentID),
		zap.Int("count", len(records)),
	)
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, documentID string, vector []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	name, err := collectionName(documentID)
	if err != nil {
		return nil, err
	}

	collection := s.db.GetCollection(name, noEmbed)
	if collection == nil {
		return []SearchResult{}, nil
	}

	// chromem requires nResults <= stored document count.
	count := collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if k > count {
		k = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", name, err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			ChunkID:    r.ID,
			DocumentID: documentID,
			Text:       r.Content,
			Header:     r.Metadata["header"],
			PageNumber: atoiOrZero(r.Metadata["page_number"]),
			ChunkIndex: atoiOrZero(r.Metadata["chunk_index"]),
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

func (s *ChromemStore) DeleteDocument(ctx context.Context, documentID string) error {
	name, err := collectionName(documentID)
	if err != nil {
		return err
	}
	if s.db.GetCollection(name, noEmbed) == nil {
		return nil
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	s.logger.Debug("deleted document vectors", zap.String("document_id", documentID))
	return nil
}

// Close is a no-op: chromem persists synchronously on every write.
func (s *ChromemStore) Close() error { return nil }

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
