// Package vecstore provides vector storage backends for document chunks.
//
// Each ingested document gets its own collection so that per-document
// search and cascade deletion stay cheap. Embeddings are computed
// upstream; the store never calls an embedding model itself.
package vecstore

import (
	"context"
	"fmt"
	"regexp"
)

// Record is a single chunk with its embedding, ready for storage.
type Record struct {
	ID         string
	Text       string
	Header     string
	PageNumber int
	ChunkIndex int
	Embedding  []float32
}

// SearchResult is a chunk returned from a similarity search.
type SearchResult struct {
	ChunkID    string
	DocumentID string
	Text       string
	Header     string
	PageNumber int
	ChunkIndex int
	Similarity float32
}

// Store is the interface all vector store backends implement.
type Store interface {
	// AddChunks stores records under the document's collection,
	// creating the collection if needed.
	AddChunks(ctx context.Context, documentID string, records []Record) error

	// Search returns up to k chunks of the given document ordered by
	// descending similarity to the query vector. A document with no
	// stored chunks yields an empty slice, not an error.
	Search(ctx context.Context, documentID string, vector []float32, k int) ([]SearchResult, error)

	// DeleteDocument removes the document's collection and all its chunks.
	DeleteDocument(ctx context.Context, documentID string) error

	Close() error
}

var documentIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// collectionName maps a document ID to its backing collection.
func collectionName(documentID string) (string, error) {
	if documentID == "" || !documentIDPattern.MatchString(documentID) {
		return "", fmt.Errorf("invalid document ID %q", documentID)
	}
	return "doc_" + documentID, nil
}
