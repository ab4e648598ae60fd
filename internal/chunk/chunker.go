// Package chunk splits extracted pages into bounded, overlapping,
// page-attributed units ready for embedding.
package chunk

import (
	"fmt"
	"strings"

	"github.com/corpuslabs/corpusd/internal/extract"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
)

// separators is the split priority list: paragraph break, markdown table
// separator, table row start, line break, sentence break, word break, and
// finally a raw character boundary. Table-aware entries come early so rows
// are kept whole whenever possible.
var separators = []string{"\n\n", "\n---\n", "\n| ", "\n", ". ", " ", ""}

// Chunk is a draft knowledge unit. Index is document-wide and strictly
// increasing in production order; a chunk never spans two pages.
type Chunk struct {
	ID         string
	Text       string
	PageNumber int
	Index      int
	Header     string
	Embedding  []float32
}

// Splitter produces chunks from pages using recursive character splitting.
type Splitter struct {
	inner textsplitter.RecursiveCharacter
}

// NewSplitter creates a splitter targeting size characters per chunk with
// overlap characters shared between consecutive chunks of the same page.
func NewSplitter(size, overlap int) *Splitter {
	return &Splitter{
		inner: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(separators),
		),
	}
}

// Split chunks every page and assigns globally monotonic indexes. Empty and
// whitespace-only fragments are dropped without consuming an index slot.
func (s *Splitter) Split(pages []extract.Page) ([]Chunk, error) {
	var chunks []Chunk
	index := 0
	for _, page := range pages {
		fragments, err := s.inner.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", page.Number, err)
		}
		for _, text := range fragments {
			if strings.TrimSpace(text) == "" {
				continue
			}
			chunks = append(chunks, Chunk{
				ID:         uuid.NewString(),
				Text:       text,
				PageNumber: page.Number,
				Index:      index,
			})
			index++
		}
	}
	return chunks, nil
}
