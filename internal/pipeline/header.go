package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/corpuslabs/corpusd/internal/chunk"
	"github.com/corpuslabs/corpusd/internal/ollama"
)

const headerPrompt = `Write a short title of at most ten words for the following passage from the document %q. Reply with the title only, no quotes.

Passage:
%s`

// maxHeaderLen caps runaway model output; headers are one-liners.
const maxHeaderLen = 120

// Generator produces a one-line contextual header for each chunk using
// the chat model. Headers improve embedding quality for fragments that
// lose their surroundings, but they are strictly optional: any failure
// leaves the chunk without a header rather than failing ingestion.
type Generator struct {
	client generateBatcher
	logger *zap.Logger
}

type generateBatcher interface {
	GenerateBatch(ctx context.Context, prompts []string, onProgress ollama.ProgressFunc) ([]string, error)
}

// NewGenerator creates a header Generator.
func NewGenerator(client generateBatcher, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{client: client, logger: logger}
}

// Annotate fills the Header field of each chunk in place. Chunks whose
// generation failed keep an empty header.
func (g *Generator) Annotate(ctx context.Context, filename string, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	prompts := make([]string, len(chunks))
	for i, c := range chunks {
		prompts[i] = fmt.Sprintf(headerPrompt, filename, c.Text)
	}

	headers, err := g.client.GenerateBatch(ctx, prompts, nil)
	if err != nil {
		return err
	}

	missing := 0
	for i := range chunks {
		h := cleanHeader(headers[i])
		if h == "" {
			missing++
		}
		chunks[i].Header = h
	}
	if missing > 0 {
		g.logger.Warn("some chunk headers could not be generated",
			zap.String("filename", filename),
			zap.Int("missing", missing),
			zap.Int("total", len(chunks)),
		)
	}
	return nil
}

// cleanHeader normalizes model output to a single trimmed line.
func cleanHeader(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.Trim(s, `"'`)
	if len(s) > maxHeaderLen {
		s = strings.TrimSpace(s[:maxHeaderLen])
	}
	return s
}
