package retrieval

import (
	"fmt"
	"sort"
	"strings"
)

const (
	contextSeparator = "\n\n---\n\n"

	// minTruncatedChars is the smallest chunk remainder worth keeping:
	// anything shorter adds noise without enough signal to answer from.
	minTruncatedChars = 200

	ellipsis = "..."
)

// BuildContext renders candidates into a single prompt context in
// reading order: page number ascending, then chunk index, so the model
// sees the document flow the way a reader would rather than in rank
// order. Every chunk is prefixed with its page and score so the model
// can cite sources. The result never exceeds maxChars, counting
// annotations, separators, and any truncation marker. When the next
// chunk does not fit whole, it is truncated to the remaining budget if
// at least minTruncatedChars of its text survive; otherwise assembly
// stops. No candidates yields an empty string.
func BuildContext(candidates []Candidate, maxChars int) string {
	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].PageNumber != ordered[j].PageNumber {
			return ordered[i].PageNumber < ordered[j].PageNumber
		}
		return ordered[i].ChunkIndex < ordered[j].ChunkIndex
	})

	var b strings.Builder
	used := 0

	for i, c := range ordered {
		annotation := fmt.Sprintf("[Page %d | score=%.2f]\n", c.PageNumber, displayScore(c))

		sepCost := 0
		if i > 0 {
			sepCost = len([]rune(contextSeparator))
		}

		text := []rune(c.Text)
		cost := sepCost + len([]rune(annotation)) + len(text)
		if used+cost > maxChars {
			remaining := maxChars - used - sepCost - len([]rune(annotation)) - len([]rune(ellipsis))
			if remaining < minTruncatedChars {
				break
			}
			if i > 0 {
				b.WriteString(contextSeparator)
			}
			b.WriteString(annotation)
			b.WriteString(string(text[:remaining]))
			b.WriteString(ellipsis)
			break
		}

		if i > 0 {
			b.WriteString(contextSeparator)
		}
		b.WriteString(annotation)
		b.WriteString(c.Text)
		used += cost
	}

	return b.String()
}

// BuildContext assembles context within the engine's configured budget.
func (e *Engine) BuildContext(candidates []Candidate) string {
	return BuildContext(candidates, e.cfg.ContextMaxChars)
}

// displayScore shows the reranker score for candidates that went
// through reranking and the vector similarity otherwise.
func displayScore(c Candidate) float32 {
	if c.Reranked {
		return c.RerankScore
	}
	return c.Similarity
}
