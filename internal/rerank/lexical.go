package rerank

import (
	"context"
	"strings"
)

// LexicalScorer scores by term overlap: the fraction of unique query
// terms that appear in the chunk text, blended with nothing else. It is
// the zero-dependency default until a cross-encoder backend is wired in.
type LexicalScorer struct{}

// NewLexicalScorer creates a LexicalScorer.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{}
}

// Score returns the ratio of unique query terms found in text, in [0, 1].
func (s *LexicalScorer) Score(_ context.Context, query, text string) (float32, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0, nil
	}

	textTokens := make(map[string]bool)
	for _, tok := range tokenize(text) {
		textTokens[tok] = true
	}

	matched := make(map[string]bool)
	for _, tok := range queryTokens {
		if textTokens[tok] {
			matched[tok] = true
		}
	}

	unique := make(map[string]bool)
	for _, tok := range queryTokens {
		unique[tok] = true
	}
	return float32(len(matched)) / float32(len(unique)), nil
}

// tokenize lowercases, splits on non-alphanumeric runes, and drops
// stopwords and tokens shorter than three characters.
func tokenize(text string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlphanumeric(r)
	})
	filtered := tokens[:0]
	for _, tok := range tokens {
		if len(tok) > 2 && !stopwords[tok] {
			filtered = append(filtered, tok)
		}
	}
	return filtered
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_'
}

var stopwords = map[string]bool{
	"the": true, "and": true, "but": true, "for": true, "with": true,
	"from": true, "was": true, "are": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "does": true, "did": true,
	"will": true, "would": true, "could": true, "should": true, "may": true,
	"might": true, "can": true, "this": true, "that": true, "these": true,
	"those": true, "you": true, "she": true, "they": true, "what": true,
	"which": true, "who": true, "when": true, "where": true, "why": true,
	"how": true, "not": true,
}
