// Package filter scores text fragments for topical relevance.
package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"
)

// KeywordScorer rates a fragment by how many of the configured keywords
// appear in it, matching on crude stems so "jobs" and "job" count the same.
// Scores are matched-keywords / total-keywords, so a fragment hitting every
// keyword scores 1.0 and one hitting none scores 0.
type KeywordScorer struct {
	stems map[string]struct{}
	total int
}

// NewKeywordScorer builds a scorer from a non-empty keyword list.
func NewKeywordScorer(keywords []string) (*KeywordScorer, error) {
	stems := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		stem := stem(strings.ToLower(strings.TrimSpace(kw)))
		if stem == "" {
			continue
		}
		stems[stem] = struct{}{}
	}
	if len(stems) == 0 {
		return nil, fmt.Errorf("at least one keyword is required")
	}
	return &KeywordScorer{stems: stems, total: len(stems)}, nil
}

// Score tokenizes the text and returns the fraction of configured keywords
// whose stem appears among the token stems.
func (s *KeywordScorer) Score(ctx context.Context, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc, err := prose.NewDocument(text,
		prose.WithSegmentation(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return 0, fmt.Errorf("tokenize fragment: %w", err)
	}

	matched := make(map[string]struct{})
	for _, token := range doc.Tokens() {
		candidate := stem(strings.ToLower(token.Text))
		if _, ok := s.stems[candidate]; ok {
			matched[candidate] = struct{}{}
			if len(matched) == s.total {
				break
			}
		}
	}
	return float64(len(matched)) / float64(s.total), nil
}

// stem strips common English suffixes. It is deliberately crude: the goal is
// matching surface variants of configured keywords, not real lemmatization.
func stem(word string) string {
	if len(word) <= 3 {
		return word
	}
	for _, suffix := range []string{"ments", "ment", "ings", "ing", "ies", "es", "ed", "s"} {
		if strings.HasSuffix(word, suffix) && len(word)-len(suffix) >= 3 {
			return word[:len(word)-len(suffix)]
		}
	}
	return word
}
