// SPDX-License-Identifier: Apache-2.0

// Package examples picks worked extraction examples to show the oracle before
// a new article.
package examples

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/gemaraproj/evidence-mcp/internal/embedding"
)

const (
	// DefaultK is the number of examples selected.
	DefaultK = 3
	// candidatePool is the multiple of k fetched before scoring.
	candidatePool = 5
	// keywordWindow is the number of leading words compared by keyword overlap.
	keywordWindow = 500
)

// Example is a reviewer-approved extraction.
type Example struct {
	ID             string          `json:"id"`
	InputText      string          `json:"input_text"`
	ExpectedOutput json.RawMessage `json:"expected_output"`
	StudyType      string          `json:"study_type,omitempty"`
	Embedding      []float32       `json:"embedding,omitempty"`
	QualityScore   float64         `json:"quality_score"`
	UsageCount     int             `json:"usage_count"`
}

// Source supplies candidate examples.
type Source interface {
	// ActiveExamples returns up to limit active examples, best quality first.
	ActiveExamples(ctx context.Context, limit int) ([]Example, error)
	// IncrementUsage records that the examples were shown to the oracle.
	IncrementUsage(ctx context.Context, ids []string) error
}

// Selector scores candidates by embedding similarity when it can, and by
// keyword overlap otherwise, weighted by quality.
type Selector struct {
	source   Source
	embedder embedding.Embedder
	k        int
	logger   *zap.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithEmbedder enables embedding similarity.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *Selector) { s.embedder = e }
}

// WithK sets the number of examples selected.
func WithK(k int) Option {
	return func(s *Selector) {
		if k > 0 {
			s.k = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSelector creates a Selector.
func NewSelector(src Source, opts ...Option) *Selector {
	s := &Selector{source: src, k: DefaultK, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type scored struct {
	example Example
	score   float64
}

// Select returns up to k examples relevant to articleText, preferring one
// per study type before filling by score.
func (s *Selector) Select(ctx context.Context, articleText string) ([]Example, error) {
	candidates, err := s.source.ActiveExamples(ctx, s.k*candidatePool)
	if err != nil {
		return nil, fmt.Errorf("loading candidate examples: %w", err)
	}
	if len(candidates) == 0 {
		return []Example{}, nil
	}

	ranked := s.score(ctx, articleText, candidates)
	selected := diversify(ranked, s.k)

	ids := make([]string, len(selected))
	for i, ex := range selected {
		ids[i] = ex.ID
	}
	if err := s.source.IncrementUsage(ctx, ids); err != nil {
		return nil, fmt.Errorf("recording example usage: %w", err)
	}
	return selected, nil
}

func (s *Selector) score(ctx context.Context, articleText string, candidates []Example) []scored {
	ranked := make([]scored, len(candidates))
	if vec, ok := s.articleEmbedding(ctx, articleText, candidates); ok {
		for i, ex := range candidates {
			sim, _ := embedding.CosineSimilarity(vec, ex.Embedding)
			ranked[i] = scored{example: ex, score: sim * ex.QualityScore}
		}
	} else {
		words := wordSet(articleText)
		for i, ex := range candidates {
			ranked[i] = scored{example: ex, score: float64(overlap(words, wordSet(ex.InputText))) * ex.QualityScore}
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	return ranked
}

// articleEmbedding embeds the article when every candidate carries a
// compatible embedding.
func (s *Selector) articleEmbedding(ctx context.Context, text string, candidates []Example) ([]float32, bool) {
	if s.embedder == nil {
		return nil, false
	}
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("article embedding failed, falling back to keyword overlap",
			zap.String("embedder", s.embedder.Name()), zap.Error(err))
		return nil, false
	}
	for _, ex := range candidates {
		if len(ex.Embedding) != len(vec) {
			return nil, false
		}
	}
	return vec, true
}

func diversify(ranked []scored, k int) []Example {
	selected := make([]Example, 0, k)
	taken := make([]bool, len(ranked))
	seen := map[string]bool{}

	for i, r := range ranked {
		if len(selected) == k {
			break
		}
		if seen[r.example.StudyType] {
			continue
		}
		seen[r.example.StudyType] = true
		selected = append(selected, r.example)
		taken[i] = true
	}
	for i, r := range ranked {
		if len(selected) == k {
			break
		}
		if !taken[i] {
			selected = append(selected, r.example)
		}
	}
	return selected
}

func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	if len(words) > keywordWindow {
		words = words[:keywordWindow]
	}
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
