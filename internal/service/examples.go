// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/gemaraproj/evidence-mcp/internal/examples"
	"github.com/gemaraproj/evidence-mcp/internal/store"
)

// AddExample stores a training example, embedding its text when an embedder is
// configured. An embedding failure stores the example without one.
func (s *Service) AddExample(ctx context.Context, ex examples.Example) (examples.Example, error) {
	if strings.TrimSpace(ex.InputText) == "" {
		return examples.Example{}, fmt.Errorf("%w: input text is empty", ErrInvalidExample)
	}
	if len(ex.ExpectedOutput) == 0 || !json.Valid(ex.ExpectedOutput) {
		return examples.Example{}, fmt.Errorf("%w: expected output must be valid JSON", ErrInvalidExample)
	}
	if ex.QualityScore <= 0 {
		ex.QualityScore = 1
	}
	if s.embedder != nil && len(ex.Embedding) == 0 {
		vec, err := s.embedder.Embed(ctx, ex.InputText)
		if err != nil {
			s.logger.Warn("embedding example failed, storing without embedding",
				zap.String("embedder", s.embedder.Name()), zap.Error(err))
		} else {
			ex.Embedding = vec
		}
	}

	row, err := s.store.SaveExample(ctx, store.TrainingExample{
		ID:             ex.ID,
		InputText:      ex.InputText,
		ExpectedOutput: ex.ExpectedOutput,
		StudyType:      ex.StudyType,
		Embedding:      ex.Embedding,
		QualityScore:   ex.QualityScore,
		Active:         true,
	})
	if err != nil {
		return examples.Example{}, err
	}
	ex.ID = row.ID
	return ex, nil
}

// RetireExample stops an example from being selected.
func (s *Service) RetireExample(ctx context.Context, id string) error {
	return s.store.SetExampleActive(ctx, id, false)
}

// ExampleSource exposes stored examples to an examples.Selector.
func ExampleSource(st *store.Store) examples.Source {
	return exampleSource{store: st}
}

type exampleSource struct {
	store *store.Store
}

func (e exampleSource) ActiveExamples(ctx context.Context, limit int) ([]examples.Example, error) {
	rows, err := e.store.ActiveExamples(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]examples.Example, len(rows))
	for i, r := range rows {
		out[i] = examples.Example{
			ID:             r.ID,
			InputText:      r.InputText,
			ExpectedOutput: r.ExpectedOutput,
			StudyType:      r.StudyType,
			Embedding:      r.Embedding,
			QualityScore:   r.QualityScore,
			UsageCount:     r.UsageCount,
		}
	}
	return out, nil
}

func (e exampleSource) IncrementUsage(ctx context.Context, ids []string) error {
	return e.store.IncrementUsage(ctx, ids)
}
