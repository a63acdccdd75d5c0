// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gemaraproj/evidence-mcp/internal/evidence"
	"github.com/gemaraproj/evidence-mcp/internal/grade"
	"github.com/gemaraproj/evidence-mcp/internal/store"
)

// Extraction is a stored pipeline result.
type Extraction struct {
	ID        string    `json:"id"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	evidence.Result
}

// Extract runs the pipeline on a stored document and saves the result as the
// document's next version.
func (s *Service) Extract(ctx context.Context, documentID string, opts evidence.ExtractOptions) (Extraction, error) {
	doc, err := s.Document(ctx, documentID)
	if err != nil {
		return Extraction{}, err
	}
	result, err := s.pipeline.Extract(ctx, doc, opts)
	if err != nil {
		return Extraction{}, err
	}

	data, err := json.Marshal(result)
	if err != nil {
		return Extraction{}, fmt.Errorf("encoding extraction: %w", err)
	}
	row, err := s.store.SaveExtraction(ctx, store.Extraction{
		DocumentID:       doc.ID,
		Data:             data,
		Model:            result.Model,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
	})
	if err != nil {
		return Extraction{}, err
	}
	s.logger.Info("extraction saved",
		zap.String("document", doc.ID), zap.Int("version", row.Version), zap.Bool("degraded", result.Degraded()))
	return Extraction{ID: row.ID, Version: row.Version, CreatedAt: row.CreatedAt, Result: result}, nil
}

// LatestExtraction returns the newest stored extraction of a document.
func (s *Service) LatestExtraction(ctx context.Context, documentID string) (Extraction, error) {
	row, err := s.store.LatestExtraction(ctx, documentID)
	if err != nil {
		return Extraction{}, err
	}
	return decodeExtraction(row)
}

// Extractions returns every stored version of a document, oldest first.
func (s *Service) Extractions(ctx context.Context, documentID string) ([]Extraction, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListExtractions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]Extraction, 0, len(rows))
	for _, row := range rows {
		e, err := decodeExtraction(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeExtraction(row store.Extraction) (Extraction, error) {
	e := Extraction{ID: row.ID, Version: row.Version, CreatedAt: row.CreatedAt}
	if err := json.Unmarshal(row.Data, &e.Result); err != nil {
		return Extraction{}, fmt.Errorf("decoding extraction %s@%d: %w", row.DocumentID, row.Version, err)
	}
	return e, nil
}

// Assess runs GRADE for every outcome of the document's latest extraction and
// replaces its stored assessments.
func (s *Service) Assess(ctx context.Context, documentID string) ([]grade.Assessment, error) {
	if s.assessor == nil {
		return nil, ErrAssessmentDisabled
	}
	doc, err := s.Document(ctx, documentID)
	if err != nil {
		return nil, err
	}
	latest, err := s.LatestExtraction(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if latest.Record == nil || latest.Record.Degraded() {
		return nil, fmt.Errorf("extraction %s@%d has no usable record to assess", documentID, latest.Version)
	}

	assessments, err := s.assessor.AssessAll(ctx, doc, latest.Record)
	if err != nil {
		return nil, err
	}

	rows := make([]store.Assessment, len(assessments))
	for i, a := range assessments {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encoding assessment %q: %w", a.OutcomeName, err)
		}
		rows[i] = store.Assessment{
			ExtractionID: latest.ID,
			OutcomeName:  a.OutcomeName,
			Certainty:    a.Overall.String(),
			Data:         data,
		}
		s.metrics.ObserveCertainty(a.Overall.String())
	}
	if _, err := s.store.ReplaceAssessments(ctx, documentID, rows); err != nil {
		return nil, err
	}
	return assessments, nil
}

// Assessments returns the stored assessments of a document.
func (s *Service) Assessments(ctx context.Context, documentID string) ([]grade.Assessment, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListAssessments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]grade.Assessment, len(rows))
	for i, row := range rows {
		if err := json.Unmarshal(row.Data, &out[i]); err != nil {
			return nil, fmt.Errorf("decoding assessment %q: %w", row.OutcomeName, err)
		}
	}
	return out, nil
}
