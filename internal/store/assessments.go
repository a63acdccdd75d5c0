// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"fmt"
	"time"
)

// Assessment is a stored GRADE assessment of one outcome.
type Assessment struct {
	ID           string
	DocumentID   string
	ExtractionID string
	OutcomeName  string
	Certainty    string
	Data         []byte
	CreatedAt    time.Time
}

// ReplaceAssessments drops the document's previous assessments and stores as.
func (s *Store) ReplaceAssessments(ctx context.Context, documentID string, as []Assessment) ([]Assessment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM assessments WHERE document_id = ?`, documentID); err != nil {
		return nil, fmt.Errorf("clearing assessments: %w", err)
	}
	created := now()
	out := make([]Assessment, len(as))
	for i, a := range as {
		a.ID = newID(a.ID)
		a.DocumentID = documentID
		a.CreatedAt = created
		_, err := tx.ExecContext(ctx,
			`INSERT INTO assessments (id, document_id, extraction_id, outcome_name, certainty, data, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.DocumentID, a.ExtractionID, a.OutcomeName, a.Certainty, a.Data, formatTime(a.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("saving assessment for %q: %w", a.OutcomeName, err)
		}
		out[i] = a
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing assessments: %w", err)
	}
	return out, nil
}

// ListAssessments returns a document's assessments in insertion order.
func (s *Store) ListAssessments(ctx context.Context, documentID string) ([]Assessment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, extraction_id, outcome_name, certainty, data, created_at
		 FROM assessments WHERE document_id = ? ORDER BY rowid`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing assessments: %w", err)
	}
	defer rows.Close()

	out := []Assessment{}
	for rows.Next() {
		var a Assessment
		var created string
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.ExtractionID, &a.OutcomeName, &a.Certainty, &a.Data, &created); err != nil {
			return nil, fmt.Errorf("scanning assessment: %w", err)
		}
		a.CreatedAt = parseTime(created)
		out = append(out, a)
	}
	return out, rows.Err()
}
