// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Extraction is one versioned extraction of a document. Data holds the
// serialized pipeline result.
type Extraction struct {
	ID               string
	DocumentID       string
	Version          int
	Data             []byte
	Model            string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}

// SaveExtraction stores e as the next version for its document.
func (s *Store) SaveExtraction(ctx context.Context, e Extraction) (Extraction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Extraction{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE id = ?`, e.DocumentID).Scan(&exists); err != nil {
		return Extraction{}, fmt.Errorf("checking document %q: %w", e.DocumentID, err)
	}
	if exists == 0 {
		return Extraction{}, notFound(sql.ErrNoRows, "document", e.DocumentID)
	}

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM extractions WHERE document_id = ?`, e.DocumentID).
		Scan(&e.Version); err != nil {
		return Extraction{}, fmt.Errorf("computing version: %w", err)
	}
	e.ID = newID(e.ID)
	e.CreatedAt = now()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO extractions (id, document_id, version, data, model, prompt_tokens, completion_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DocumentID, e.Version, e.Data, e.Model, e.PromptTokens, e.CompletionTokens, formatTime(e.CreatedAt))
	if err != nil {
		return Extraction{}, fmt.Errorf("saving extraction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Extraction{}, fmt.Errorf("committing extraction: %w", err)
	}
	return e, nil
}

const extractionColumns = `id, document_id, version, data, model, prompt_tokens, completion_tokens, created_at`

func scanExtraction(row interface{ Scan(...any) error }) (Extraction, error) {
	var e Extraction
	var created string
	err := row.Scan(&e.ID, &e.DocumentID, &e.Version, &e.Data, &e.Model, &e.PromptTokens, &e.CompletionTokens, &created)
	e.CreatedAt = parseTime(created)
	return e, err
}

// LatestExtraction returns the highest version for a document.
func (s *Store) LatestExtraction(ctx context.Context, documentID string) (Extraction, error) {
	e, err := scanExtraction(s.db.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE document_id = ? ORDER BY version DESC LIMIT 1`, documentID))
	if err != nil {
		return Extraction{}, notFound(err, "extraction for document", documentID)
	}
	return e, nil
}

// GetExtraction returns a specific version.
func (s *Store) GetExtraction(ctx context.Context, documentID string, version int) (Extraction, error) {
	e, err := scanExtraction(s.db.QueryRowContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE document_id = ? AND version = ?`, documentID, version))
	if err != nil {
		return Extraction{}, notFound(err, "extraction", fmt.Sprintf("%s@%d", documentID, version))
	}
	return e, nil
}

// ListExtractions returns every version for a document, oldest first.
func (s *Store) ListExtractions(ctx context.Context, documentID string) ([]Extraction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+extractionColumns+` FROM extractions WHERE document_id = ? ORDER BY version`, documentID)
	if err != nil {
		return nil, fmt.Errorf("listing extractions: %w", err)
	}
	defer rows.Close()

	out := []Extraction{}
	for rows.Next() {
		e, err := scanExtraction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning extraction: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
