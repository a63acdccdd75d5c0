// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TrainingExample is a reviewer-approved extraction kept for few-shot prompting.
type TrainingExample struct {
	ID             string
	InputText      string
	ExpectedOutput []byte
	StudyType      string
	Embedding      []float32
	QualityScore   float64
	UsageCount     int
	Active         bool
	CreatedAt      time.Time
}

// SaveExample inserts or replaces ex. An empty ID is assigned.
func (s *Store) SaveExample(ctx context.Context, ex TrainingExample) (TrainingExample, error) {
	ex.ID = newID(ex.ID)
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = now()
	}
	var embedding sql.NullString
	if len(ex.Embedding) > 0 {
		data, err := json.Marshal(ex.Embedding)
		if err != nil {
			return TrainingExample{}, fmt.Errorf("encoding embedding: %w", err)
		}
		embedding = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO training_examples
		   (id, input_text, expected_output, study_type, embedding, quality_score, usage_count, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   input_text = excluded.input_text,
		   expected_output = excluded.expected_output,
		   study_type = excluded.study_type,
		   embedding = excluded.embedding,
		   quality_score = excluded.quality_score,
		   active = excluded.active`,
		ex.ID, ex.InputText, ex.ExpectedOutput, ex.StudyType, embedding, ex.QualityScore, ex.UsageCount,
		ex.Active, formatTime(ex.CreatedAt))
	if err != nil {
		return TrainingExample{}, fmt.Errorf("saving example %q: %w", ex.ID, err)
	}
	return ex, nil
}

// ActiveExamples returns up to limit active examples, best quality first and
// least used among equals.
func (s *Store) ActiveExamples(ctx context.Context, limit int) ([]TrainingExample, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, input_text, expected_output, study_type, embedding, quality_score, usage_count, active, created_at
		 FROM training_examples WHERE active = 1
		 ORDER BY quality_score DESC, usage_count ASC, created_at
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing examples: %w", err)
	}
	defer rows.Close()

	out := []TrainingExample{}
	for rows.Next() {
		var ex TrainingExample
		var embedding sql.NullString
		var created string
		if err := rows.Scan(&ex.ID, &ex.InputText, &ex.ExpectedOutput, &ex.StudyType, &embedding,
			&ex.QualityScore, &ex.UsageCount, &ex.Active, &created); err != nil {
			return nil, fmt.Errorf("scanning example: %w", err)
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &ex.Embedding); err != nil {
				return nil, fmt.Errorf("decoding embedding of %q: %w", ex.ID, err)
			}
		}
		ex.CreatedAt = parseTime(created)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// IncrementUsage bumps the usage count of every listed example.
func (s *Store) IncrementUsage(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE training_examples SET usage_count = usage_count + 1 WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("incrementing example usage: %w", err)
	}
	return nil
}

// SetExampleActive enables or retires an example.
func (s *Store) SetExampleActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE training_examples SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return fmt.Errorf("updating example %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "example", id)
	}
	return nil
}
