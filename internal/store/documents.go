// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Document is a stored, already loaded document. Body holds its serialized pages.
type Document struct {
	ID        string
	Title     string
	Body      []byte
	CreatedAt time.Time
}

// SaveDocument inserts or replaces d. An empty ID is assigned.
func (s *Store) SaveDocument(ctx context.Context, d Document) (Document, error) {
	d.ID = newID(d.ID)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, body, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, body = excluded.body`,
		d.ID, d.Title, d.Body, formatTime(d.CreatedAt))
	if err != nil {
		return Document{}, fmt.Errorf("saving document %q: %w", d.ID, err)
	}
	return d, nil
}

// GetDocument returns the document with id.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, created_at FROM documents WHERE id = ?`, id).
		Scan(&d.ID, &d.Title, &d.Body, &created)
	if err != nil {
		return Document{}, notFound(err, "document", id)
	}
	d.CreatedAt = parseTime(created)
	return d, nil
}

// ListDocuments returns every document without its body, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM documents ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		var d Document
		var created string
		if err := rows.Scan(&d.ID, &d.Title, &created); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		d.CreatedAt = parseTime(created)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document with its extractions and assessments.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(sql.ErrNoRows, "document", id)
	}
	return nil
}
