// SPDX-License-Identifier: Apache-2.0

// Package service combines storage, the extraction pipeline and the GRADE
// assessor into the operations exposed by the MCP and HTTP surfaces.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/embedding"
	"github.com/gemaraproj/evidence-mcp/internal/evidence"
	"github.com/gemaraproj/evidence-mcp/internal/grade"
	"github.com/gemaraproj/evidence-mcp/internal/locate"
	"github.com/gemaraproj/evidence-mcp/internal/metrics"
	"github.com/gemaraproj/evidence-mcp/internal/store"
)

// ErrNotFound is wrapped by every error about a missing document, extraction
// or example.
var ErrNotFound = store.ErrNotFound

// ErrInvalidExample is returned for a training example that cannot be stored.
var ErrInvalidExample = errors.New("invalid training example")

// ErrAssessmentDisabled is returned by Assess when no assessor is configured.
var ErrAssessmentDisabled = errors.New("GRADE assessment is not configured")

// IsNotFound reports whether err concerns a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type Service struct {
	store    *store.Store
	pipeline *evidence.Pipeline
	loaders  *document.Registry
	assessor *grade.Assessor
	locator  *locate.Locator
	embedder embedding.Embedder
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLoaders(r *document.Registry) Option {
	return func(s *Service) { s.loaders = r }
}

func WithAssessor(a *grade.Assessor) Option {
	return func(s *Service) { s.assessor = a }
}

func WithLocator(l *locate.Locator) Option {
	return func(s *Service) {
		if l != nil {
			s.locator = l
		}
	}
}

// WithEmbedder embeds new training examples as they are added.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *Service) { s.embedder = e }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service.
func New(st *store.Store, p *evidence.Pipeline, opts ...Option) *Service {
	s := &Service{
		store:    st,
		pipeline: p,
		loaders:  document.NewRegistry(),
		locator:  locate.New(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DocumentSummary lists a stored document without its pages.
type DocumentSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// ImportDocument loads source and stores the paginated document.
func (s *Service) ImportDocument(ctx context.Context, source document.Source) (*document.Document, error) {
	doc, loader, err := s.loaders.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := s.saveDocument(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Info("document imported",
		zap.String("document", doc.ID), zap.String("loader", loader), zap.Int("pages", len(doc.Pages)))
	return doc, nil
}

// ImportFile loads and stores the document at path.
func (s *Service) ImportFile(ctx context.Context, path string) (*document.Document, error) {
	doc, err := s.loaders.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := s.saveDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Service) saveDocument(ctx context.Context, doc *document.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document %q: %w", doc.ID, err)
	}
	saved, err := s.store.SaveDocument(ctx, store.Document{ID: doc.ID, Title: doc.Title, Body: body})
	if err != nil {
		return err
	}
	doc.ID = saved.ID
	return nil
}

// Document returns a stored document.
func (s *Service) Document(ctx context.Context, id string) (*document.Document, error) {
	row, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	var doc document.Document
	if err := json.Unmarshal(row.Body, &doc); err != nil {
		return nil, fmt.Errorf("decoding document %q: %w", id, err)
	}
	doc.ID = row.ID
	return &doc, nil
}

// Documents lists stored documents, newest first.
func (s *Service) Documents(ctx context.Context) ([]DocumentSummary, error) {
	rows, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]DocumentSummary, len(rows))
	for i, r := range rows {
		out[i] = DocumentSummary{ID: r.ID, Title: r.Title, CreatedAt: r.CreatedAt}
	}
	return out, nil
}

// DeleteDocument removes a document and everything derived from it.
func (s *Service) DeleteDocument(ctx context.Context, id string) error {
	return s.store.DeleteDocument(ctx, id)
}

// Locate grounds quote in a stored document.
func (s *Service) Locate(ctx context.Context, documentID, quote string) (locate.Match, error) {
	doc, err := s.Document(ctx, documentID)
	if err != nil {
		return locate.Match{}, err
	}
	match := s.locator.LocateWithMeta(doc, quote)
	s.metrics.ObserveGrounding(string(match.Method))
	return match, nil
}
