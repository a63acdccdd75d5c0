// SPDX-License-Identifier: Apache-2.0

// Package document models a paginated source document with per-page text and
// word-level bounding boxes, and selects a Loader for raw input.
package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxTitleRunes = 500

// Word is one word on a page with its box in page coordinates.
type Word struct {
	Text string  `json:"text" yaml:"text"`
	X0   float64 `json:"x0" yaml:"x0"`
	Y0   float64 `json:"y0" yaml:"y0"`
	X1   float64 `json:"x1" yaml:"x1"`
	Y1   float64 `json:"y1" yaml:"y1"`
}

// Page is a single page. Number is 1-based.
type Page struct {
	Number int     `json:"number" yaml:"number"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
	Text   string  `json:"text" yaml:"text"`
	Words  []Word  `json:"words" yaml:"words"`
}

// Document is read-only once loaded and may be shared across goroutines.
type Document struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title,omitempty" yaml:"title"`
	Pages []Page `json:"pages" yaml:"pages"`
}

// Text joins the text of every page, separated by form feeds.
func (d *Document) Text() string {
	parts := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\f")
}

// DetectTitle returns the first non-empty line of the first page, stripped of
// heading markers and capped at 500 characters. It returns "" for an empty document.
func DetectTitle(d *Document) string {
	if d == nil || len(d.Pages) == 0 {
		return ""
	}
	for _, line := range strings.Split(d.Pages[0].Text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > maxTitleRunes {
			line = string([]rune(line)[:maxTitleRunes])
		}
		return line
	}
	return ""
}

// Source describes raw input to a Loader.
type Source struct {
	// Content is the raw document content.
	Content []byte
	Format  string
	ID      string
}

// Loader turns a Source into a Document.
type Loader interface {
	CanHandle(source Source) bool
	Load(ctx context.Context, source Source) (*Document, error)
	Name() string
}

// ErrUnsupportedFormat is returned when no registered loader accepts a source.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Registry picks the first Loader able to handle a Source.
type Registry struct {
	loaders []Loader
}

// NewRegistry creates a Registry. Loaders are consulted in the order given.
func NewRegistry(loaders ...Loader) *Registry {
	return &Registry{loaders: loaders}
}

// Load selects a loader and loads the source. Pages without a number are
// numbered by position, and an empty title is filled by DetectTitle.
func (r *Registry) Load(ctx context.Context, source Source) (*Document, string, error) {
	loader, err := r.selectLoader(source)
	if err != nil {
		return nil, "", err
	}

	doc, err := loader.Load(ctx, source)
	if err != nil {
		return nil, "", fmt.Errorf("loader %q failed: %w", loader.Name(), err)
	}
	if doc.ID == "" {
		doc.ID = source.ID
	}
	for i := range doc.Pages {
		if doc.Pages[i].Number == 0 {
			doc.Pages[i].Number = i + 1
		}
	}
	if doc.Title == "" {
		doc.Title = DetectTitle(doc)
	}
	return doc, loader.Name(), nil
}

// LoadFile reads path and loads it, using the file extension as the format hint.
func (r *Registry) LoadFile(ctx context.Context, path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}
	doc, _, err := r.Load(ctx, Source{
		Content: content,
		Format:  strings.TrimPrefix(filepath.Ext(path), "."),
		ID:      filepath.Base(path),
	})
	return doc, err
}

func (r *Registry) selectLoader(source Source) (Loader, error) {
	for _, loader := range r.loaders {
		if loader.CanHandle(source) {
			return loader, nil
		}
	}
	return nil, fmt.Errorf("%w: no loader found for source %q (format hint: %q)", ErrUnsupportedFormat, source.ID, source.Format)
}

// Names returns the names of all registered loaders.
func (r *Registry) Names() []string {
	names := make([]string, len(r.loaders))
	for i, loader := range r.loaders {
		names[i] = loader.Name()
	}
	return names
}
