// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/gemaraproj/evidence-mcp/internal/document"
)

// LayoutLoader reads page layouts exported by an upstream PDF text extractor,
// in YAML or JSON: a list of pages with size, text and word boxes.
type LayoutLoader struct{}

func NewLayoutLoader() *LayoutLoader {
	return &LayoutLoader{}
}

func (l *LayoutLoader) Name() string {
	return "layout"
}

func (l *LayoutLoader) CanHandle(source document.Source) bool {
	switch strings.ToLower(source.Format) {
	case "yaml", "yml", "json", "layout":
		return true
	}
	content := strings.TrimSpace(string(source.Content))
	if strings.HasPrefix(content, "{") {
		return true
	}
	return strings.HasPrefix(content, "pages:") || strings.Contains(content, "\npages:")
}

func (l *LayoutLoader) Load(_ context.Context, source document.Source) (*document.Document, error) {
	var doc document.Document
	if err := yaml.Unmarshal(source.Content, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal page layout: %w", err)
	}

	for i := range doc.Pages {
		p := &doc.Pages[i]
		if p.Width < 0 || p.Height < 0 {
			return nil, fmt.Errorf("page %d has negative dimensions %gx%g", i+1, p.Width, p.Height)
		}
		if p.Text == "" && len(p.Words) > 0 {
			words := make([]string, len(p.Words))
			for j, w := range p.Words {
				words[j] = w.Text
			}
			p.Text = strings.Join(words, " ")
		}
	}
	return &doc, nil
}
