// SPDX-License-Identifier: Apache-2.0

package parsers

import (
	"context"
	"strings"
	"unicode"

	"github.com/gemaraproj/evidence-mcp/internal/document"
)

// Monospace grid used to give plain text word boxes.
const (
	charWidth  = 6.0
	lineHeight = 12.0
)

// TextLoader loads plain text and Markdown. Form feeds separate pages. Each
// line is laid out on a monospace grid so that every word gets a box.
type TextLoader struct{}

// NewTextLoader creates a new TextLoader.
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

func (l *TextLoader) Name() string {
	return "text"
}

// CanHandle accepts text and markdown format hints, and any content that is
// valid text. Register it last.
func (l *TextLoader) CanHandle(source document.Source) bool {
	switch strings.ToLower(source.Format) {
	case "txt", "text", "md", "markdown":
		return true
	}
	return len(source.Content) > 0 && !strings.ContainsRune(string(source.Content), 0)
}

func (l *TextLoader) Load(_ context.Context, source document.Source) (*document.Document, error) {
	raw := strings.ReplaceAll(string(source.Content), "\r\n", "\n")

	var pages []document.Page
	for i, text := range strings.Split(raw, "\f") {
		pages = append(pages, layoutPage(i+1, strings.TrimPrefix(text, "\n")))
	}
	return &document.Document{ID: source.ID, Pages: pages}, nil
}

func layoutPage(number int, text string) document.Page {
	lines := strings.Split(text, "\n")
	page := document.Page{Number: number, Text: text}

	maxCols := 1
	for row, line := range lines {
		runes := []rune(line)
		if len(runes) > maxCols {
			maxCols = len(runes)
		}
		start := -1
		for col := 0; col <= len(runes); col++ {
			inWord := col < len(runes) && !unicode.IsSpace(runes[col])
			switch {
			case inWord && start < 0:
				start = col
			case !inWord && start >= 0:
				page.Words = append(page.Words, document.Word{
					Text: string(runes[start:col]),
					X0:   float64(start) * charWidth,
					Y0:   float64(row) * lineHeight,
					X1:   float64(col) * charWidth,
					Y1:   float64(row+1) * lineHeight,
				})
				start = -1
			}
		}
	}
	page.Width = float64(maxCols) * charWidth
	page.Height = float64(max(len(lines), 1)) * lineHeight
	return page
}
