// SPDX-License-Identifier: Apache-2.0

package parsers_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/document/parsers"
)

func registry() *document.Registry {
	return document.NewRegistry(parsers.NewLayoutLoader(), parsers.NewTextLoader())
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry_UnsupportedFormat(t *testing.T) {
	r := document.NewRegistry()
	_, _, err := r.Load(context.Background(), document.Source{Content: []byte("x"), Format: "pdf", ID: "a.pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported document format")
}

func TestRegistry_Names(t *testing.T) {
	assert.Equal(t, []string{"layout", "text"}, registry().Names())
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.md")
	require.NoError(t, os.WriteFile(path, []byte("# A Randomized Trial\n\nMethods follow.\fResults page."), 0o600))

	doc, err := registry().LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "trial.md", doc.ID)
	assert.Equal(t, "A Randomized Trial", doc.Title)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, 2, doc.Pages[1].Number)
	assert.Equal(t, "Results page.", doc.Pages[1].Text)
}

func TestRegistry_LoadFileMissing(t *testing.T) {
	_, err := registry().LoadFile(context.Background(), filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// LayoutLoader
// ---------------------------------------------------------------------------

func TestLayoutLoader_CanHandle(t *testing.T) {
	l := parsers.NewLayoutLoader()

	assert.True(t, l.CanHandle(document.Source{Format: "json"}))
	assert.True(t, l.CanHandle(document.Source{Format: "YAML"}))
	assert.True(t, l.CanHandle(document.Source{Content: []byte(`{"pages": []}`)}))
	assert.True(t, l.CanHandle(document.Source{Content: []byte("title: x\npages:\n  - number: 1")}))
	assert.False(t, l.CanHandle(document.Source{Content: []byte("Just some prose.")}))
}

func TestLayoutLoader_Load(t *testing.T) {
	src := document.Source{ID: "layout.yaml", Content: []byte(`
title: Aspirin trial
pages:
  - width: 600
    height: 800
    words:
      - {text: The, x0: 10, y0: 10, x1: 40, y1: 20}
      - {text: trial, x0: 45, y0: 10, x1: 80, y1: 20}
  - number: 2
    width: 600
    height: 800
    text: second page
`)}

	doc, loader, err := registry().Load(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, "layout", loader)
	assert.Equal(t, "Aspirin trial", doc.Title)
	require.Len(t, doc.Pages, 2)
	assert.Equal(t, 1, doc.Pages[0].Number)
	assert.Equal(t, "The trial", doc.Pages[0].Text)
	assert.Equal(t, 600.0, doc.Pages[0].Width)
	assert.Equal(t, "second page", doc.Pages[1].Text)
}

func TestLayoutLoader_JSON(t *testing.T) {
	src := document.Source{Format: "json", Content: []byte(`{"pages": [{"number": 1, "width": 10, "height": 10, "text": "x", "words": []}]}`)}
	doc, err := parsers.NewLayoutLoader().Load(context.Background(), src)
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)
	assert.Equal(t, "x", doc.Pages[0].Text)
}

func TestLayoutLoader_Errors(t *testing.T) {
	l := parsers.NewLayoutLoader()

	_, err := l.Load(context.Background(), document.Source{Content: []byte("pages: [")})
	assert.Error(t, err)

	_, err = l.Load(context.Background(), document.Source{Content: []byte("pages:\n  - width: -1\n    height: 5")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "negative dimensions")
}

// ---------------------------------------------------------------------------
// TextLoader
// ---------------------------------------------------------------------------

func TestTextLoader_WordBoxes(t *testing.T) {
	doc, err := parsers.NewTextLoader().Load(context.Background(), document.Source{
		Content: []byte("ab  cd\nefg"),
	})
	require.NoError(t, err)
	require.Len(t, doc.Pages, 1)

	p := doc.Pages[0]
	assert.Equal(t, 36.0, p.Width)
	assert.Equal(t, 24.0, p.Height)
	assert.Equal(t, []document.Word{
		{Text: "ab", X0: 0, Y0: 0, X1: 12, Y1: 12},
		{Text: "cd", X0: 24, Y0: 0, X1: 36, Y1: 12},
		{Text: "efg", X0: 0, Y0: 12, X1: 18, Y1: 24},
	}, p.Words)
}

func TestTextLoader_CanHandle(t *testing.T) {
	l := parsers.NewTextLoader()

	assert.True(t, l.CanHandle(document.Source{Format: "md"}))
	assert.True(t, l.CanHandle(document.Source{Content: []byte("prose")}))
	assert.False(t, l.CanHandle(document.Source{Content: []byte{0x00, 0x01}}))
	assert.False(t, l.CanHandle(document.Source{}))
}

func TestDetectTitle(t *testing.T) {
	assert.Equal(t, "", document.DetectTitle(&document.Document{}))
	assert.Equal(t, "Heading", document.DetectTitle(&document.Document{Pages: []document.Page{{Text: "\n\n## Heading \nbody"}}}))

	long := make([]rune, 600)
	for i := range long {
		long[i] = 'é'
	}
	got := document.DetectTitle(&document.Document{Pages: []document.Page{{Text: string(long)}}})
	assert.Len(t, []rune(got), 500)
}
