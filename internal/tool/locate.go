// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemaraproj/evidence-mcp/internal/locate"
	"github.com/gemaraproj/evidence-mcp/internal/record"
)

// MetadataLocateQuote describes the locate_quote tool.
var MetadataLocateQuote = &mcp.Tool{
	Name: "locate_quote",
	Description: "Find where a quote occurs in a document and return normalized bounding boxes " +
		"(0..1 relative to page size). Exact matches are tried on every page first and return every " +
		"occurrence on the first matching page; otherwise a case-insensitive fuzzy match returns the " +
		"best window on the first page reaching the similarity threshold.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"quote"},
		"properties": func() map[string]interface{} {
			props := documentProperties()
			props["quote"] = map[string]interface{}{
				"type":        "string",
				"description": "Verbatim or near-verbatim text to locate.",
			}
			return props
		}(),
	},
}

// InputLocateQuote is the input for the LocateQuote tool.
type InputLocateQuote struct {
	Quote      string `json:"quote"`
	DocumentID string `json:"document_id"`
	Content    string `json:"content"`
	Format     string `json:"format"`
	SourceID   string `json:"source_id"`
}

// OutputLocateQuote is the output for the LocateQuote tool.
type OutputLocateQuote struct {
	Locations []record.SourceLocation `json:"locations"`
	Method    string                  `json:"method"`
	Score     float64                 `json:"score"`
}

// LocateQuote grounds a quote in a stored or inline document.
func (t *Tools) LocateQuote(ctx context.Context, _ *mcp.CallToolRequest, input InputLocateQuote) (*mcp.CallToolResult, OutputLocateQuote, error) {
	if strings.TrimSpace(input.Quote) == "" {
		return nil, OutputLocateQuote{}, fmt.Errorf("quote is required")
	}

	var match locate.Match
	switch {
	case input.DocumentID != "":
		m, err := t.svc.Locate(ctx, input.DocumentID, input.Quote)
		if err != nil {
			return nil, OutputLocateQuote{}, err
		}
		match = m
	case input.Content != "":
		doc, _, err := t.loaders.Load(ctx, sourceOf(input.Content, input.Format, input.SourceID))
		if err != nil {
			return nil, OutputLocateQuote{}, err
		}
		match = t.locator.LocateWithMeta(doc, input.Quote)
	default:
		return nil, OutputLocateQuote{}, fmt.Errorf("document_id or content is required")
	}

	return nil, OutputLocateQuote{Locations: match.Locations, Method: string(match.Method), Score: match.Score}, nil
}
