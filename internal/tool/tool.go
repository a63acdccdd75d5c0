// SPDX-License-Identifier: Apache-2.0

// Package tool exposes extraction, validation, grounding and certainty
// operations as MCP tools.
package tool

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/locate"
	"github.com/gemaraproj/evidence-mcp/internal/service"
)

// Tools holds the dependencies of the stateful tools.
type Tools struct {
	svc     *service.Service
	loaders *document.Registry
	locator *locate.Locator
}

// New creates Tools backed by svc. Inline documents are loaded with loaders.
func New(svc *service.Service, loaders *document.Registry, locator *locate.Locator) *Tools {
	if locator == nil {
		locator = locate.New()
	}
	return &Tools{svc: svc, loaders: loaders, locator: locator}
}

// Register adds every tool to server.
func (t *Tools) Register(server *mcp.Server) {
	mcp.AddTool(server, MetadataImportDocument, t.ImportDocument)
	mcp.AddTool(server, MetadataExtractEvidence, t.ExtractEvidence)
	mcp.AddTool(server, MetadataGetExtraction, t.GetExtraction)
	mcp.AddTool(server, MetadataLocateQuote, t.LocateQuote)
	mcp.AddTool(server, MetadataAssessCertainty, t.AssessCertainty)
	mcp.AddTool(server, MetadataValidateExtraction, ValidateExtraction)
	mcp.AddTool(server, MetadataAnalyzeCompleteness, AnalyzeCompleteness)
	mcp.AddTool(server, MetadataComputeCertainty, ComputeCertainty)
}

// documentProperties are the inline-document inputs shared by several tools.
func documentProperties() map[string]interface{} {
	return map[string]interface{}{
		"document_id": map[string]interface{}{
			"type":        "string",
			"description": "Identifier of a previously imported document.",
		},
		"content": map[string]interface{}{
			"type":        "string",
			"description": "Inline document content, used when document_id is omitted.",
		},
		"format": map[string]interface{}{
			"type":        "string",
			"description": "Format hint for inline content. One of: text, markdown, layout, yaml, json. If omitted, auto-detection is used.",
			"enum":        []string{"text", "markdown", "layout", "yaml", "json"},
		},
		"source_id": map[string]interface{}{
			"type":        "string",
			"description": "Optional identifier for inline content (file path, DOI, etc.).",
		},
	}
}

func sourceOf(content, format, sourceID string) document.Source {
	return document.Source{Content: []byte(content), Format: format, ID: sourceID}
}
