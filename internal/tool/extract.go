// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemaraproj/evidence-mcp/internal/completeness"
	"github.com/gemaraproj/evidence-mcp/internal/consistency"
	"github.com/gemaraproj/evidence-mcp/internal/evidence"
	"github.com/gemaraproj/evidence-mcp/internal/service"
)

// MetadataImportDocument describes the import_document tool.
var MetadataImportDocument = &mcp.Tool{
	Name: "import_document",
	Description: "Import a paginated article so it can be extracted, grounded and assessed by id. " +
		"Plain text and markdown are laid out on a synthetic grid; page-layout YAML or JSON " +
		"carries real word boxes. Pages are separated by form feeds in plain text.",
	InputSchema: map[string]interface{}{
		"type":       "object",
		"required":   []string{"content"},
		"properties": documentProperties(),
	},
}

// InputImportDocument is the input for the ImportDocument tool.
type InputImportDocument struct {
	Content  string `json:"content"`
	Format   string `json:"format"`
	SourceID string `json:"source_id"`
}

// OutputImportDocument is the output for the ImportDocument tool.
type OutputImportDocument struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Pages      int    `json:"pages"`
}

// ImportDocument loads and stores an inline document.
func (t *Tools) ImportDocument(ctx context.Context, _ *mcp.CallToolRequest, input InputImportDocument) (*mcp.CallToolResult, OutputImportDocument, error) {
	if input.Content == "" {
		return nil, OutputImportDocument{}, fmt.Errorf("content is required")
	}
	doc, err := t.svc.ImportDocument(ctx, sourceOf(input.Content, input.Format, input.SourceID))
	if err != nil {
		return nil, OutputImportDocument{}, err
	}
	return nil, OutputImportDocument{DocumentID: doc.ID, Title: doc.Title, Pages: len(doc.Pages)}, nil
}

// MetadataExtractEvidence describes the extract_evidence tool.
var MetadataExtractEvidence = &mcp.Tool{
	Name: "extract_evidence",
	Description: "Extract structured study data from an article with the configured language model. " +
		"Every field carries a value, a confidence (high, medium, low), a missing reason when absent, " +
		"verbatim quotes and the page locations of those quotes. Sparse extractions trigger a targeted " +
		"verification pass. The result includes completeness statistics, consistency warnings and an " +
		"initial review status per field; fields marked needs_review should be checked by a human.",
	InputSchema: map[string]interface{}{
		"type": "object",
		"properties": func() map[string]interface{} {
			props := documentProperties()
			props["template"] = map[string]interface{}{
				"type":        "object",
				"description": "Optional extraction template: section name to list of field names. Restricts extraction to those fields.",
				"additionalProperties": map[string]interface{}{
					"type":  "array",
					"items": map[string]interface{}{"type": "string"},
				},
			}
			return props
		}(),
	},
}

// InputExtractEvidence is the input for the ExtractEvidence tool.
type InputExtractEvidence struct {
	DocumentID string              `json:"document_id"`
	Content    string              `json:"content"`
	Format     string              `json:"format"`
	SourceID   string              `json:"source_id"`
	Template   map[string][]string `json:"template"`
}

// OutputExtraction is a stored extraction as returned by the tools.
type OutputExtraction struct {
	DocumentID       string                  `json:"document_id"`
	Version          int                     `json:"version"`
	Record           map[string]any          `json:"record"`
	Summary          completeness.Summary    `json:"summary"`
	Warnings         []consistency.Warning   `json:"warnings"`
	ReviewStatus     map[string]string       `json:"review_status"`
	Verification     evidence.Verification   `json:"verification"`
	Grounding        evidence.GroundingStats `json:"grounding"`
	ParseError       string                  `json:"parse_error,omitempty"`
	Model            string                  `json:"model,omitempty"`
	PromptTokens     int                     `json:"prompt_tokens"`
	CompletionTokens int                     `json:"completion_tokens"`
}

func outputExtraction(e service.Extraction) OutputExtraction {
	out := OutputExtraction{
		DocumentID:       e.DocumentID,
		Version:          e.Version,
		Summary:          e.Summary,
		Warnings:         e.Warnings,
		ReviewStatus:     e.ReviewStatus,
		Verification:     e.Verification,
		Grounding:        e.Grounding,
		ParseError:       e.ParseError,
		Model:            e.Model,
		PromptTokens:     e.PromptTokens,
		CompletionTokens: e.CompletionTokens,
	}
	if e.Record != nil {
		out.Record = e.Record.ToMap()
	}
	if out.Warnings == nil {
		out.Warnings = []consistency.Warning{}
	}
	return out
}

// ExtractEvidence runs the extraction pipeline on a stored or inline document
// and stores the result as a new version.
func (t *Tools) ExtractEvidence(ctx context.Context, _ *mcp.CallToolRequest, input InputExtractEvidence) (*mcp.CallToolResult, OutputExtraction, error) {
	documentID := input.DocumentID
	if documentID == "" {
		if input.Content == "" {
			return nil, OutputExtraction{}, fmt.Errorf("document_id or content is required")
		}
		doc, err := t.svc.ImportDocument(ctx, sourceOf(input.Content, input.Format, input.SourceID))
		if err != nil {
			return nil, OutputExtraction{}, err
		}
		documentID = doc.ID
	}

	e, err := t.svc.Extract(ctx, documentID, evidence.ExtractOptions{Template: input.Template})
	if err != nil {
		return nil, OutputExtraction{}, err
	}
	return nil, outputExtraction(e), nil
}

// MetadataGetExtraction describes the get_extraction tool.
var MetadataGetExtraction = &mcp.Tool{
	Name:        "get_extraction",
	Description: "Return the latest stored extraction of a document.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"document_id"},
		"properties": map[string]interface{}{
			"document_id": map[string]interface{}{
				"type":        "string",
				"description": "Identifier of an imported document.",
			},
		},
	},
}

// InputGetExtraction is the input for the GetExtraction tool.
type InputGetExtraction struct {
	DocumentID string `json:"document_id"`
}

// GetExtraction returns the newest stored extraction.
func (t *Tools) GetExtraction(ctx context.Context, _ *mcp.CallToolRequest, input InputGetExtraction) (*mcp.CallToolResult, OutputExtraction, error) {
	if input.DocumentID == "" {
		return nil, OutputExtraction{}, fmt.Errorf("document_id is required")
	}
	e, err := t.svc.LatestExtraction(ctx, input.DocumentID)
	if err != nil {
		return nil, OutputExtraction{}, err
	}
	return nil, outputExtraction(e), nil
}
