// SPDX-License-Identifier: Apache-2.0

// Package evidence runs a document through extraction, verification,
// grounding and validation.
package evidence

import (
	"github.com/gemaraproj/evidence-mcp/internal/completeness"
	"github.com/gemaraproj/evidence-mcp/internal/consistency"
	"github.com/gemaraproj/evidence-mcp/internal/record"
	"github.com/gemaraproj/evidence-mcp/internal/verify"
)

// Run outcomes reported to metrics.
const (
	outcomeOK       = "ok"
	outcomeDegraded = "degraded"
	outcomeError    = "error"
)

// Verification describes the second oracle pass.
type Verification struct {
	Attempted  bool                  `json:"attempted"`
	Fields     []string              `json:"fields,omitempty"`
	Replaced   []string              `json:"replaced,omitempty"`
	Misaligned []verify.Misalignment `json:"misaligned,omitempty"`
	// Error is set when the pass failed and the first-pass record was kept.
	Error string `json:"error,omitempty"`
}

// GroundingStats counts distinct quotes by how they were located.
type GroundingStats struct {
	Exact int `json:"exact"`
	Fuzzy int `json:"fuzzy"`
	None  int `json:"none"`
}

// Result is the output of a pipeline run.
type Result struct {
	DocumentID       string                `json:"document_id"`
	Title            string                `json:"title,omitempty"`
	LoaderUsed       string                `json:"loader,omitempty"`
	Record           *record.Record        `json:"record"`
	Summary          completeness.Summary  `json:"summary"`
	Warnings         []consistency.Warning `json:"warnings"`
	ReviewStatus     map[string]string     `json:"review_status"`
	Verification     Verification          `json:"verification"`
	Grounding        GroundingStats        `json:"grounding"`
	ExamplesUsed     []string              `json:"examples_used,omitempty"`
	ParseError       string                `json:"parse_error,omitempty"`
	PromptTokens     int                   `json:"prompt_tokens"`
	CompletionTokens int                   `json:"completion_tokens"`
	Model            string                `json:"model,omitempty"`
	RawText          string                `json:"raw_text"`
}

// Degraded reports whether the first pass could not be parsed.
func (r Result) Degraded() bool {
	return r.Record != nil && r.Record.Degraded()
}

// ExtractOptions tune a single run.
type ExtractOptions struct {
	// Template restricts extraction to the named sections and fields.
	Template map[string][]string
}
