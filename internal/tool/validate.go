// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemaraproj/evidence-mcp/internal/completeness"
	"github.com/gemaraproj/evidence-mcp/internal/consistency"
	"github.com/gemaraproj/evidence-mcp/internal/normalize"
	"github.com/gemaraproj/evidence-mcp/internal/record"
	"github.com/gemaraproj/evidence-mcp/internal/verify"
)

var extractionProperty = map[string]interface{}{
	"type": "object",
	"description": "An extraction record: sections of fields, where each field is an object with " +
		"value, confidence, missing_reason and quotes. Outcomes is a list of sections.",
}

// MetadataValidateExtraction describes the validate_extraction tool.
var MetadataValidateExtraction = &mcp.Tool{
	Name: "validate_extraction",
	Description: "Normalize an extraction record and run the statistical consistency checks: " +
		"arm sizes against the total, events against arm sizes, confidence interval ordering, " +
		"interval against p-value, effect size plausibility and negative sample sizes. " +
		"Findings are advisory (warning) or definitely wrong (error); they never change the record.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"extraction"},
		"properties": map[string]interface{}{
			"extraction": extractionProperty,
		},
	},
}

// InputValidateExtraction is the input for the ValidateExtraction tool.
type InputValidateExtraction struct {
	Extraction map[string]any `json:"extraction"`
}

// OutputValidateExtraction is the output for the ValidateExtraction tool.
type OutputValidateExtraction struct {
	Warnings     []consistency.Warning `json:"warnings"`
	ErrorCount   int                   `json:"error_count"`
	WarningCount int                   `json:"warning_count"`
	ReviewStatus map[string]string     `json:"review_status"`
}

func decodeExtraction(v map[string]any) (*record.Record, error) {
	if v == nil {
		return nil, fmt.Errorf("extraction is required")
	}
	rec, err := record.FromPlain(v)
	if err != nil {
		return nil, fmt.Errorf("invalid extraction: %w", err)
	}
	normalize.Record(rec)
	return rec, nil
}

// ValidateExtraction runs every consistency check on the supplied record.
func ValidateExtraction(_ context.Context, _ *mcp.CallToolRequest, input InputValidateExtraction) (*mcp.CallToolResult, OutputValidateExtraction, error) {
	rec, err := decodeExtraction(input.Extraction)
	if err != nil {
		return nil, OutputValidateExtraction{}, err
	}
	out := OutputValidateExtraction{
		Warnings:     consistency.Validate(rec),
		ReviewStatus: verify.ReviewStatus(rec),
	}
	for _, w := range out.Warnings {
		if w.Severity == consistency.SeverityError {
			out.ErrorCount++
		} else {
			out.WarningCount++
		}
	}
	return nil, out, nil
}

// MetadataAnalyzeCompleteness describes the analyze_completeness tool.
var MetadataAnalyzeCompleteness = &mcp.Tool{
	Name: "analyze_completeness",
	Description: "Count extracted, missing and low-confidence fields of an extraction record, overall " +
		"and per section, tally missing reasons, and report whether a verification pass is warranted " +
		"and which fields it would re-check.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"extraction"},
		"properties": map[string]interface{}{
			"extraction": extractionProperty,
			"threshold": map[string]interface{}{
				"type":        "number",
				"description": "Share of low-confidence or missing fields above which verification is warranted. Defaults to 0.2.",
				"minimum":     0,
				"maximum":     1,
			},
		},
	},
}

// InputAnalyzeCompleteness is the input for the AnalyzeCompleteness tool.
type InputAnalyzeCompleteness struct {
	Extraction map[string]any `json:"extraction"`
	Threshold  *float64       `json:"threshold"`
}

// OutputAnalyzeCompleteness is the output for the AnalyzeCompleteness tool.
type OutputAnalyzeCompleteness struct {
	Summary           completeness.Summary `json:"summary"`
	LowOrMissingRatio float64              `json:"low_or_missing_ratio"`
	NeedsVerification bool                 `json:"needs_verification"`
	FieldsToVerify    []string             `json:"fields_to_verify"`
}

// AnalyzeCompleteness summarizes the supplied record.
func AnalyzeCompleteness(_ context.Context, _ *mcp.CallToolRequest, input InputAnalyzeCompleteness) (*mcp.CallToolResult, OutputAnalyzeCompleteness, error) {
	rec, err := decodeExtraction(input.Extraction)
	if err != nil {
		return nil, OutputAnalyzeCompleteness{}, err
	}
	threshold := verify.DefaultThreshold
	if input.Threshold != nil {
		if *input.Threshold < 0 || *input.Threshold > 1 {
			return nil, OutputAnalyzeCompleteness{}, fmt.Errorf("threshold must be between 0 and 1, got %v", *input.Threshold)
		}
		threshold = *input.Threshold
	}

	summary := completeness.Analyze(rec)
	out := OutputAnalyzeCompleteness{
		Summary:           summary,
		LowOrMissingRatio: summary.LowOrMissingRatio(),
		NeedsVerification: verify.NeedsSecondPass(summary, threshold),
		FieldsToVerify:    verify.FieldsToVerify(rec),
	}
	if out.FieldsToVerify == nil {
		out.FieldsToVerify = []string{}
	}
	return nil, out, nil
}
