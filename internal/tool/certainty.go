// SPDX-License-Identifier: Apache-2.0

package tool

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gemaraproj/evidence-mcp/internal/grade"
)

// MetadataComputeCertainty describes the compute_certainty tool.
var MetadataComputeCertainty = &mcp.Tool{
	Name: "compute_certainty",
	Description: "Compute the GRADE certainty of evidence from ratings you supply. Randomized designs " +
		"start at high, everything else at low. Each serious domain lowers one level, each very serious " +
		"domain two, each applicable upgrade factor raises one; the result is clamped to very_low..high. " +
		"Domains: risk_of_bias, inconsistency, indirectness, imprecision, publication_bias. " +
		"Upgrade factors: large_effect, dose_response, residual_confounding.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"study_design"},
		"properties": map[string]interface{}{
			"study_design": map[string]interface{}{
				"type":        "string",
				"description": "Study design description, e.g. 'Randomized controlled trial' or 'Prospective cohort'.",
			},
			"domains": map[string]interface{}{
				"type":        "object",
				"description": "Domain name to {rating, rationale}. Missing domains count as no_serious.",
				"additionalProperties": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"rating":    map[string]interface{}{"type": "string", "enum": []string{"no_serious", "serious", "very_serious"}},
						"rationale": map[string]interface{}{"type": "string"},
					},
				},
			},
			"upgrades": map[string]interface{}{
				"type":        "object",
				"description": "Upgrade factor name to {applicable, rationale}. Missing factors count as not applicable.",
				"additionalProperties": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"applicable": map[string]interface{}{"type": "boolean"},
						"rationale":  map[string]interface{}{"type": "string"},
					},
				},
			},
		},
	},
}

// InputComputeCertainty is the input for the ComputeCertainty tool.
type InputComputeCertainty struct {
	StudyDesign string                         `json:"study_design"`
	Domains     map[string]grade.DomainRating  `json:"domains"`
	Upgrades    map[string]grade.UpgradeFactor `json:"upgrades"`
}

// OutputComputeCertainty is the output for the ComputeCertainty tool.
type OutputComputeCertainty struct {
	StartingCertainty string `json:"starting_certainty"`
	OverallCertainty  string `json:"overall_certainty"`
	Rationale         string `json:"rationale"`
}

// ComputeCertainty applies the GRADE rules to the supplied ratings.
func ComputeCertainty(_ context.Context, _ *mcp.CallToolRequest, input InputComputeCertainty) (*mcp.CallToolResult, OutputComputeCertainty, error) {
	for name := range input.Domains {
		if !known(grade.Domains, name) {
			return nil, OutputComputeCertainty{}, fmt.Errorf("unknown GRADE domain %q", name)
		}
	}
	for name := range input.Upgrades {
		if !known(grade.UpgradeFactors, name) {
			return nil, OutputComputeCertainty{}, fmt.Errorf("unknown upgrade factor %q", name)
		}
	}

	overall := grade.Compute(input.StudyDesign, input.Domains, input.Upgrades)
	return nil, OutputComputeCertainty{
		StartingCertainty: grade.StartingLevel(input.StudyDesign).String(),
		OverallCertainty:  overall.String(),
		Rationale:         grade.Rationale(input.Domains, input.Upgrades, overall),
	}, nil
}

func known(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// MetadataAssessCertainty describes the assess_certainty tool.
var MetadataAssessCertainty = &mcp.Tool{
	Name: "assess_certainty",
	Description: "Run a full GRADE assessment for every outcome in the latest extraction of a document. " +
		"The language model rates each downgrade domain and upgrade factor with supporting quotes, " +
		"which are grounded to page locations; the overall certainty is computed deterministically.",
	InputSchema: map[string]interface{}{
		"type":     "object",
		"required": []string{"document_id"},
		"properties": map[string]interface{}{
			"document_id": map[string]interface{}{
				"type":        "string",
				"description": "Identifier of a document with at least one extraction.",
			},
		},
	},
}

// InputAssessCertainty is the input for the AssessCertainty tool.
type InputAssessCertainty struct {
	DocumentID string `json:"document_id"`
}

// OutputAssessCertainty is the output for the AssessCertainty tool.
type OutputAssessCertainty struct {
	// Assessments holds one grade.Assessment per outcome.
	Assessments any `json:"assessments"`
	Count       int `json:"count"`
}

// AssessCertainty assesses every outcome of the document's latest extraction.
func (t *Tools) AssessCertainty(ctx context.Context, _ *mcp.CallToolRequest, input InputAssessCertainty) (*mcp.CallToolResult, OutputAssessCertainty, error) {
	if input.DocumentID == "" {
		return nil, OutputAssessCertainty{}, fmt.Errorf("document_id is required")
	}
	assessments, err := t.svc.Assess(ctx, input.DocumentID)
	if err != nil {
		return nil, OutputAssessCertainty{}, err
	}
	return nil, OutputAssessCertainty{Assessments: assessments, Count: len(assessments)}, nil
}
