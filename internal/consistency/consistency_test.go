// SPDX-License-Identifier: Apache-2.0

package consistency_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/evidence-mcp/internal/consistency"
	"github.com/gemaraproj/evidence-mcp/internal/record"
)

func validate(t *testing.T, text string) []consistency.Warning {
	t.Helper()
	rec, err := record.ParseResponse(text)
	require.NoError(t, err)
	return consistency.Validate(rec)
}

func names(ws []consistency.Warning) []string {
	out := make([]string, len(ws))
	for i, w := range ws {
		out[i] = w.CheckName
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		record    string
		wantNames []string
		wantPath  string
		wantSev   consistency.Severity
	}{
		{
			name: "arm sizes disagree with total",
			record: `{"population": {"sample_size": {"value": 100}},
			  "outcomes": [{"sample_size_intervention": {"value": 40}, "sample_size_control": {"value": 40}}]}`,
			wantNames: []string{"sample_size_consistency"},
			wantPath:  "outcomes[0].sample_size",
			wantSev:   consistency.SeverityWarning,
		},
		{
			name: "arm sizes within five percent",
			record: `{"population": {"sample_size": {"value": "100"}},
			  "outcomes": [{"sample_size_intervention": {"value": 48}, "sample_size_control": {"value": 49}}]}`,
			wantNames: []string{},
		},
		{
			name:      "events exceed arm size",
			record:    `{"outcomes": [{"events_intervention": {"value": 50}, "sample_size_intervention": {"value": 40}}]}`,
			wantNames: []string{"events_exceed_sample_size"},
			wantPath:  "outcomes[0].events_intervention",
			wantSev:   consistency.SeverityError,
		},
		{
			name:      "negative events",
			record:    `{"outcomes": [{"events_control": {"value": -3}}]}`,
			wantNames: []string{"negative_events"},
			wantPath:  "outcomes[0].events_control",
			wantSev:   consistency.SeverityError,
		},
		{
			name:      "inverted ci",
			record:    `{"outcomes": [{"ci_lower": {"value": 2.0}, "ci_upper": {"value": 1.0}}]}`,
			wantNames: []string{"ci_bounds_inverted"},
			wantPath:  "outcomes[0].ci_lower",
			wantSev:   consistency.SeverityError,
		},
		{
			name: "ratio ci crosses null but p significant",
			record: `{"outcomes": [{"effect_measure": {"value": "OR"}, "ci_lower": {"value": 0.8},
			  "ci_upper": {"value": 1.3}, "p_value": {"value": "p < 0.01"}}]}`,
			wantNames: []string{"ci_pvalue_disagreement"},
			wantPath:  "outcomes[0].p_value",
			wantSev:   consistency.SeverityWarning,
		},
		{
			name: "difference ci excludes null but p non-significant",
			record: `{"outcomes": [{"effect_measure": {"value": "MD"}, "ci_lower": {"value": 0.5},
			  "ci_upper": {"value": 1.3}, "p_value": {"value": 0.2}}]}`,
			wantNames: []string{"ci_pvalue_disagreement"},
		},
		{
			name: "ratio ci excluding one agrees with significant p",
			record: `{"outcomes": [{"effect_measure": {"value": "rr"}, "ci_lower": {"value": 0.5},
			  "ci_upper": {"value": 0.9}, "p_value": {"value": "P=0.02"}}]}`,
			wantNames: []string{},
		},
		{
			name: "unparseable p value is ignored",
			record: `{"outcomes": [{"ci_lower": {"value": -1}, "ci_upper": {"value": 1},
			  "p_value": {"value": "NS"}}]}`,
			wantNames: []string{},
		},
		{
			name:      "non-positive ratio",
			record:    `{"outcomes": [{"effect_measure": {"value": "HR"}, "effect_size": {"value": 0}}]}`,
			wantNames: []string{"negative_ratio_measure"},
			wantPath:  "outcomes[0].effect_size",
			wantSev:   consistency.SeverityError,
		},
		{
			name:      "extreme ratio",
			record:    `{"outcomes": [{"effect_measure": {"value": "OR"}, "effect_size": {"value": "150"}}]}`,
			wantNames: []string{"extreme_effect_size"},
			wantSev:   consistency.SeverityWarning,
		},
		{
			name:      "negative arm size without effect data",
			record:    `{"outcomes": [{"sample_size_control": {"value": -5}}]}`,
			wantNames: []string{"negative_sample_size"},
			wantPath:  "outcomes[0].sample_size_control",
			wantSev:   consistency.SeverityError,
		},
		{
			name:      "flattened values are read too",
			record:    `{"outcomes": [{"events_intervention": 12, "sample_size_intervention": "10"}]}`,
			wantNames: []string{"events_exceed_sample_size"},
		},
		{
			name:      "outcomes that are not a list are skipped",
			record:    `{"outcomes": {"events_intervention": {"value": 12}, "sample_size_intervention": {"value": 10}}}`,
			wantNames: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := validate(t, tt.record)
			assert.Equal(t, tt.wantNames, names(got))
			if tt.wantPath != "" {
				require.NotEmpty(t, got)
				assert.Equal(t, tt.wantPath, got[0].FieldPath)
			}
			if tt.wantSev != "" {
				require.NotEmpty(t, got)
				assert.Equal(t, tt.wantSev, got[0].Severity)
			}
		})
	}
}

func TestValidate_ChecksAccumulate(t *testing.T) {
	got := validate(t, `{
	  "population": {"sample_size": {"value": 100}},
	  "outcomes": [{
	    "sample_size_intervention": {"value": 40}, "sample_size_control": {"value": 40},
	    "events_intervention": {"value": 50},
	    "ci_lower": {"value": 3}, "ci_upper": {"value": 1},
	    "effect_measure": {"value": "RR"}, "effect_size": {"value": -1}
	  }]
	}`)
	assert.Equal(t, []string{
		"sample_size_consistency",
		"events_exceed_sample_size",
		"ci_bounds_inverted",
		"negative_ratio_measure",
	}, names(got))
}

func TestValidate_MessageFormat(t *testing.T) {
	got := validate(t, `{"population": {"sample_size": {"value": 100}},
	  "outcomes": [{"sample_size_intervention": {"value": 40}, "sample_size_control": {"value": 40}}]}`)
	require.Len(t, got, 1)
	assert.Equal(t, "Intervention (40) + Control (40) = 80, but total sample size is 100 (discrepancy: 20%)", got[0].Message)
}

func TestParsePValue(t *testing.T) {
	tests := []struct {
		in     any
		want   float64
		wantOK bool
	}{
		{in: "0.03", want: 0.03, wantOK: true},
		{in: "p < 0.001", want: 0.001, wantOK: true},
		{in: "P = .04", want: 0.04, wantOK: true},
		{in: ">0.05", want: 0.05, wantOK: true},
		{in: 0.2, want: 0.2, wantOK: true},
		{in: "NS", wantOK: false},
		{in: nil, wantOK: false},
	}
	for _, tt := range tests {
		got, ok := consistency.ParsePValue(tt.in)
		assert.Equal(t, tt.wantOK, ok, "%v", tt.in)
		if tt.wantOK {
			assert.InDelta(t, tt.want, got, 1e-12, "%v", tt.in)
		}
	}
}

func TestChecks_Registered(t *testing.T) {
	var got []string
	for _, c := range consistency.Checks() {
		got = append(got, c.Name)
	}
	assert.Equal(t, []string{
		"sample_size_consistency",
		"events_vs_sample_size",
		"ci_consistency",
		"effect_size_plausibility",
		"negative_sample_size",
	}, got)
}
