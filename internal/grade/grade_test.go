// SPDX-License-Identifier: Apache-2.0

package grade_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/evidence-mcp/internal/grade"
)

func allDomains(r grade.Rating) map[string]grade.DomainRating {
	out := map[string]grade.DomainRating{}
	for _, d := range grade.Domains {
		out[d] = grade.DomainRating{Rating: r}
	}
	return out
}

func allUpgrades(applicable bool) map[string]grade.UpgradeFactor {
	out := map[string]grade.UpgradeFactor{}
	for _, u := range grade.UpgradeFactors {
		out[u] = grade.UpgradeFactor{Applicable: applicable}
	}
	return out
}

func TestStartingLevel(t *testing.T) {
	tests := []struct {
		design string
		want   grade.Level
	}{
		{design: "Randomized controlled trial", want: grade.High},
		{design: "RCT", want: grade.High},
		{design: "cluster-randomised trial", want: grade.High},
		{design: "quasi-random allocation", want: grade.High},
		// substring match, as in the keyword table
		{design: "non-randomized comparison", want: grade.High},
		{design: "prospective cohort study", want: grade.Low},
		{design: "", want: grade.Low},
	}
	for _, tt := range tests {
		t.Run(tt.design, func(t *testing.T) {
			assert.Equal(t, tt.want, grade.StartingLevel(tt.design))
		})
	}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name     string
		design   string
		domains  map[string]grade.DomainRating
		upgrades map[string]grade.UpgradeFactor
		want     grade.Level
	}{
		{
			name:     "rct with no concerns is high",
			design:   "Randomized controlled trial",
			domains:  allDomains(grade.NoSerious),
			upgrades: allUpgrades(false),
			want:     grade.High,
		},
		{
			name:   "cohort with two serious concerns clamps to very low",
			design: "cohort study",
			domains: map[string]grade.DomainRating{
				grade.RiskOfBias:  {Rating: grade.Serious},
				grade.Imprecision: {Rating: grade.Serious},
			},
			upgrades: allUpgrades(false),
			want:     grade.VeryLow,
		},
		{
			name:    "rct with one very serious concern is low",
			design:  "RCT",
			domains: map[string]grade.DomainRating{grade.Indirectness: {Rating: grade.VerySerious}},
			want:    grade.Low,
		},
		{
			name:     "observational upgrades clamp to high",
			design:   "case-control",
			upgrades: allUpgrades(true),
			want:     grade.High,
		},
		{
			name:   "observational with large effect is moderate",
			design: "cohort",
			upgrades: map[string]grade.UpgradeFactor{
				grade.LargeEffect: {Applicable: true},
			},
			want: grade.Moderate,
		},
		{
			name:    "unknown rating subtracts nothing",
			design:  "RCT",
			domains: map[string]grade.DomainRating{grade.RiskOfBias: {Rating: "catastrophic"}},
			want:    grade.High,
		},
		{
			name: "nil inputs",
			want: grade.Low,
		},
		{
			name:     "every domain very serious clamps",
			design:   "RCT",
			domains:  allDomains(grade.VerySerious),
			upgrades: allUpgrades(true),
			want:     grade.VeryLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, grade.Compute(tt.design, tt.domains, tt.upgrades))
		})
	}
}

func TestLevel_Text(t *testing.T) {
	b, err := json.Marshal(map[string]grade.Level{"overall": grade.VeryLow})
	require.NoError(t, err)
	assert.JSONEq(t, `{"overall": "very_low"}`, string(b))

	var got struct {
		Overall grade.Level `json:"overall"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"overall": "MODERATE"}`), &got))
	assert.Equal(t, grade.Moderate, got.Overall)

	_, err = grade.ParseLevel("excellent")
	assert.Error(t, err)

	_, err = json.Marshal(grade.Level(7))
	assert.Error(t, err)
}

func TestRationale(t *testing.T) {
	t.Run("no concerns", func(t *testing.T) {
		got := grade.Rationale(allDomains(grade.NoSerious), allUpgrades(false), grade.High)
		assert.Equal(t, "Overall certainty: HIGH. No serious concerns across any GRADE domain.", got)
	})

	t.Run("downgrades then upgrades in fixed order", func(t *testing.T) {
		domains := map[string]grade.DomainRating{
			grade.Imprecision: {Rating: grade.VerySerious, Rationale: "wide CI"},
			grade.RiskOfBias:  {Rating: grade.Serious, Rationale: "no blinding"},
		}
		upgrades := map[string]grade.UpgradeFactor{
			grade.DoseResponse: {Applicable: true, Rationale: "gradient"},
		}
		got := grade.Rationale(domains, upgrades, grade.VeryLow)
		assert.Equal(t,
			"Overall certainty: VERY_LOW. Downgraded for risk of bias (serious): no blinding "+
				"Downgraded for imprecision (very serious): wide CI Upgraded for dose response: gradient",
			got)
	})
}
