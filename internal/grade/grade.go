// SPDX-License-Identifier: Apache-2.0

// Package grade rates the certainty of a body of evidence on the four-level
// GRADE scale from per-domain downgrade judgments and upgrade factors.
package grade

import (
	"fmt"
	"strings"

	"github.com/gemaraproj/evidence-mcp/internal/record"
)

// Level is the ordinal certainty rating.
type Level int

const (
	VeryLow  Level = 1
	Low      Level = 2
	Moderate Level = 3
	High     Level = 4
)

var levelNames = map[Level]string{
	VeryLow:  "very_low",
	Low:      "low",
	Moderate: "moderate",
	High:     "high",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

func (l Level) MarshalText() ([]byte, error) {
	name, ok := levelNames[l]
	if !ok {
		return nil, fmt.Errorf("invalid certainty level %d", int(l))
	}
	return []byte(name), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel reads a level label such as "moderate" or "VERY_LOW".
func ParseLevel(s string) (Level, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for l, name := range levelNames {
		if name == want {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown certainty level %q", s)
}

// Rating is a qualitative downgrade judgment.
type Rating string

const (
	NoSerious   Rating = "no_serious"
	Serious     Rating = "serious"
	VerySerious Rating = "very_serious"
)

// Penalty is the number of levels a rating subtracts. Unknown ratings subtract nothing.
func (r Rating) Penalty() int {
	switch r {
	case Serious:
		return 1
	case VerySerious:
		return 2
	}
	return 0
}

// Downgrade domains, in assessment order.
const (
	RiskOfBias      = "risk_of_bias"
	Inconsistency   = "inconsistency"
	Indirectness    = "indirectness"
	Imprecision     = "imprecision"
	PublicationBias = "publication_bias"
)

// Upgrade factors, in assessment order.
const (
	LargeEffect         = "large_effect"
	DoseResponse        = "dose_response"
	ResidualConfounding = "residual_confounding"
)

// Domains lists the five downgrade domains.
var Domains = []string{RiskOfBias, Inconsistency, Indirectness, Imprecision, PublicationBias}

// UpgradeFactors lists the three upgrade factors.
var UpgradeFactors = []string{LargeEffect, DoseResponse, ResidualConfounding}

// DomainRating is the judgment for one downgrade domain.
type DomainRating struct {
	Rating          Rating                  `json:"rating"`
	Rationale       string                  `json:"rationale"`
	Quotes          []string                `json:"quotes"`
	SourceLocations []record.SourceLocation `json:"source_locations,omitempty"`
	// Details holds any criteria breakdown the assessor returned.
	Details map[string]any `json:"details,omitempty"`
}

// UpgradeFactor is the judgment for one upgrade factor.
type UpgradeFactor struct {
	Applicable      bool                    `json:"applicable"`
	Rationale       string                  `json:"rationale"`
	Quotes          []string                `json:"quotes"`
	SourceLocations []record.SourceLocation `json:"source_locations,omitempty"`
}

// designRule maps trigger keywords in a study design description to a starting level.
type designRule struct {
	keywords []string
	level    Level
}

// designRules are evaluated in order; the first match wins. Anything else is
// treated as observational.
var designRules = []designRule{
	{keywords: []string{"rct", "randomized", "randomised", "random"}, level: High},
}

const observationalStart = Low

// StartingLevel returns the level a study design starts from before any
// downgrade or upgrade is applied.
func StartingLevel(design string) Level {
	lower := strings.ToLower(design)
	for _, rule := range designRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.level
			}
		}
	}
	return observationalStart
}

// Compute derives the overall certainty. Missing domains count as no_serious
// and missing upgrade factors as not applicable. The result is clamped to
// [VeryLow, High]. Compute never calls out and always returns a valid level.
func Compute(design string, domains map[string]DomainRating, upgrades map[string]UpgradeFactor) Level {
	level := int(StartingLevel(design))
	for _, name := range Domains {
		level -= domains[name].Rating.Penalty()
	}
	for _, name := range UpgradeFactors {
		if upgrades[name].Applicable {
			level++
		}
	}
	return clamp(level)
}

func clamp(level int) Level {
	if level < int(VeryLow) {
		return VeryLow
	}
	if level > int(High) {
		return High
	}
	return Level(level)
}

// Rationale summarizes why the overall level was reached.
func Rationale(domains map[string]DomainRating, upgrades map[string]UpgradeFactor, overall Level) string {
	var parts []string
	for _, name := range Domains {
		d, ok := domains[name]
		if !ok || d.Rating == "" || d.Rating == NoSerious {
			continue
		}
		parts = append(parts, fmt.Sprintf("Downgraded for %s (%s): %s", humanize(name), humanize(string(d.Rating)), d.Rationale))
	}
	for _, name := range UpgradeFactors {
		if u := upgrades[name]; u.Applicable {
			parts = append(parts, fmt.Sprintf("Upgraded for %s: %s", humanize(name), u.Rationale))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "No serious concerns across any GRADE domain.")
	}
	return fmt.Sprintf("Overall certainty: %s. %s", strings.ToUpper(overall.String()), strings.Join(parts, " "))
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
