// SPDX-License-Identifier: Apache-2.0

// Package consistency runs deterministic arithmetic and logical checks over the
// numbers in an extraction record. Findings are data for the reviewer, not errors.
package consistency

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/gemaraproj/evidence-mcp/internal/record"
)

// Severity grades a finding.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Warning is one finding. Warnings are regenerated on every run.
type Warning struct {
	FieldPath string   `json:"field_path"`
	Severity  Severity `json:"severity"`
	CheckName string   `json:"check_name"`
	Message   string   `json:"message"`
}

// Check inspects a record and returns its findings.
type Check struct {
	Name string
	Run  func(r *record.Record) []Warning
}

// checks is the ordered rule table. Every check runs; none short-circuits another.
var checks = []Check{
	{Name: "sample_size_consistency", Run: checkSampleSizeConsistency},
	{Name: "events_vs_sample_size", Run: checkEventsVsSampleSize},
	{Name: "ci_consistency", Run: checkCIConsistency},
	{Name: "effect_size_plausibility", Run: checkEffectSizePlausibility},
	{Name: "negative_sample_size", Run: checkNegativeSampleSize},
}

// Checks returns the registered checks in evaluation order.
func Checks() []Check {
	out := make([]Check, len(checks))
	copy(out, checks)
	return out
}

// Validate runs every check and accumulates the findings.
func Validate(r *record.Record) []Warning {
	warnings := []Warning{}
	for _, c := range checks {
		warnings = append(warnings, c.Run(r)...)
	}
	return warnings
}

// Outcome fields read by the checks.
const (
	keySampleSize             = "sample_size"
	keySampleSizeIntervention = "sample_size_intervention"
	keySampleSizeControl      = "sample_size_control"
	keyEventsIntervention     = "events_intervention"
	keyEventsControl          = "events_control"
	keyCILower                = "ci_lower"
	keyCIUpper                = "ci_upper"
	keyPValue                 = "p_value"
	keyEffectSize             = "effect_size"
	keyEffectMeasure          = "effect_measure"
)

// outcomes returns the outcome list. A non-list outcomes value yields nothing.
func outcomes(r *record.Record) []*record.Section {
	n, ok := r.Root.Get("outcomes")
	if !ok || n.Kind() != record.KindList {
		return nil
	}
	out := make([]*record.Section, len(n.List()))
	for i, item := range n.List() {
		if item.Kind() == record.KindSection {
			out[i] = item.Section()
		}
	}
	return out
}

func outcomePath(i int, key string) string {
	return fmt.Sprintf("outcomes[%d].%s", i, key)
}

func checkSampleSizeConsistency(r *record.Record) []Warning {
	pop := r.Section("population")
	if pop == nil {
		return nil
	}
	total, ok := toFloat(pop.Value(keySampleSize))
	if !ok || total <= 0 {
		return nil
	}

	var warnings []Warning
	for i, o := range outcomes(r) {
		if o == nil {
			continue
		}
		nInt, okInt := toFloat(o.Value(keySampleSizeIntervention))
		nCtrl, okCtrl := toFloat(o.Value(keySampleSizeControl))
		if !okInt || !okCtrl {
			continue
		}
		combined := nInt + nCtrl
		discrepancy := math.Abs(combined-total) / total
		if discrepancy > 0.05 {
			warnings = append(warnings, Warning{
				FieldPath: outcomePath(i, keySampleSize),
				Severity:  SeverityWarning,
				CheckName: "sample_size_consistency",
				Message: fmt.Sprintf("Intervention (%s) + Control (%s) = %s, but total sample size is %s (discrepancy: %.0f%%)",
					formatInt(nInt), formatInt(nCtrl), formatInt(combined), formatInt(total), discrepancy*100),
			})
		}
	}
	return warnings
}

func checkEventsVsSampleSize(r *record.Record) []Warning {
	arms := []struct {
		eventsKey, sizeKey, group string
	}{
		{keyEventsIntervention, keySampleSizeIntervention, "intervention"},
		{keyEventsControl, keySampleSizeControl, "control"},
	}

	var warnings []Warning
	for i, o := range outcomes(r) {
		if o == nil {
			continue
		}
		for _, arm := range arms {
			events, okEvents := toFloat(o.Value(arm.eventsKey))
			if !okEvents {
				continue
			}
			if n, ok := toFloat(o.Value(arm.sizeKey)); ok && events > n {
				warnings = append(warnings, Warning{
					FieldPath: outcomePath(i, arm.eventsKey),
					Severity:  SeverityError,
					CheckName: "events_exceed_sample_size",
					Message: fmt.Sprintf("Events in %s (%s) exceed sample size (%s)",
						arm.group, formatInt(events), formatInt(n)),
				})
			}
			if events < 0 {
				warnings = append(warnings, Warning{
					FieldPath: outcomePath(i, arm.eventsKey),
					Severity:  SeverityError,
					CheckName: "negative_events",
					Message:   fmt.Sprintf("Negative event count (%s) in %s", formatFloat(events), arm.group),
				})
			}
		}
	}
	return warnings
}

func checkCIConsistency(r *record.Record) []Warning {
	var warnings []Warning
	for i, o := range outcomes(r) {
		if o == nil {
			continue
		}
		lower, okLower := toFloat(o.Value(keyCILower))
		upper, okUpper := toFloat(o.Value(keyCIUpper))
		if !okLower || !okUpper {
			continue
		}
		if lower > upper {
			warnings = append(warnings, Warning{
				FieldPath: outcomePath(i, keyCILower),
				Severity:  SeverityError,
				CheckName: "ci_bounds_inverted",
				Message: fmt.Sprintf("CI lower bound (%s) is greater than upper bound (%s)",
					formatFloat(lower), formatFloat(upper)),
			})
		}

		p, ok := ParsePValue(o.Value(keyPValue))
		if !ok {
			continue
		}
		null := NullValue(measureOf(o))
		crossesNull := lower <= null && null <= upper
		nonSignificant := p > 0.05

		var msg string
		switch {
		case crossesNull && !nonSignificant:
			msg = "CI [%s, %s] crosses null (%s) but p-value (%s) suggests significance"
		case !crossesNull && nonSignificant:
			msg = "CI [%s, %s] does not cross null (%s) but p-value (%s) suggests non-significance"
		default:
			continue
		}
		warnings = append(warnings, Warning{
			FieldPath: outcomePath(i, keyPValue),
			Severity:  SeverityWarning,
			CheckName: "ci_pvalue_disagreement",
			Message:   fmt.Sprintf(msg, formatFloat(lower), formatFloat(upper), formatFloat(null), formatFloat(p)),
		})
	}
	return warnings
}

func checkEffectSizePlausibility(r *record.Record) []Warning {
	var warnings []Warning
	for i, o := range outcomes(r) {
		if o == nil {
			continue
		}
		effect, ok := toFloat(o.Value(keyEffectSize))
		measure := measureOf(o)
		if !ok || !IsRatioMeasure(measure) {
			continue
		}
		switch {
		case effect <= 0:
			warnings = append(warnings, Warning{
				FieldPath: outcomePath(i, keyEffectSize),
				Severity:  SeverityError,
				CheckName: "negative_ratio_measure",
				Message:   fmt.Sprintf("%s of %s is invalid (must be > 0)", measure, formatFloat(effect)),
			})
		case effect > 100:
			warnings = append(warnings, Warning{
				FieldPath: outcomePath(i, keyEffectSize),
				Severity:  SeverityWarning,
				CheckName: "extreme_effect_size",
				Message:   fmt.Sprintf("%s of %s is extremely large, verify accuracy", measure, formatFloat(effect)),
			})
		}
	}
	return warnings
}

func checkNegativeSampleSize(r *record.Record) []Warning {
	var warnings []Warning
	for i, o := range outcomes(r) {
		if o == nil {
			continue
		}
		for _, key := range []string{keySampleSizeIntervention, keySampleSizeControl} {
			if n, ok := toFloat(o.Value(key)); ok && n < 0 {
				warnings = append(warnings, Warning{
					FieldPath: outcomePath(i, key),
					Severity:  SeverityError,
					CheckName: "negative_sample_size",
					Message:   fmt.Sprintf("Negative sample size: %s", formatFloat(n)),
				})
			}
		}
	}
	return warnings
}

// ratioMeasures have a null value of 1; every other measure is a difference with null 0.
var ratioMeasures = map[string]bool{"OR": true, "RR": true, "HR": true}

// IsRatioMeasure reports whether measure is an odds, risk or hazard ratio.
func IsRatioMeasure(measure string) bool {
	return ratioMeasures[measure]
}

// NullValue is 1.0 for ratio measures and 0.0 for difference measures.
func NullValue(measure string) float64 {
	if IsRatioMeasure(measure) {
		return 1.0
	}
	return 0.0
}

func measureOf(o *record.Section) string {
	s, _ := o.Value(keyEffectMeasure).(string)
	return strings.ToUpper(strings.TrimSpace(s))
}

var pValueNoise = strings.NewReplacer("p", "", "=", "", "<", "", ">", "")

// ParsePValue reads forms like "0.03", "p<0.001", "P = .04". Unparseable input
// reports ok=false and is ignored by the checks.
func ParsePValue(raw any) (float64, bool) {
	if raw == nil {
		return 0, false
	}
	s := strings.ToLower(strings.TrimSpace(fmt.Sprint(raw)))
	s = strings.TrimSpace(pValueNoise.Replace(s))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case int:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func formatInt(v float64) string {
	return strconv.FormatInt(int64(v), 10)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
