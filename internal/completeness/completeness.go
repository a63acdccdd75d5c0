// SPDX-License-Identifier: Apache-2.0

// Package completeness derives aggregate extraction statistics from a normalized record.
package completeness

import "github.com/gemaraproj/evidence-mcp/internal/record"

// excludedSections are top-level keys that never hold extraction fields: the degraded
// record markers and template-driven custom fields.
var excludedSections = map[string]bool{
	record.KeyError:   true,
	record.KeyRawText: true,
	"custom_fields":   true,
}

// SectionStats are the per-section counters.
type SectionStats struct {
	Total         int `json:"total"`
	Extracted     int `json:"extracted"`
	Missing       int `json:"missing"`
	LowConfidence int `json:"low_confidence"`
}

// Summary is recomputed whenever the owning record changes; it is never patched.
type Summary struct {
	TotalFields      int                     `json:"total_fields"`
	Extracted        int                     `json:"extracted"`
	Missing          int                     `json:"missing"`
	HighConfidence   int                     `json:"high_confidence"`
	MediumConfidence int                     `json:"medium_confidence"`
	LowConfidence    int                     `json:"low_confidence"`
	BySection        map[string]SectionStats `json:"by_section"`
	MissingReasons   map[string]int          `json:"missing_reasons"`
}

// LowOrMissingRatio is (low_confidence + missing) / max(total_fields, 1).
func (s Summary) LowOrMissingRatio() float64 {
	total := s.TotalFields
	if total < 1 {
		total = 1
	}
	return float64(s.LowConfidence+s.Missing) / float64(total)
}

// Analyze walks every Field of r. Fields with a value count as extracted and are
// bucketed by confidence (anything not high or medium counts as low); fields
// without a value count as missing and are tallied by reason.
func Analyze(r *record.Record) Summary {
	s := Summary{
		BySection:      make(map[string]SectionStats),
		MissingReasons: make(map[string]int, len(record.MissingReasons)),
	}
	for _, reason := range record.MissingReasons {
		s.MissingReasons[string(reason)] = 0
	}

	r.WalkFields(func(p record.Path, f *record.Field) {
		section := p.Top()
		if excludedSections[section] {
			return
		}
		sec := s.BySection[section]
		s.TotalFields++
		sec.Total++

		if f.HasValue() {
			s.Extracted++
			sec.Extracted++
			switch f.Confidence {
			case record.ConfidenceHigh:
				s.HighConfidence++
			case record.ConfidenceMedium:
				s.MediumConfidence++
			default:
				s.LowConfidence++
				sec.LowConfidence++
			}
		} else {
			s.Missing++
			sec.Missing++
			reason := f.MissingReason
			if reason == "" {
				reason = record.NotReported
			}
			if reason.Valid() {
				s.MissingReasons[string(reason)]++
			}
		}
		s.BySection[section] = sec
	})
	return s
}
