// SPDX-License-Identifier: Apache-2.0

// Package normalize enforces the field contract on oracle output so downstream
// consumers never need defensive checks.
package normalize

import "github.com/gemaraproj/evidence-mcp/internal/record"

// Record normalizes every Field in r in place.
func Record(r *record.Record) {
	r.WalkFields(func(_ record.Path, f *record.Field) {
		Field(f)
	})
}

// Field applies the contract to a single field:
//   - a present value with an unrecognised confidence is low, never authoritative
//   - a present value never carries a missing reason
//   - a missing value carries no confidence and a valid missing reason
//     (not_reported when the oracle gave none)
//   - quotes is never nil
func Field(f *record.Field) {
	if f.HasValue() {
		if !f.Confidence.Valid() {
			f.Confidence = record.ConfidenceLow
		}
		f.MissingReason = ""
	} else {
		f.Confidence = ""
		if !f.MissingReason.Valid() {
			f.MissingReason = record.NotReported
		}
	}

	if f.Quotes == nil {
		f.Quotes = []string{}
	}
}
