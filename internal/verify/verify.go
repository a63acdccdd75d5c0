// SPDX-License-Identifier: Apache-2.0

// Package verify decides when a second oracle pass is warranted and merges its
// answer into the first pass without ever downgrading a field.
package verify

import (
	"fmt"
	"strings"

	"github.com/gemaraproj/evidence-mcp/internal/completeness"
	"github.com/gemaraproj/evidence-mcp/internal/normalize"
	"github.com/gemaraproj/evidence-mcp/internal/record"
)

// DefaultThreshold is the share of low-confidence or missing fields above which a
// verification pass is requested.
const DefaultThreshold = 0.2

// NeedsSecondPass reports whether (low_confidence + missing) / max(total, 1) > threshold.
func NeedsSecondPass(s completeness.Summary, threshold float64) bool {
	return s.LowOrMissingRatio() > threshold
}

// FieldsToVerify lists the paths of every field with low confidence or an unclear
// missing reason.
func FieldsToVerify(r *record.Record) []string {
	var paths []string
	r.WalkFields(func(p record.Path, f *record.Field) {
		if f.Confidence == record.ConfidenceLow || f.MissingReason == record.Unclear {
			paths = append(paths, p.String())
		}
	})
	return paths
}

// Review states assigned to each field before a human looks at the record.
const (
	StatusNeedsReview = "needs_review"
	StatusPending     = "pending"
)

// ReviewStatus maps every field path to its initial review state.
func ReviewStatus(r *record.Record) map[string]string {
	status := make(map[string]string)
	r.WalkFields(func(p record.Path, f *record.Field) {
		if f.Confidence == record.ConfidenceLow || f.MissingReason == record.Unclear {
			status[p.String()] = StatusNeedsReview
		} else {
			status[p.String()] = StatusPending
		}
	})
	return status
}

// Misalignment records a patch node that was not merged because its position in the
// patch does not correspond to the same entity in the original.
type Misalignment struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Result describes a merge.
type Result struct {
	Replaced   []string             `json:"replaced"`
	Misaligned []Misalignment       `json:"misaligned,omitempty"`
	Summary    completeness.Summary `json:"summary"`
}

// Merge folds patch into original in place and returns what changed.
//
// A patch field replaces the original field when its confidence ranks strictly higher,
// or when the original has no value and the patch supplies one. Sections merge by
// recursion, lists by index. Keys only in the patch are ignored; keys only in the
// original are untouched. The patch is normalized first, and the original is
// re-normalized and re-analyzed afterwards.
func Merge(original, patch *record.Record) Result {
	normalize.Record(patch)

	var res Result
	mergeSection(original.Root, patch.Root, nil, &res)

	normalize.Record(original)
	res.Summary = completeness.Analyze(original)
	return res
}

func mergeSection(orig, patch *record.Section, path record.Path, res *Result) {
	for _, key := range patch.Keys() {
		if key == record.KeyQuotes || key == record.KeySourceLocations {
			continue
		}
		pn, _ := patch.Get(key)
		on, ok := orig.Get(key)
		if !ok {
			continue
		}
		if replacement := mergeNode(on, pn, path.Key(key), res); replacement != nil {
			orig.Set(key, replacement)
		}
	}
}

// mergeNode merges pn into on. It returns a node to store in place of on when a
// whole field is replaced, or nil when on was kept or merged in place.
func mergeNode(on, pn *record.Node, path record.Path, res *Result) *record.Node {
	if on.Kind() != pn.Kind() {
		if pn.Kind() != record.KindScalar {
			res.Misaligned = append(res.Misaligned, Misalignment{
				Path:   path.String(),
				Reason: fmt.Sprintf("shape mismatch: original is %s, patch is %s", on.Kind(), pn.Kind()),
			})
		}
		return nil
	}

	switch pn.Kind() {
	case record.KindField:
		if improves(on.Field(), pn.Field()) {
			res.Replaced = append(res.Replaced, path.String())
			return pn
		}
	case record.KindSection:
		mergeSection(on.Section(), pn.Section(), path, res)
	case record.KindList:
		mergeList(on, pn, path, res)
	}
	return nil
}

func mergeList(on, pn *record.Node, path record.Path, res *Result) {
	items := on.List()
	for i, pitem := range pn.List() {
		itemPath := path.Index(i)
		if i >= len(items) {
			res.Misaligned = append(res.Misaligned, Misalignment{
				Path:   itemPath.String(),
				Reason: fmt.Sprintf("patch has %d elements, original has %d", len(pn.List()), len(items)),
			})
			continue
		}
		if reason := identityConflict(items[i], pitem); reason != "" {
			res.Misaligned = append(res.Misaligned, Misalignment{Path: itemPath.String(), Reason: reason})
			continue
		}
		if replacement := mergeNode(items[i], pitem, itemPath, res); replacement != nil {
			items[i] = replacement
		}
	}
	on.SetList(items)
}

// identityConflict compares the "name" of two list elements. Elements are merged
// positionally, so a differing name means the oracle reordered or dropped entries.
func identityConflict(on, pn *record.Node) string {
	if on.Kind() != record.KindSection || pn.Kind() != record.KindSection {
		return ""
	}
	oname, _ := on.Section().Value("name").(string)
	pname, _ := pn.Section().Value("name").(string)
	oname, pname = strings.TrimSpace(oname), strings.TrimSpace(pname)
	if oname == "" || pname == "" || strings.EqualFold(oname, pname) {
		return ""
	}
	return fmt.Sprintf("element name %q does not match original %q", pname, oname)
}

func improves(orig, patch *record.Field) bool {
	if patch.Confidence.Rank() > orig.Confidence.Rank() {
		return true
	}
	return !orig.HasValue() && patch.HasValue()
}
