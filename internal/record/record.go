// SPDX-License-Identifier: Apache-2.0

// Package record models the structured extraction record produced by the oracle.
//
// A record is a tree of Nodes. Every JSON object carrying a "value" key is a Field;
// every other object is a Section; arrays are Lists; everything else is a Scalar.
// That single structural test is applied by the decoder, so every consumer can switch
// on Node.Kind instead of probing map keys.
package record

// Confidence is the oracle's self-reported certainty for an extracted value.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Valid reports whether c is one of the three recognised labels.
func (c Confidence) Valid() bool {
	switch c {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Rank orders confidence labels: high=3, medium=2, low=1. Anything else ranks 0.
func (c Confidence) Rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	}
	return 0
}

// MissingReason explains why a field has no value.
type MissingReason string

const (
	NotReported      MissingReason = "not_reported"
	ExplicitlyAbsent MissingReason = "explicitly_absent"
	NotApplicable    MissingReason = "not_applicable"
	Unclear          MissingReason = "unclear"
)

// MissingReasons lists every valid reason in reporting order.
var MissingReasons = []MissingReason{NotReported, ExplicitlyAbsent, NotApplicable, Unclear}

func (r MissingReason) Valid() bool {
	for _, v := range MissingReasons {
		if r == v {
			return true
		}
	}
	return false
}

// SourceLocation is a quote grounded on a document page. Coordinates are normalized
// to [0,1] relative to the page width and height.
type SourceLocation struct {
	Page int     `json:"page"`
	X0   float64 `json:"x0"`
	Y0   float64 `json:"y0"`
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	Text string  `json:"text"`
}

// Field is the smallest extracted unit.
type Field struct {
	// Value is nil when the field is missing. Otherwise it holds a string,
	// json.Number, bool, or a plain map/slice when the oracle returned structure.
	Value           any
	Confidence      Confidence
	MissingReason   MissingReason
	Quotes          []string
	SourceLocations []SourceLocation
	// Extra keeps any keys the oracle attached beyond the field contract.
	Extra *Section
}

// HasValue reports whether the field carries a value.
func (f *Field) HasValue() bool {
	return f != nil && f.Value != nil
}

// Kind tags the variant held by a Node.
type Kind uint8

const (
	KindScalar Kind = iota
	KindField
	KindSection
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindSection:
		return "section"
	case KindList:
		return "list"
	}
	return "scalar"
}

// Node is one position in the record tree.
type Node struct {
	kind    Kind
	scalar  any
	field   *Field
	section *Section
	list    []*Node
}

func ScalarNode(v any) *Node { return &Node{kind: KindScalar, scalar: v} }
func FieldNode(f *Field) *Node { return &Node{kind: KindField, field: f} }
func SectionNode(s *Section) *Node { return &Node{kind: KindSection, section: s} }
func ListNode(items ...*Node) *Node { return &Node{kind: KindList, list: items} }
func (n *Node) Kind() Kind { return n.kind }
func (n *Node) Scalar() any { return n.scalar }
func (n *Node) Field() *Field { return n.field }
func (n *Node) Section() *Section { return n.section }
func (n *Node) List() []*Node { return n.list }
func (n *Node) SetList(items []*Node) { n.list = items }

// Section is an ordered set of named nodes.
type Section struct {
	keys  []string
	nodes map[string]*Node
}

func NewSection() *Section {
	return &Section{nodes: make(map[string]*Node)}
}

// Keys returns the section keys in insertion order.
func (s *Section) Keys() []string {
	if s == nil {
		return nil
	}
	return s.keys
}

func (s *Section) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

func (s *Section) Get(key string) (*Node, bool) {
	if s == nil {
		return nil, false
	}
	n, ok := s.nodes[key]
	return n, ok
}

// Set stores n under key. A new key is appended; an existing key keeps its position.
func (s *Section) Set(key string, n *Node) {
	if s.nodes == nil {
		s.nodes = make(map[string]*Node)
	}
	if _, ok := s.nodes[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.nodes[key] = n
}

func (s *Section) Delete(key string) {
	if _, ok := s.nodes[key]; !ok {
		return
	}
	delete(s.nodes, key)
	for i, k := range s.keys {
		if k == key {
			s.keys = append(s.keys[:i], s.keys[i+1:]...)
			break
		}
	}
}

// Field returns the field stored under key, or nil.
func (s *Section) Field(key string) *Field {
	n, ok := s.Get(key)
	if !ok || n.kind != KindField {
		return nil
	}
	return n.field
}

// Value returns the raw value under key whether it is a Field or a bare scalar.
// Older oracle output sometimes flattens fields to plain values.
func (s *Section) Value(key string) any {
	n, ok := s.Get(key)
	if !ok {
		return nil
	}
	switch n.kind {
	case KindField:
		return n.field.Value
	case KindScalar:
		return n.scalar
	}
	return nil
}

// Quotes returns the section-level quotes, if the section carries a "quotes" list.
func (s *Section) Quotes() []string {
	n, ok := s.Get(KeyQuotes)
	if !ok {
		return nil
	}
	return stringsOf(n)
}

// SetSourceLocations stores grounded locations for section-level quotes.
func (s *Section) SetSourceLocations(locs []SourceLocation) {
	items := make([]*Node, len(locs))
	for i, loc := range locs {
		items[i] = ScalarNode(loc)
	}
	s.Set(KeySourceLocations, ListNode(items...))
}

// SourceLocations returns the section-level grounded locations.
func (s *Section) SourceLocations() []SourceLocation {
	n, ok := s.Get(KeySourceLocations)
	if !ok || n.kind != KindList {
		return nil
	}
	var out []SourceLocation
	for _, item := range n.list {
		if loc, ok := item.scalar.(SourceLocation); ok {
			out = append(out, loc)
		}
	}
	return out
}

// Reserved keys with contract meaning inside fields and sections.
const (
	KeyValue           = "value"
	KeyConfidence      = "confidence"
	KeyMissingReason   = "missing_reason"
	KeyQuotes          = "quotes"
	KeySourceLocations = "source_locations"
	KeyError           = "error"
	KeyRawText         = "raw_text"
)

// Record is a whole extraction: the root section of the tree.
type Record struct {
	Root *Section
}

func New() *Record {
	return &Record{Root: NewSection()}
}

// Section returns the top-level section named key, or nil.
func (r *Record) Section(key string) *Section {
	n, ok := r.Root.Get(key)
	if !ok || n.kind != KindSection {
		return nil
	}
	return n.section
}

// Sections returns the top-level list named key. A single section is returned as a
// one-element slice; anything else yields nil.
func (r *Record) Sections(key string) []*Section {
	n, ok := r.Root.Get(key)
	if !ok {
		return nil
	}
	switch n.kind {
	case KindSection:
		return []*Section{n.section}
	case KindList:
		var out []*Section
		for _, item := range n.list {
			if item.kind == KindSection {
				out = append(out, item.section)
			}
		}
		return out
	}
	return nil
}

// Degraded reports whether the record stands in for an unparseable oracle response.
func (r *Record) Degraded() bool {
	_, hasErr := r.Root.Get(KeyError)
	_, hasRaw := r.Root.Get(KeyRawText)
	return hasErr && hasRaw
}

func stringsOf(n *Node) []string {
	switch n.kind {
	case KindScalar:
		if s, ok := n.scalar.(string); ok {
			return []string{s}
		}
	case KindList:
		out := make([]string, 0, len(n.list))
		for _, item := range n.list {
			if s, ok := item.scalar.(string); ok && item.kind == KindScalar {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
