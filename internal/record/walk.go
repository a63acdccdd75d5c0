// SPDX-License-Identifier: Apache-2.0

package record

import (
	"strconv"
	"strings"
)

// Segment is one step of a Path: a section key or a list index.
type Segment struct {
	Key   string
	Index int
}

func (s Segment) IsIndex() bool { return s.Key == "" }

// Path addresses a node from the record root.
type Path []Segment

// Key returns p extended with a section key.
func (p Path) Key(key string) Path {
	return append(p[:len(p):len(p)], Segment{Key: key})
}

// Index returns p extended with a list index.
func (p Path) Index(i int) Path {
	return append(p[:len(p):len(p)], Segment{Index: i})
}

// Top returns the top-level section key, or "" for an empty path.
func (p Path) Top() string {
	if len(p) == 0 {
		return ""
	}
	return p[0].Key
}

// String renders the dotted/indexed form, e.g. outcomes[0].ci_lower.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if seg.IsIndex() {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.Key)
	}
	return b.String()
}

// ParsePath reverses Path.String.
func ParsePath(s string) Path {
	var p Path
	for _, part := range strings.Split(s, ".") {
		key := part
		var idx []int
		if open := strings.IndexByte(part, '['); open >= 0 {
			key = part[:open]
			for _, raw := range strings.Split(part[open+1:], "[") {
				n, err := strconv.Atoi(strings.TrimSuffix(raw, "]"))
				if err == nil {
					idx = append(idx, n)
				}
			}
		}
		if key != "" {
			p = p.Key(key)
		}
		for _, n := range idx {
			p = p.Index(n)
		}
	}
	return p
}

// FieldVisitor is called for every Field in a walk.
type FieldVisitor func(path Path, f *Field)

// SectionVisitor is called for every Section in a walk, including the root.
type SectionVisitor func(path Path, s *Section)

// WalkFields visits every Field in the record in document order. The contract keys
// "quotes" and "source_locations" are never descended into.
func (r *Record) WalkFields(fn FieldVisitor) {
	Walk(r.Root, nil, fn, nil)
}

// WalkSections visits every Section in the record in document order.
func (r *Record) WalkSections(fn SectionVisitor) {
	Walk(r.Root, nil, nil, fn)
}

// Walk traverses s rooted at path. Either visitor may be nil.
func Walk(s *Section, path Path, onField FieldVisitor, onSection SectionVisitor) {
	if onSection != nil {
		onSection(path, s)
	}
	for _, key := range s.Keys() {
		if key == KeyQuotes || key == KeySourceLocations {
			continue
		}
		n, _ := s.Get(key)
		walkNode(n, path.Key(key), onField, onSection)
	}
}

func walkNode(n *Node, path Path, onField FieldVisitor, onSection SectionVisitor) {
	switch n.kind {
	case KindField:
		if onField != nil {
			onField(path, n.field)
		}
	case KindSection:
		Walk(n.section, path, onField, onSection)
	case KindList:
		for i, item := range n.list {
			walkNode(item, path.Index(i), onField, onSection)
		}
	}
}

// Lookup resolves a path to a node.
func (r *Record) Lookup(p Path) (*Node, bool) {
	cur := SectionNode(r.Root)
	for _, seg := range p {
		switch {
		case seg.IsIndex():
			if cur.kind != KindList || seg.Index < 0 || seg.Index >= len(cur.list) {
				return nil, false
			}
			cur = cur.list[seg.Index]
		case cur.kind == KindSection:
			next, ok := cur.section.Get(seg.Key)
			if !ok {
				return nil, false
			}
			cur = next
		default:
			return nil, false
		}
	}
	return cur, true
}
