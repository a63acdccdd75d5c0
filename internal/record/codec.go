// SPDX-License-Identifier: Apache-2.0

package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Decode parses a JSON object into a Record, preserving key order.
func Decode(data []byte) (*Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	root, err := decodeNode(dec, "")
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing data after top-level object")
	}
	if root.kind != KindSection {
		return nil, fmt.Errorf("top-level JSON value must be an object without a %q key, got %s", KeyValue, root.kind)
	}
	return &Record{Root: root.section}, nil
}

// FromPlain builds a Record from an already-decoded JSON value such as a
// map[string]any. Map keys are ordered lexically since maps carry no order.
func FromPlain(v map[string]any) (*Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return Decode(data)
}

func decodeNode(dec *json.Decoder, key string) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return ScalarNode(tok), nil
	}
	switch delim {
	case '{':
		return decodeObject(dec)
	case '[':
		var items []*Node
		for dec.More() {
			item, err := decodeNode(dec, "")
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		if key == KeySourceLocations {
			return locationList(items), nil
		}
		return &Node{kind: KindList, list: items}, nil
	}
	return nil, fmt.Errorf("unexpected delimiter %q", delim)
}

func decodeObject(dec *json.Decoder) (*Node, error) {
	sec := NewSection()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key must be a string, got %T", tok)
		}
		child, err := decodeNode(dec, key)
		if err != nil {
			return nil, err
		}
		sec.Set(key, child)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, ok := sec.Get(KeyValue); ok {
		return FieldNode(fieldFromSection(sec)), nil
	}
	return SectionNode(sec), nil
}

func fieldFromSection(sec *Section) *Field {
	f := &Field{}
	for _, key := range sec.Keys() {
		n, _ := sec.Get(key)
		switch key {
		case KeyValue:
			f.Value = Plain(n)
		case KeyConfidence:
			f.Confidence = Confidence(labelOf(n))
		case KeyMissingReason:
			f.MissingReason = MissingReason(labelOf(n))
		case KeyQuotes:
			f.Quotes = stringsOf(n)
		case KeySourceLocations:
			f.SourceLocations = locationsOf(n)
		default:
			if f.Extra == nil {
				f.Extra = NewSection()
			}
			f.Extra.Set(key, n)
		}
	}
	return f
}

// labelOf renders a confidence/missing-reason node as a string. Non-string
// scalars keep their text so the normalizer can reject them; null becomes "".
func labelOf(n *Node) string {
	if n.kind != KindScalar || n.scalar == nil {
		return ""
	}
	if s, ok := n.scalar.(string); ok {
		return s
	}
	return fmt.Sprint(n.scalar)
}

func locationList(items []*Node) *Node {
	out := make([]*Node, 0, len(items))
	for _, item := range items {
		if loc, ok := locationOf(item); ok {
			out = append(out, ScalarNode(loc))
		}
	}
	return &Node{kind: KindList, list: out}
}

func locationsOf(n *Node) []SourceLocation {
	if n.kind != KindList {
		return nil
	}
	locs := make([]SourceLocation, 0, len(n.list))
	for _, item := range n.list {
		if loc, ok := item.scalar.(SourceLocation); ok {
			locs = append(locs, loc)
		}
	}
	return locs
}

func locationOf(n *Node) (SourceLocation, bool) {
	if n.kind != KindSection {
		return SourceLocation{}, false
	}
	data, err := json.Marshal(Plain(n))
	if err != nil {
		return SourceLocation{}, false
	}
	var loc SourceLocation
	if err := json.Unmarshal(data, &loc); err != nil {
		return SourceLocation{}, false
	}
	return loc, true
}

// Plain converts a node into ordinary Go values (map[string]any, []any, scalars).
func Plain(n *Node) any {
	if n == nil {
		return nil
	}
	switch n.kind {
	case KindField:
		return fieldPlain(n.field)
	case KindSection:
		return sectionPlain(n.section)
	case KindList:
		out := make([]any, len(n.list))
		for i, item := range n.list {
			out[i] = Plain(item)
		}
		return out
	}
	if loc, ok := n.scalar.(SourceLocation); ok {
		return map[string]any{
			"page": loc.Page, "x0": loc.X0, "y0": loc.Y0, "x1": loc.X1, "y1": loc.Y1, "text": loc.Text,
		}
	}
	return n.scalar
}

func sectionPlain(s *Section) map[string]any {
	out := make(map[string]any, s.Len())
	for _, key := range s.Keys() {
		n, _ := s.Get(key)
		out[key] = Plain(n)
	}
	return out
}

func fieldPlain(f *Field) map[string]any {
	out := map[string]any{
		KeyValue:         f.Value,
		KeyConfidence:    nullable(string(f.Confidence)),
		KeyMissingReason: nullable(string(f.MissingReason)),
	}
	if f.Quotes != nil {
		out[KeyQuotes] = f.Quotes
	}
	if f.SourceLocations != nil {
		items := make([]any, len(f.SourceLocations))
		for i, loc := range f.SourceLocations {
			items[i] = Plain(ScalarNode(loc))
		}
		out[KeySourceLocations] = items
	}
	if f.Extra != nil {
		for k, v := range sectionPlain(f.Extra) {
			out[k] = v
		}
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ToMap returns the record as a plain JSON-compatible map.
func (r *Record) ToMap() map[string]any {
	return sectionPlain(r.Root)
}

// MarshalJSON encodes the record with its original key order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeSection(&buf, r.Root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes through Decode so the structural rules apply.
func (r *Record) UnmarshalJSON(data []byte) error {
	rec, err := Decode(data)
	if err != nil {
		return err
	}
	*r = *rec
	return nil
}

func writeNode(buf *bytes.Buffer, n *Node) error {
	switch n.kind {
	case KindField:
		return writeField(buf, n.field)
	case KindSection:
		return writeSection(buf, n.section)
	case KindList:
		buf.WriteByte('[')
		for i, item := range n.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	}
	return writeValue(buf, n.scalar)
}

func writeSection(buf *bytes.Buffer, s *Section) error {
	buf.WriteByte('{')
	for i, key := range s.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		n, _ := s.Get(key)
		if err := writeNode(buf, n); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeField(buf *bytes.Buffer, f *Field) error {
	type kv struct {
		key string
		val any
	}
	pairs := []kv{
		{KeyValue, f.Value},
		{KeyConfidence, nullable(string(f.Confidence))},
		{KeyMissingReason, nullable(string(f.MissingReason))},
	}
	if f.Quotes != nil {
		pairs = append(pairs, kv{KeyQuotes, f.Quotes})
	}
	if f.SourceLocations != nil {
		pairs = append(pairs, kv{KeySourceLocations, f.SourceLocations})
	}

	buf.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, p.key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := writeValue(buf, p.val); err != nil {
			return err
		}
	}
	for _, key := range f.Extra.Keys() {
		buf.WriteByte(',')
		if err := writeValue(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		n, _ := f.Extra.Get(key)
		if err := writeNode(buf, n); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	buf.Write(data)
	return nil
}

// ParseError is returned when oracle text cannot be read as a JSON object.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse oracle response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StripFences removes a surrounding markdown code fence. A ```json fence wins over
// a plain ``` fence; an unclosed fence keeps everything after the opening marker.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		body := text[start+len(marker):]
		if end := strings.Index(body, "```"); end >= 0 {
			body = body[:end]
		}
		return strings.TrimSpace(body)
	}
	return text
}

// ParseResponse decodes oracle text into a Record.
func ParseResponse(text string) (*Record, error) {
	body := StripFences(text)
	rec, err := Decode([]byte(body))
	if err != nil {
		return nil, &ParseError{Raw: body, Err: err}
	}
	return rec, nil
}

// ParseOrDegrade always returns a usable record. When the text cannot be parsed the
// record has the shape {"error": ..., "raw_text": ...} and the ParseError is returned
// alongside so callers can surface a retry decision.
func ParseOrDegrade(text string) (*Record, *ParseError) {
	rec, err := ParseResponse(text)
	if err == nil {
		return rec, nil
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		perr = &ParseError{Raw: text, Err: err}
	}
	return Degraded(perr), perr
}

// Degraded builds the stand-in record for an unparseable response.
func Degraded(perr *ParseError) *Record {
	rec := New()
	rec.Root.Set(KeyError, ScalarNode("failed to parse response"))
	rec.Root.Set(KeyRawText, ScalarNode(perr.Raw))
	return rec
}

// SortedKeys returns the keys of m in lexical order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
