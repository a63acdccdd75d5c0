// SPDX-License-Identifier: Apache-2.0

// Package locate grounds quotes in a paginated document, returning normalized
// bounding boxes for where each quote occurs.
package locate

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/record"
)

// DefaultFuzzyThreshold is the minimum similarity ratio for a fuzzy match.
const DefaultFuzzyThreshold = 0.85

// Method reports how a quote was located.
type Method string

const (
	MethodExact Method = "exact"
	MethodFuzzy Method = "fuzzy"
	MethodNone  Method = "none"
)

// Match is the outcome of a lookup.
type Match struct {
	Locations []record.SourceLocation
	Method    Method
	// Score is the similarity of a fuzzy match, 1 for exact and 0 for none.
	Score float64
}

// Option configures a Locator.
type Option func(*Locator)

// WithFuzzyThreshold sets the fuzzy acceptance threshold. Values outside (0,1]
// are ignored.
func WithFuzzyThreshold(threshold float64) Option {
	return func(l *Locator) {
		if threshold > 0 && threshold <= 1 {
			l.threshold = threshold
		}
	}
}

// Locator is stateless apart from its configuration and safe for concurrent use.
type Locator struct {
	threshold float64
}

// New creates a Locator.
func New(opts ...Option) *Locator {
	l := &Locator{threshold: DefaultFuzzyThreshold}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Threshold returns the fuzzy acceptance threshold in use.
func (l *Locator) Threshold() float64 {
	return l.threshold
}

// Locate returns where quote occurs in doc. A quote that cannot be grounded
// yields an empty, non-nil slice.
func (l *Locator) Locate(doc *document.Document, quote string) []record.SourceLocation {
	return l.LocateWithMeta(doc, quote).Locations
}

// LocateWithMeta is Locate that also reports the method used.
//
// Exact matches take precedence: the first page holding the quote verbatim
// returns every occurrence on it. Otherwise the first page whose best fuzzy
// window reaches the threshold returns one location.
func (l *Locator) LocateWithMeta(doc *document.Document, quote string) Match {
	none := Match{Locations: []record.SourceLocation{}, Method: MethodNone}
	if doc == nil || strings.TrimSpace(quote) == "" {
		return none
	}

	for i := range doc.Pages {
		p := &doc.Pages[i]
		if !strings.Contains(p.Text, quote) {
			continue
		}
		// A verbatim hit pins the page even when it cannot be boxed.
		if !usable(p) {
			return none
		}
		return Match{Locations: exactOnPage(p, quote), Method: MethodExact, Score: 1}
	}

	for i := range doc.Pages {
		if loc, score, ok := l.fuzzyOnPage(&doc.Pages[i], quote); ok {
			return Match{Locations: []record.SourceLocation{loc}, Method: MethodFuzzy, Score: score}
		}
	}
	return none
}

// span is a half-open rune range in page text.
type span struct {
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// exactOnPage boxes every hit of quote on p. A hit no word overlaps is boxed
// as the whole page.
func exactOnPage(p *document.Page, quote string) []record.SourceLocation {
	spans := wordSpans(p)
	quoteRunes := utf8.RuneCountInString(quote)

	var locs []record.SourceLocation
	offset, runeOffset := 0, 0
	for {
		idx := strings.Index(p.Text[offset:], quote)
		if idx < 0 {
			break
		}
		runeOffset += utf8.RuneCountInString(p.Text[offset : offset+idx])
		hit := span{start: runeOffset, end: runeOffset + quoteRunes}
		loc, ok := boxFor(p, spans, hit, quote)
		if !ok {
			loc = record.SourceLocation{Page: p.Number, X1: 1, Y1: 1, Text: quote}
		}
		locs = append(locs, loc)
		offset += idx + len(quote)
		runeOffset = hit.end
	}
	return locs
}

func (l *Locator) fuzzyOnPage(p *document.Page, quote string) (record.SourceLocation, float64, bool) {
	if !usable(p) {
		return record.SourceLocation{}, 0, false
	}
	original := []rune(p.Text)
	pageSeq := lowerRunes(original)
	quoteSeq := lowerRunes([]rune(quote))
	n := len(quoteSeq)
	if len(pageSeq) < n {
		return record.SourceLocation{}, 0, false
	}

	// Quote first, window second: both the matching blocks and autojunk
	// depend on argument order.
	m := difflib.NewMatcher(quoteSeq, nil)
	stride := max(1, n/10)
	best, bestPos := 0.0, -1
	for i := 0; i+n <= len(pageSeq); i += stride {
		m.SetSeq2(pageSeq[i : i+n])
		if m.QuickRatio() <= best {
			continue
		}
		if ratio := m.Ratio(); ratio > best {
			best, bestPos = ratio, i
		}
	}
	if bestPos < 0 || best < l.threshold {
		return record.SourceLocation{}, best, false
	}

	hit := span{start: bestPos, end: bestPos + n}
	loc, ok := boxFor(p, wordSpans(p), hit, string(original[hit.start:hit.end]))
	return loc, best, ok
}

// wordSpans recovers each word's rune range by scanning the page text for the
// words in order. Words that cannot be found keep a zero span.
func wordSpans(p *document.Page) []span {
	spans := make([]span, len(p.Words))
	cursor := 0
	text := p.Text
	runeCursor := 0
	for i, w := range p.Words {
		if w.Text == "" {
			continue
		}
		idx := strings.Index(text[cursor:], w.Text)
		if idx < 0 {
			continue
		}
		start := runeCursor + utf8.RuneCountInString(text[cursor:cursor+idx])
		end := start + utf8.RuneCountInString(w.Text)
		spans[i] = span{start: start, end: end}
		cursor += idx + len(w.Text)
		runeCursor = end
	}
	return spans
}

// boxFor unions the boxes of every word overlapping hit and normalizes the
// result by page size.
func boxFor(p *document.Page, spans []span, hit span, text string) (record.SourceLocation, bool) {
	x0, y0 := math.Inf(1), math.Inf(1)
	x1, y1 := math.Inf(-1), math.Inf(-1)
	found := false
	for i, s := range spans {
		if s.end == 0 || !s.overlaps(hit) {
			continue
		}
		w := p.Words[i]
		x0, y0 = math.Min(x0, w.X0), math.Min(y0, w.Y0)
		x1, y1 = math.Max(x1, w.X1), math.Max(y1, w.Y1)
		found = true
	}
	if !found {
		return record.SourceLocation{}, false
	}
	return record.SourceLocation{
		Page: p.Number,
		X0:   normalize(x0, p.Width),
		Y0:   normalize(y0, p.Height),
		X1:   normalize(x1, p.Width),
		Y1:   normalize(y1, p.Height),
		Text: text,
	}, true
}

func normalize(v, size float64) float64 {
	r := v / size
	r = math.Max(0, math.Min(1, r))
	return math.Round(r*10000) / 10000
}

func usable(p *document.Page) bool {
	return p.Width > 0 && p.Height > 0 && p.Text != ""
}

// lowerRunes lower-cases rune by rune, keeping offsets aligned with the input.
func lowerRunes(rs []rune) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(unicode.ToLower(r))
	}
	return out
}
