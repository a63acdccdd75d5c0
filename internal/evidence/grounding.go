// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/locate"
	"github.com/gemaraproj/evidence-mcp/internal/record"
)

// ground locates every distinct quote once and attaches the locations to the
// fields and sections that cite it.
func (p *Pipeline) ground(ctx context.Context, doc *document.Document, rec *record.Record) (GroundingStats, error) {
	var stats GroundingStats
	if p.locator == nil || rec.Degraded() {
		return stats, nil
	}

	var quotes []string
	index := map[string]int{}
	collect := func(qs []string) {
		for _, q := range qs {
			if _, ok := index[q]; !ok {
				index[q] = len(quotes)
				quotes = append(quotes, q)
			}
		}
	}
	rec.WalkFields(func(_ record.Path, f *record.Field) { collect(f.Quotes) })
	rec.WalkSections(func(_ record.Path, s *record.Section) { collect(s.Quotes()) })
	if len(quotes) == 0 {
		return stats, nil
	}

	matches := make([]locate.Match, len(quotes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.groundingConcurrency)
	for i, q := range quotes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			matches[i] = p.locator.LocateWithMeta(doc, q)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}

	for _, m := range matches {
		p.metrics.ObserveGrounding(string(m.Method))
		switch m.Method {
		case locate.MethodExact:
			stats.Exact++
		case locate.MethodFuzzy:
			stats.Fuzzy++
		default:
			stats.None++
		}
	}

	locationsFor := func(qs []string) []record.SourceLocation {
		locs := []record.SourceLocation{}
		for _, q := range qs {
			locs = append(locs, matches[index[q]].Locations...)
		}
		return locs
	}
	rec.WalkFields(func(_ record.Path, f *record.Field) {
		if len(f.Quotes) > 0 {
			f.SourceLocations = locationsFor(f.Quotes)
		}
	})
	rec.WalkSections(func(_ record.Path, s *record.Section) {
		if qs := s.Quotes(); len(qs) > 0 {
			s.SetSourceLocations(locationsFor(qs))
		}
	})
	return stats, nil
}
