// SPDX-License-Identifier: Apache-2.0

package grade

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/locate"
	"github.com/gemaraproj/evidence-mcp/internal/oracle"
	"github.com/gemaraproj/evidence-mcp/internal/record"
)

const (
	unparsedRationale = "Could not parse AI response"
	unknownOutcome    = "Unknown Outcome"
	gradeMaxTokens    = 4096
)

// Assessment is the GRADE result for one outcome.
type Assessment struct {
	OutcomeName      string                   `json:"outcome_name"`
	Domains          map[string]DomainRating  `json:"domains"`
	Upgrades         map[string]UpgradeFactor `json:"upgrades"`
	Overall          Level                    `json:"overall_certainty"`
	Rationale        string                   `json:"overall_rationale"`
	PromptTokens     int                      `json:"prompt_tokens"`
	CompletionTokens int                      `json:"completion_tokens"`
}

// Assessor asks the oracle for per-domain judgments and computes the overall level.
type Assessor struct {
	oracle      oracle.Oracle
	locator     *locate.Locator
	logger      *zap.Logger
	references  []oracle.Reference
	concurrency int
}

// AssessorOption configures an Assessor.
type AssessorOption func(*Assessor)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AssessorOption {
	return func(a *Assessor) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithReferences adds methodology material sent with every call.
func WithReferences(refs ...oracle.Reference) AssessorOption {
	return func(a *Assessor) {
		a.references = append(a.references, refs...)
	}
}

// WithConcurrency bounds the number of in-flight oracle calls per outcome.
func WithConcurrency(n int) AssessorOption {
	return func(a *Assessor) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// NewAssessor creates an Assessor. A nil locator disables quote grounding.
func NewAssessor(o oracle.Oracle, l *locate.Locator, opts ...AssessorOption) *Assessor {
	a := &Assessor{
		oracle:      o,
		locator:     l,
		logger:      zap.NewNop(),
		concurrency: len(Domains) + 1,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AssessAll assesses every outcome named in rec. A record without outcomes
// yields no assessments.
func (a *Assessor) AssessAll(ctx context.Context, doc *document.Document, rec *record.Record) ([]Assessment, error) {
	design := StudyDesign(rec)
	outcomes := rec.Sections("outcomes")
	if len(outcomes) == 0 {
		a.logger.Warn("no outcomes found in extraction")
		return []Assessment{}, nil
	}

	assessments := make([]Assessment, 0, len(outcomes))
	for _, o := range outcomes {
		name := unknownOutcome
		if s, ok := o.Value("name").(string); ok && s != "" {
			name = s
		}
		assessment, err := a.Assess(ctx, doc, design, name)
		if err != nil {
			return nil, fmt.Errorf("assessing outcome %q: %w", name, err)
		}
		assessments = append(assessments, assessment)
	}
	return assessments, nil
}

// StudyDesign returns study_design.type as text, or "".
func StudyDesign(rec *record.Record) string {
	sd := rec.Section("study_design")
	if sd == nil {
		return ""
	}
	switch v := sd.Value("type").(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Assess runs one oracle call per downgrade domain and one for the upgrade
// factors. Unparseable answers degrade to no concern; transport errors fail
// the assessment.
func (a *Assessor) Assess(ctx context.Context, doc *document.Document, design, outcome string) (Assessment, error) {
	refs := a.references
	if doc != nil {
		refs = append(append([]oracle.Reference(nil), refs...), oracle.Reference{Name: doc.ID, Text: doc.Text()})
	}

	domainResults := make([]DomainRating, len(Domains))
	responses := make([]oracle.Response, len(Domains)+1)
	var upgrades map[string]UpgradeFactor

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, domain := range Domains {
		g.Go(func() error {
			prompt, ok := oracle.GradeDomainPrompt(domain, outcome)
			if !ok {
				return fmt.Errorf("domain %s: no prompt defined", domain)
			}
			resp, err := a.call(gctx, refs, prompt)
			if err != nil {
				return fmt.Errorf("domain %s: %w", domain, err)
			}
			responses[i] = resp
			domainResults[i] = a.parseDomain(domain, resp.Text)
			a.groundDomain(doc, &domainResults[i])
			return nil
		})
	}
	g.Go(func() error {
		resp, err := a.call(gctx, refs, oracle.GradeUpgradePrompt(outcome))
		if err != nil {
			return fmt.Errorf("upgrade factors: %w", err)
		}
		responses[len(Domains)] = resp
		upgrades = a.parseUpgrades(resp.Text)
		for name, u := range upgrades {
			u.SourceLocations = a.ground(doc, u.Quotes)
			upgrades[name] = u
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Assessment{}, err
	}

	domains := make(map[string]DomainRating, len(Domains))
	for i, name := range Domains {
		domains[name] = domainResults[i]
	}
	overall := Compute(design, domains, upgrades)

	out := Assessment{
		OutcomeName: outcome,
		Domains:     domains,
		Upgrades:    upgrades,
		Overall:     overall,
		Rationale:   Rationale(domains, upgrades, overall),
	}
	for _, r := range responses {
		out.PromptTokens += r.PromptTokens
		out.CompletionTokens += r.CompletionTokens
	}
	a.logger.Debug("grade assessment complete",
		zap.String("outcome", outcome),
		zap.Stringer("certainty", overall),
	)
	return out, nil
}

func (a *Assessor) call(ctx context.Context, refs []oracle.Reference, prompt string) (oracle.Response, error) {
	return a.oracle.Call(ctx, oracle.Request{
		SystemPrompt: oracle.GradeSystemPrompt,
		UserPrompt:   prompt,
		References:   refs,
		MaxTokens:    gradeMaxTokens,
	})
}

// parseDomain reads a domain answer. Keys other than rating, rationale and
// quotes are kept as details.
func (a *Assessor) parseDomain(domain, text string) DomainRating {
	var raw map[string]any
	if err := json.Unmarshal([]byte(record.StripFences(text)), &raw); err != nil {
		a.logger.Warn("failed to parse GRADE domain response",
			zap.String("domain", domain),
			zap.String("snippet", snippet(text)),
			zap.Error(err),
		)
		return DomainRating{Rating: NoSerious, Rationale: unparsedRationale, Quotes: []string{}}
	}

	d := DomainRating{Rating: NoSerious, Quotes: stringList(raw["quotes"])}
	if r, ok := raw["rating"].(string); ok && r != "" {
		d.Rating = Rating(r)
	}
	d.Rationale, _ = raw["rationale"].(string)
	for k, v := range raw {
		switch k {
		case "rating", "rationale", "quotes":
			continue
		}
		if d.Details == nil {
			d.Details = map[string]any{}
		}
		d.Details[k] = v
	}
	return d
}

// parseUpgrades reads the upgrade answer. An unparseable answer means no
// factor applies.
func (a *Assessor) parseUpgrades(text string) map[string]UpgradeFactor {
	out := make(map[string]UpgradeFactor, len(UpgradeFactors))
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(record.StripFences(text)), &raw); err != nil {
		a.logger.Warn("failed to parse GRADE upgrade response", zap.String("snippet", snippet(text)), zap.Error(err))
		raw = nil
	}
	for _, name := range UpgradeFactors {
		u := UpgradeFactor{Quotes: []string{}}
		if msg, ok := raw[name]; ok {
			var parsed struct {
				Applicable bool     `json:"applicable"`
				Rationale  string   `json:"rationale"`
				Quotes     []string `json:"quotes"`
			}
			if err := json.Unmarshal(msg, &parsed); err == nil {
				u.Applicable, u.Rationale = parsed.Applicable, parsed.Rationale
				if parsed.Quotes != nil {
					u.Quotes = parsed.Quotes
				}
			}
		}
		out[name] = u
	}
	return out
}

func (a *Assessor) groundDomain(doc *document.Document, d *DomainRating) {
	d.SourceLocations = a.ground(doc, d.Quotes)
}

func (a *Assessor) ground(doc *document.Document, quotes []string) []record.SourceLocation {
	if doc == nil || a.locator == nil || len(quotes) == 0 {
		return nil
	}
	locs := []record.SourceLocation{}
	for _, q := range quotes {
		locs = append(locs, a.locator.Locate(doc, q)...)
	}
	return locs
}

func stringList(v any) []string {
	out := []string{}
	items, _ := v.([]any)
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func snippet(s string) string {
	const n = 200
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}
