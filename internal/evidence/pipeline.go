// SPDX-License-Identifier: Apache-2.0

package evidence

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/gemaraproj/evidence-mcp/internal/completeness"
	"github.com/gemaraproj/evidence-mcp/internal/consistency"
	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/examples"
	"github.com/gemaraproj/evidence-mcp/internal/locate"
	"github.com/gemaraproj/evidence-mcp/internal/metrics"
	"github.com/gemaraproj/evidence-mcp/internal/normalize"
	"github.com/gemaraproj/evidence-mcp/internal/oracle"
	"github.com/gemaraproj/evidence-mcp/internal/record"
	"github.com/gemaraproj/evidence-mcp/internal/verify"
)

// DefaultGroundingConcurrency bounds parallel quote lookups.
const DefaultGroundingConcurrency = 8

type Pipeline struct {
	loaders              *document.Registry
	extractor            oracle.Oracle
	verifier             oracle.Oracle
	locator              *locate.Locator
	selector             *examples.Selector
	metrics              *metrics.Metrics
	logger               *zap.Logger
	threshold            float64
	groundingConcurrency int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLoaders sets the document loaders used by Run.
func WithLoaders(loaders ...document.Loader) Option {
	return func(p *Pipeline) { p.loaders = document.NewRegistry(loaders...) }
}

// WithLocator sets the locator. A nil locator disables grounding.
func WithLocator(l *locate.Locator) Option {
	return func(p *Pipeline) { p.locator = l }
}

// WithSelector enables few-shot example selection.
func WithSelector(s *examples.Selector) Option {
	return func(p *Pipeline) { p.selector = s }
}

// WithMetrics records run and oracle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithVerificationThreshold sets the low-or-missing ratio above which a second
// pass runs.
func WithVerificationThreshold(t float64) Option {
	return func(p *Pipeline) {
		if t >= 0 && t <= 1 {
			p.threshold = t
		}
	}
}

// WithGroundingConcurrency bounds parallel quote lookups.
func WithGroundingConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.groundingConcurrency = n
		}
	}
}

// NewPipeline creates a Pipeline that extracts with o. Without options it
// grounds with the default locator and loads no document formats.
func NewPipeline(o oracle.Oracle, opts ...Option) *Pipeline {
	p := &Pipeline{
		loaders:              document.NewRegistry(),
		locator:              locate.New(),
		logger:               zap.NewNop(),
		threshold:            verify.DefaultThreshold,
		groundingConcurrency: DefaultGroundingConcurrency,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.extractor = p.metrics.InstrumentOracle(o, "extract")
	p.verifier = p.metrics.InstrumentOracle(o, "verify")
	return p
}

// Run loads source and extracts its record.
func (p *Pipeline) Run(ctx context.Context, source document.Source) (*record.Record, error) {
	result, err := p.RunWithMeta(ctx, source, ExtractOptions{})
	if err != nil {
		return nil, err
	}
	return result.Record, nil
}

// RunWithMeta is Run that returns the full Result.
func (p *Pipeline) RunWithMeta(ctx context.Context, source document.Source, opts ExtractOptions) (Result, error) {
	doc, loader, err := p.loaders.Load(ctx, source)
	if err != nil {
		return Result{}, err
	}
	result, err := p.Extract(ctx, doc, opts)
	result.LoaderUsed = loader
	return result, err
}

// RegisteredLoaders returns the names of the configured document loaders.
func (p *Pipeline) RegisteredLoaders() []string {
	return p.loaders.Names()
}

// Extract runs the extraction steps against an already loaded document. Only
// context cancellation and a failed first oracle call are returned as errors;
// an unparseable answer yields a degraded record.
func (p *Pipeline) Extract(ctx context.Context, doc *document.Document, opts ExtractOptions) (Result, error) {
	if doc == nil {
		return Result{}, errors.New("extract: document is nil")
	}
	log := p.logger.With(zap.String("document", doc.ID))
	result := Result{DocumentID: doc.ID, Title: doc.Title}
	ref := oracle.Reference{Name: doc.ID, Text: doc.Text(), Cacheable: true}

	fewShot, used := p.fewShot(ctx, ref.Text, log)
	result.ExamplesUsed = used

	req := oracle.Request{
		SystemPrompt: oracle.ExtractionSystemPrompt,
		UserPrompt:   oracle.ExtractionUserPrompt,
		References:   []oracle.Reference{ref},
		FewShot:      fewShot,
	}
	if len(opts.Template) > 0 {
		req.SystemPrompt = oracle.TemplateExtractionSystemPrompt(opts.Template)
		req.UserPrompt = oracle.TemplateExtractionUserPrompt
	}

	resp, err := p.extractor.Call(ctx, req)
	if err != nil {
		p.metrics.ObserveRun(outcomeError)
		return Result{}, fmt.Errorf("extraction call failed: %w", err)
	}
	result.addUsage(resp)
	result.RawText = resp.Text

	rec, perr := record.ParseOrDegrade(resp.Text)
	if perr != nil {
		log.Warn("extraction response could not be parsed", zap.Error(perr))
		result.ParseError = perr.Error()
	}
	normalize.Record(rec)
	result.Record = rec
	result.Summary = completeness.Analyze(rec)

	if err := p.verify(ctx, &result, ref, log); err != nil {
		p.metrics.ObserveRun(outcomeError)
		return Result{}, err
	}

	stats, err := p.ground(ctx, doc, rec)
	if err != nil {
		p.metrics.ObserveRun(outcomeError)
		return Result{}, err
	}
	result.Grounding = stats

	result.Warnings = consistency.Validate(rec)
	for _, w := range result.Warnings {
		p.metrics.ObserveWarning(w.CheckName, string(w.Severity))
	}
	result.ReviewStatus = verify.ReviewStatus(rec)

	if rec.Degraded() {
		p.metrics.ObserveRun(outcomeDegraded)
	} else {
		p.metrics.ObserveRun(outcomeOK)
	}
	log.Info("extraction complete",
		zap.Int("fields", result.Summary.TotalFields),
		zap.Int("missing", result.Summary.Missing),
		zap.Int("warnings", len(result.Warnings)),
		zap.Bool("verified", result.Verification.Attempted))
	return result, nil
}

// fewShot renders selected examples. Selection failures only cost the examples.
func (p *Pipeline) fewShot(ctx context.Context, text string, log *zap.Logger) (string, []string) {
	if p.selector == nil {
		return "", nil
	}
	selected, err := p.selector.Select(ctx, text)
	if err != nil {
		log.Warn("few-shot selection failed, extracting without examples", zap.Error(err))
		return "", nil
	}
	shots := make([]oracle.FewShotExample, len(selected))
	ids := make([]string, len(selected))
	for i, ex := range selected {
		shots[i] = oracle.FewShotExample{InputText: ex.InputText, ExpectedOutput: ex.ExpectedOutput}
		ids[i] = ex.ID
	}
	return oracle.FewShot(shots), ids
}

// verify runs the targeted second pass when the first is too sparse. Any
// failure other than cancellation keeps the first-pass record.
func (p *Pipeline) verify(ctx context.Context, result *Result, ref oracle.Reference, log *zap.Logger) error {
	if !verify.NeedsSecondPass(result.Summary, p.threshold) {
		p.metrics.ObserveVerification("skipped")
		return nil
	}
	fields := verify.FieldsToVerify(result.Record)
	if len(fields) == 0 {
		p.metrics.ObserveVerification("skipped")
		return nil
	}
	result.Verification = Verification{Attempted: true, Fields: fields}

	initial, err := result.Record.MarshalJSON()
	if err != nil {
		return p.keepUnverified(result, log, fmt.Errorf("encoding initial extraction: %w", err))
	}
	resp, err := p.verifier.Call(ctx, oracle.Request{
		SystemPrompt: oracle.VerificationSystemPrompt,
		UserPrompt:   oracle.VerificationUserPrompt(initial, fields),
		References:   []oracle.Reference{ref},
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.keepUnverified(result, log, fmt.Errorf("verification call failed: %w", err))
	}
	result.addUsage(resp)

	patch, err := record.ParseResponse(resp.Text)
	if err != nil {
		return p.keepUnverified(result, log, err)
	}
	merged := verify.Merge(result.Record, patch)
	result.Summary = merged.Summary
	result.Verification.Replaced = merged.Replaced
	result.Verification.Misaligned = merged.Misaligned
	for _, m := range merged.Misaligned {
		log.Warn("verification patch misaligned", zap.String("path", m.Path), zap.String("reason", m.Reason))
	}
	p.metrics.ObserveVerification("merged")
	return nil
}

func (p *Pipeline) keepUnverified(result *Result, log *zap.Logger, err error) error {
	log.Warn("verification pass failed, keeping first-pass record", zap.Error(err))
	result.Verification.Error = err.Error()
	p.metrics.ObserveVerification("failed")
	return nil
}

func (r *Result) addUsage(resp oracle.Response) {
	r.PromptTokens += resp.PromptTokens
	r.CompletionTokens += resp.CompletionTokens
	if resp.Model != "" {
		r.Model = resp.Model
	}
}
