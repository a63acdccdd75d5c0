// SPDX-License-Identifier: Apache-2.0

package evidence_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/document/parsers"
	"github.com/gemaraproj/evidence-mcp/internal/evidence"
	"github.com/gemaraproj/evidence-mcp/internal/examples"
	"github.com/gemaraproj/evidence-mcp/internal/metrics"
	"github.com/gemaraproj/evidence-mcp/internal/oracle"
	"github.com/gemaraproj/evidence-mcp/internal/verify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const article = "Aspirin and Stroke\nAspirin reduced stroke in adults.\nWe enrolled 100 patients."

const complete = `{
  "population": {
    "sample_size": {"value": 100, "confidence": "high", "missing_reason": null, "quotes": ["We enrolled 100 patients."]}
  },
  "outcomes": [
    {
      "name": {"value": "stroke", "confidence": "high", "quotes": ["Aspirin reduced stroke in adults."]},
      "quotes": ["Aspirin reduced stroke in adults."]
    }
  ]
}`

const sparse = `{
  "population": {
    "sample_size": {"value": 100, "confidence": "high", "quotes": ["We enrolled 100 patients."]}
  },
  "outcomes": [
    {"name": {"value": "stroke", "confidence": "low", "quotes": []}}
  ]
}`

const patch = "```json\n" + `{"outcomes": [{"name": {"value": "stroke", "confidence": "high", "quotes": ["Aspirin reduced stroke in adults."]}}]}` + "\n```"

// scripted answers the extraction and verification calls separately and
// records every request.
type scripted struct {
	mu       sync.Mutex
	extract  func() (oracle.Response, error)
	verify   func() (oracle.Response, error)
	requests []oracle.Request
}

func (s *scripted) Call(_ context.Context, req oracle.Request) (oracle.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if req.SystemPrompt == oracle.VerificationSystemPrompt {
		if s.verify == nil {
			return oracle.Response{}, errors.New("unexpected verification call")
		}
		return s.verify()
	}
	return s.extract()
}

func answer(text string) func() (oracle.Response, error) {
	return func() (oracle.Response, error) {
		return oracle.Response{Text: text, PromptTokens: 1000, CompletionTokens: 200, Model: "test-model"}, nil
	}
}

func failWith(err error) func() (oracle.Response, error) {
	return func() (oracle.Response, error) { return oracle.Response{}, err }
}

func newPipeline(o oracle.Oracle, opts ...evidence.Option) *evidence.Pipeline {
	opts = append([]evidence.Option{evidence.WithLoaders(parsers.NewLayoutLoader(), parsers.NewTextLoader())}, opts...)
	return evidence.NewPipeline(o, opts...)
}

func source() document.Source {
	return document.Source{Content: []byte(article), Format: "txt", ID: "aspirin.txt"}
}

// ---------------------------------------------------------------------------
// Pipeline
// ---------------------------------------------------------------------------

func TestPipeline_RegisteredLoaders(t *testing.T) {
	p := newPipeline(&scripted{})
	assert.Equal(t, []string{"layout", "text"}, p.RegisteredLoaders())
}

func TestPipeline_UnsupportedFormat(t *testing.T) {
	p := evidence.NewPipeline(&scripted{})
	_, err := p.Run(context.Background(), source())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported document format")
}

func TestPipeline_CompleteExtraction(t *testing.T) {
	o := &scripted{extract: answer(complete)}
	result, err := newPipeline(o).RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
	require.NoError(t, err)

	assert.Equal(t, "text", result.LoaderUsed)
	assert.Equal(t, "Aspirin and Stroke", result.Title)
	assert.False(t, result.Degraded())
	assert.False(t, result.Verification.Attempted)
	assert.Equal(t, 2, result.Summary.TotalFields)
	assert.Equal(t, 2, result.Summary.HighConfidence)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, map[string]string{
		"population.sample_size": verify.StatusPending,
		"outcomes[0].name":       verify.StatusPending,
	}, result.ReviewStatus)
	assert.Equal(t, evidence.GroundingStats{Exact: 2}, result.Grounding)
	assert.Equal(t, 1000, result.PromptTokens)
	assert.Equal(t, "test-model", result.Model)
	assert.Equal(t, complete, result.RawText)
	require.Len(t, o.requests, 1)
	assert.Equal(t, oracle.ExtractionSystemPrompt, o.requests[0].SystemPrompt)
	assert.Equal(t, article, o.requests[0].References[0].Text)

	size := result.Record.Section("population").Field("sample_size")
	require.Len(t, size.SourceLocations, 1)
	loc := size.SourceLocations[0]
	assert.Equal(t, 1, loc.Page)
	assert.Equal(t, "We enrolled 100 patients.", loc.Text)
	assert.Greater(t, loc.Y0, 0.5)

	outcome := result.Record.Sections("outcomes")[0]
	require.Len(t, outcome.SourceLocations(), 1)
	assert.Equal(t, "Aspirin reduced stroke in adults.", outcome.SourceLocations()[0].Text)
}

func TestPipeline_UngroundedQuote(t *testing.T) {
	text := `{"population": {"sample_size": {"value": 100, "confidence": "high", "quotes": ["Two hundred volunteers took part."]}}}`
	result, err := newPipeline(&scripted{extract: answer(text)}).
		RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
	require.NoError(t, err)

	assert.Equal(t, evidence.GroundingStats{None: 1}, result.Grounding)
	locs := result.Record.Section("population").Field("sample_size").SourceLocations
	assert.NotNil(t, locs)
	assert.Empty(t, locs)
}

func TestPipeline_GroundingDisabled(t *testing.T) {
	result, err := newPipeline(&scripted{extract: answer(complete)}, evidence.WithLocator(nil)).
		RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, evidence.GroundingStats{}, result.Grounding)
	assert.Empty(t, result.Record.Section("population").Field("sample_size").SourceLocations)
}

func TestPipeline_Verification(t *testing.T) {
	o := &scripted{extract: answer(sparse), verify: answer(patch)}
	result, err := newPipeline(o).RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
	require.NoError(t, err)

	require.True(t, result.Verification.Attempted)
	assert.Equal(t, []string{"outcomes[0].name"}, result.Verification.Fields)
	assert.Equal(t, []string{"outcomes[0].name"}, result.Verification.Replaced)
	assert.Empty(t, result.Verification.Error)
	assert.Equal(t, 0, result.Summary.LowConfidence)
	assert.Equal(t, 2, result.Summary.HighConfidence)
	assert.Equal(t, verify.StatusPending, result.ReviewStatus["outcomes[0].name"])
	assert.Equal(t, 2000, result.PromptTokens)
	assert.Equal(t, 400, result.CompletionTokens)
	assert.Equal(t, evidence.GroundingStats{Exact: 2}, result.Grounding)

	require.Len(t, o.requests, 2)
	assert.Contains(t, o.requests[1].UserPrompt, "- outcomes[0].name")
	assert.Contains(t, o.requests[1].UserPrompt, `"sample_size"`)
}

func TestPipeline_VerificationThreshold(t *testing.T) {
	o := &scripted{extract: answer(sparse)}
	result, err := newPipeline(o, evidence.WithVerificationThreshold(0.5)).
		RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
	require.NoError(t, err)

	assert.False(t, result.Verification.Attempted)
	assert.Len(t, o.requests, 1)
	assert.Equal(t, verify.StatusNeedsReview, result.ReviewStatus["outcomes[0].name"])
}

func TestPipeline_VerificationFailureKeepsFirstPass(t *testing.T) {
	tests := []struct {
		name    string
		verify  func() (oracle.Response, error)
		wantErr string
	}{
		{name: "transport error", verify: failWith(errors.New("rate limited")), wantErr: "rate limited"},
		{name: "unparseable answer", verify: answer("I could not find anything."), wantErr: "failed to parse oracle response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &scripted{extract: answer(sparse), verify: tt.verify}
			result, err := newPipeline(o).RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
			require.NoError(t, err)

			assert.True(t, result.Verification.Attempted)
			assert.Contains(t, result.Verification.Error, tt.wantErr)
			assert.Empty(t, result.Verification.Replaced)
			assert.Equal(t, 1, result.Summary.LowConfidence)
			assert.Equal(t, verify.StatusNeedsReview, result.ReviewStatus["outcomes[0].name"])
		})
	}
}

func TestPipeline_DegradedResponse(t *testing.T) {
	o := &scripted{extract: answer("Sorry, the article is unreadable.")}
	result, err := newPipeline(o).RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
	require.NoError(t, err)

	assert.True(t, result.Degraded())
	assert.Contains(t, result.ParseError, "failed to parse oracle response")
	assert.Equal(t, "Sorry, the article is unreadable.", result.RawText)
	assert.Equal(t, 0, result.Summary.TotalFields)
	assert.False(t, result.Verification.Attempted)
	assert.Empty(t, result.Warnings)

	raw, err := json.Marshal(result.Record)
	require.NoError(t, err)
	assert.JSONEq(t, `{"error": "failed to parse response", "raw_text": "Sorry, the article is unreadable."}`, string(raw))
}

func TestPipeline_ExtractionErrorPropagates(t *testing.T) {
	sentinel := errors.New("upstream unavailable")
	_, err := newPipeline(&scripted{extract: failWith(sentinel)}).
		RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
}

func TestPipeline_CancelledDuringVerification(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := &scripted{
		extract: answer(sparse),
		verify: func() (oracle.Response, error) {
			cancel()
			return oracle.Response{}, context.Canceled
		},
	}
	_, err := newPipeline(o).RunWithMeta(ctx, source(), evidence.ExtractOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_Warnings(t *testing.T) {
	text := `{"outcomes": [{
		"name": {"value": "mortality", "confidence": "high", "quotes": []},
		"ci_lower": {"value": 2.1, "confidence": "high", "quotes": []},
		"ci_upper": {"value": 1.4, "confidence": "high", "quotes": []}
	}]}`
	result, err := newPipeline(&scripted{extract: answer(text)}).
		RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
	require.NoError(t, err)

	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "ci_bounds_inverted", result.Warnings[0].CheckName)
}

func TestPipeline_Template(t *testing.T) {
	o := &scripted{extract: answer(complete)}
	_, err := newPipeline(o).RunWithMeta(context.Background(), source(), evidence.ExtractOptions{
		Template: map[string][]string{"population": {"sample_size"}},
	})
	require.NoError(t, err)

	require.Len(t, o.requests, 1)
	assert.Contains(t, o.requests[0].SystemPrompt, "EXTRACTION TEMPLATE SCHEMA")
	assert.Contains(t, o.requests[0].SystemPrompt, `"sample_size"`)
	assert.Equal(t, oracle.TemplateExtractionUserPrompt, o.requests[0].UserPrompt)
}

type fixedSource []examples.Example

func (f fixedSource) ActiveExamples(context.Context, int) ([]examples.Example, error) { return f, nil }
func (f fixedSource) IncrementUsage(context.Context, []string) error { return nil }

func TestPipeline_FewShot(t *testing.T) {
	selector := examples.NewSelector(fixedSource{{
		ID:             "ex-1",
		InputText:      "Aspirin trial excerpt",
		ExpectedOutput: json.RawMessage(`{"population": {}}`),
		StudyType:      "RCT",
		QualityScore:   1,
	}})
	o := &scripted{extract: answer(complete)}
	result, err := newPipeline(o, evidence.WithSelector(selector)).
		RunWithMeta(context.Background(), source(), evidence.ExtractOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"ex-1"}, result.ExamplesUsed)
	assert.True(t, strings.HasPrefix(o.requests[0].FewShot, "<examples>"))
	assert.Contains(t, o.requests[0].FewShot, "Aspirin trial excerpt")
}

func TestPipeline_Metrics(t *testing.T) {
	m := metrics.New()
	p := newPipeline(&scripted{extract: answer(sparse), verify: answer(patch)}, evidence.WithMetrics(m))
	_, err := p.Run(context.Background(), source())
	require.NoError(t, err)

	expected := `
# HELP evidence_extraction_runs_total Extraction runs by outcome (ok, degraded, error)
# TYPE evidence_extraction_runs_total counter
evidence_extraction_runs_total{outcome="ok"} 1
# HELP evidence_verification_passes_total Second-pass decisions by result (skipped, merged, failed)
# TYPE evidence_verification_passes_total counter
evidence_verification_passes_total{result="merged"} 1
# HELP evidence_quotes_grounded_total Quote lookups by locator method
# TYPE evidence_quotes_grounded_total counter
evidence_quotes_grounded_total{method="exact"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(expected),
		"evidence_extraction_runs_total", "evidence_verification_passes_total", "evidence_quotes_grounded_total"))
}

func TestPipeline_ExtractNilDocument(t *testing.T) {
	_, err := newPipeline(&scripted{}).Extract(context.Background(), nil, evidence.ExtractOptions{})
	require.Error(t, err)
}

func TestPipeline_RunReturnsRecord(t *testing.T) {
	rec, err := newPipeline(&scripted{extract: answer(complete)}).Run(context.Background(), source())
	require.NoError(t, err)
	assert.Equal(t, "stroke", rec.Sections("outcomes")[0].Value("name"))
}
