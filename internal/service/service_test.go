// SPDX-License-Identifier: Apache-2.0

package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/document/parsers"
	"github.com/gemaraproj/evidence-mcp/internal/embedding"
	"github.com/gemaraproj/evidence-mcp/internal/evidence"
	"github.com/gemaraproj/evidence-mcp/internal/examples"
	"github.com/gemaraproj/evidence-mcp/internal/grade"
	"github.com/gemaraproj/evidence-mcp/internal/locate"
	"github.com/gemaraproj/evidence-mcp/internal/oracle"
	"github.com/gemaraproj/evidence-mcp/internal/service"
	"github.com/gemaraproj/evidence-mcp/internal/store"
)

const article = "Aspirin After Stroke\fPatients were randomly assigned to aspirin or placebo.\nWe enrolled 200 patients."

const extraction = `{
  "study_design": {"type": {"value": "Randomized controlled trial", "confidence": "high", "quotes": ["Patients were randomly assigned to aspirin or placebo."]}},
  "population": {"sample_size": {"value": 200, "confidence": "high", "quotes": ["We enrolled 200 patients."]}},
  "outcomes": [{"name": {"value": "recurrent stroke", "confidence": "high", "quotes": []}}]
}`

// fakeOracle answers extraction prompts with extraction and every GRADE prompt
// with a single serious risk-of-bias concern.
func fakeOracle() oracle.Oracle {
	return oracle.Func(func(_ context.Context, req oracle.Request) (oracle.Response, error) {
		switch {
		case req.SystemPrompt != oracle.GradeSystemPrompt:
			return oracle.Response{Text: extraction, PromptTokens: 500, CompletionTokens: 50, Model: "fake"}, nil
		case strings.Contains(req.UserPrompt, "RISK OF BIAS"):
			return oracle.Response{Text: `{"rating": "serious", "rationale": "open label", "quotes": []}`}, nil
		case strings.Contains(req.UserPrompt, "UPGRADE"):
			return oracle.Response{Text: `{}`}, nil
		}
		return oracle.Response{Text: `{"rating": "no_serious", "rationale": "ok", "quotes": []}`}, nil
	})
}

func loaders() *document.Registry {
	return document.NewRegistry(parsers.NewLayoutLoader(), parsers.NewTextLoader())
}

func newService(t *testing.T, o oracle.Oracle, opts ...service.Option) (*service.Service, *store.Store) {
	t.Helper()
	st, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := evidence.NewPipeline(o)
	opts = append([]service.Option{
		service.WithLoaders(loaders()),
		service.WithAssessor(grade.NewAssessor(o, locate.New())),
	}, opts...)
	return service.New(st, p, opts...), st
}

func importArticle(t *testing.T, s *service.Service) *document.Document {
	t.Helper()
	doc, err := s.ImportDocument(context.Background(), document.Source{Content: []byte(article), Format: "txt", ID: "aspirin"})
	require.NoError(t, err)
	return doc
}

// ---------------------------------------------------------------------------
// Documents
// ---------------------------------------------------------------------------

func TestService_ImportAndFetch(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, fakeOracle())

	doc := importArticle(t, s)
	assert.Equal(t, "aspirin", doc.ID)
	assert.Equal(t, "Aspirin After Stroke", doc.Title)

	got, err := s.Document(ctx, "aspirin")
	require.NoError(t, err)
	require.Len(t, got.Pages, 2)
	assert.Equal(t, 2, got.Pages[1].Number)
	assert.NotEmpty(t, got.Pages[1].Words)

	list, err := s.Documents(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Aspirin After Stroke", list[0].Title)
}

func TestService_ImportFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trial.md")
	require.NoError(t, os.WriteFile(path, []byte("# Trial\nBody"), 0o600))

	s, _ := newService(t, fakeOracle())
	doc, err := s.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Trial", doc.Title)
	assert.NotEmpty(t, doc.ID)
}

func TestService_NotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, fakeOracle())

	_, err := s.Document(ctx, "nope")
	assert.True(t, service.IsNotFound(err))
	_, err = s.Extract(ctx, "nope", evidence.ExtractOptions{})
	assert.True(t, service.IsNotFound(err))
	_, err = s.LatestExtraction(ctx, "nope")
	assert.True(t, service.IsNotFound(err))
	_, err = s.Extractions(ctx, "nope")
	assert.True(t, service.IsNotFound(err))
	_, err = s.Assessments(ctx, "nope")
	assert.True(t, service.IsNotFound(err))
	_, err = s.Locate(ctx, "nope", "quote")
	assert.True(t, service.IsNotFound(err))
	assert.True(t, service.IsNotFound(s.DeleteDocument(ctx, "nope")))

	importArticle(t, s)
	_, err = s.Assess(ctx, "aspirin")
	assert.True(t, service.IsNotFound(err), "assessing before any extraction")
}

func TestService_Locate(t *testing.T) {
	s, _ := newService(t, fakeOracle())
	importArticle(t, s)

	m, err := s.Locate(context.Background(), "aspirin", "We enrolled 200 patients.")
	require.NoError(t, err)
	assert.Equal(t, locate.MethodExact, m.Method)
	require.Len(t, m.Locations, 1)
	assert.Equal(t, 2, m.Locations[0].Page)
}

// ---------------------------------------------------------------------------
// Extractions and assessments
// ---------------------------------------------------------------------------

func TestService_ExtractVersions(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, fakeOracle())
	importArticle(t, s)

	first, err := s.Extract(ctx, "aspirin", evidence.ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, 3, first.Summary.TotalFields)
	assert.Equal(t, evidence.GroundingStats{Exact: 2}, first.Grounding)

	second, err := s.Extract(ctx, "aspirin", evidence.ExtractOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	latest, err := s.LatestExtraction(ctx, "aspirin")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "fake", latest.Model)
	assert.Equal(t, second.Summary, latest.Summary)
	require.NotNil(t, latest.Record)
	size := latest.Record.Section("population").Field("sample_size")
	require.Len(t, size.SourceLocations, 1)
	assert.Equal(t, 2, size.SourceLocations[0].Page)

	all, err := s.Extractions(ctx, "aspirin")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_ExtractDegradedIsStored(t *testing.T) {
	ctx := context.Background()
	o := oracle.Func(func(context.Context, oracle.Request) (oracle.Response, error) {
		return oracle.Response{Text: "not json"}, nil
	})
	s, _ := newService(t, o)
	importArticle(t, s)

	e, err := s.Extract(ctx, "aspirin", evidence.ExtractOptions{})
	require.NoError(t, err)
	assert.True(t, e.Degraded())

	latest, err := s.LatestExtraction(ctx, "aspirin")
	require.NoError(t, err)
	assert.True(t, latest.Degraded())

	_, err = s.Assess(ctx, "aspirin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable record")
}

func TestService_ExtractOracleFailure(t *testing.T) {
	sentinel := errors.New("provider down")
	o := oracle.Func(func(context.Context, oracle.Request) (oracle.Response, error) {
		return oracle.Response{}, sentinel
	})
	s, st := newService(t, o)
	importArticle(t, s)

	_, err := s.Extract(context.Background(), "aspirin", evidence.ExtractOptions{})
	assert.ErrorIs(t, err, sentinel)
	rows, err := st.ListExtractions(context.Background(), "aspirin")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestService_Assess(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t, fakeOracle())
	importArticle(t, s)
	_, err := s.Extract(ctx, "aspirin", evidence.ExtractOptions{})
	require.NoError(t, err)

	got, err := s.Assess(ctx, "aspirin")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "recurrent stroke", got[0].OutcomeName)
	assert.Equal(t, grade.Moderate, got[0].Overall)
	assert.Equal(t, grade.Serious, got[0].Domains[grade.RiskOfBias].Rating)

	stored, err := s.Assessments(ctx, "aspirin")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, got[0].Overall, stored[0].Overall)
	assert.Equal(t, got[0].Rationale, stored[0].Rationale)
}

func TestService_AssessDisabled(t *testing.T) {
	st, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	defer st.Close()

	s := service.New(st, evidence.NewPipeline(fakeOracle()))
	_, err = s.Assess(context.Background(), "aspirin")
	assert.ErrorIs(t, err, service.ErrAssessmentDisabled)
}

// ---------------------------------------------------------------------------
// Training examples
// ---------------------------------------------------------------------------

func TestService_Examples(t *testing.T) {
	ctx := context.Background()
	embedder := embedding.Func(func(context.Context, string) ([]float32, error) { return []float32{3, 4}, nil })
	s, st := newService(t, fakeOracle(), service.WithEmbedder(embedder))

	ex, err := s.AddExample(ctx, examples.Example{
		InputText:      "Aspirin RCT excerpt",
		ExpectedOutput: json.RawMessage(`{"population": {}}`),
		StudyType:      "RCT",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ex.ID)
	assert.Equal(t, 1.0, ex.QualityScore)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, ex.Embedding, 1e-6)

	src := service.ExampleSource(st)
	active, err := src.ActiveExamples(ctx, 5)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "RCT", active[0].StudyType)
	assert.Len(t, active[0].Embedding, 2)

	selected, err := examples.NewSelector(src).Select(ctx, "aspirin excerpt")
	require.NoError(t, err)
	require.Len(t, selected, 1)
	active, err = src.ActiveExamples(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, active[0].UsageCount)

	require.NoError(t, s.RetireExample(ctx, ex.ID))
	active, err = src.ActiveExamples(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestService_AddExampleValidation(t *testing.T) {
	s, _ := newService(t, fakeOracle())
	tests := []struct {
		name string
		ex   examples.Example
	}{
		{name: "empty text", ex: examples.Example{ExpectedOutput: json.RawMessage(`{}`)}},
		{name: "missing output", ex: examples.Example{InputText: "x"}},
		{name: "invalid output", ex: examples.Example{InputText: "x", ExpectedOutput: json.RawMessage(`{`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.AddExample(context.Background(), tt.ex)
			assert.ErrorIs(t, err, service.ErrInvalidExample)
		})
	}
}
