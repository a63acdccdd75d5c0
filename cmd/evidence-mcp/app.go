// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/gemaraproj/evidence-mcp/internal/config"
	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/document/parsers"
	"github.com/gemaraproj/evidence-mcp/internal/embedding"
	"github.com/gemaraproj/evidence-mcp/internal/evidence"
	"github.com/gemaraproj/evidence-mcp/internal/examples"
	"github.com/gemaraproj/evidence-mcp/internal/grade"
	"github.com/gemaraproj/evidence-mcp/internal/locate"
	"github.com/gemaraproj/evidence-mcp/internal/metrics"
	"github.com/gemaraproj/evidence-mcp/internal/oracle"
	"github.com/gemaraproj/evidence-mcp/internal/service"
	"github.com/gemaraproj/evidence-mcp/internal/store"
)

// app is the wired service graph shared by the commands.
type app struct {
	store   *store.Store
	svc     *service.Service
	loaders *document.Registry
	locator *locate.Locator
	metrics *metrics.Metrics
}

func newLoaders() *document.Registry {
	return document.NewRegistry(parsers.NewLayoutLoader(), parsers.NewTextLoader())
}

func newLocator(c config.Config) *locate.Locator {
	return locate.New(locate.WithFuzzyThreshold(c.Quality.FuzzyThreshold))
}

// newOracle builds the configured provider. Without an API key every call
// fails, so commands that never reach the oracle still work.
func newOracle(c config.Config) oracle.Oracle {
	o, err := oracle.New(c.Oracle)
	if err != nil {
		return oracle.Func(func(context.Context, oracle.Request) (oracle.Response, error) {
			return oracle.Response{}, fmt.Errorf("language model is not configured: %w", err)
		})
	}
	return o
}

func newApp(ctx context.Context, c config.Config, log *zap.Logger) (*app, error) {
	st, err := store.Open(c.Store.Path)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	loaders := newLoaders()
	locator := newLocator(c)
	o := newOracle(c)

	var emb embedding.Embedder
	if c.Embedding.Enabled {
		engine, err := embedding.NewGenAIEngine(ctx, c.Embedding.GenAI)
		if err != nil {
			log.Warn("embeddings disabled", zap.Error(err))
		} else {
			emb = engine
		}
	}

	pipelineOpts := []evidence.Option{
		evidence.WithLoaders(parsers.NewLayoutLoader(), parsers.NewTextLoader()),
		evidence.WithLocator(locator),
		evidence.WithMetrics(m),
		evidence.WithLogger(log),
		evidence.WithVerificationThreshold(c.Quality.VerificationThreshold),
		evidence.WithGroundingConcurrency(c.Quality.GroundingConcurrency),
	}
	if c.Examples.Enabled {
		selOpts := []examples.Option{examples.WithK(c.Examples.K), examples.WithLogger(log)}
		if emb != nil {
			selOpts = append(selOpts, examples.WithEmbedder(emb))
		}
		pipelineOpts = append(pipelineOpts, evidence.WithSelector(examples.NewSelector(service.ExampleSource(st), selOpts...)))
	}

	svcOpts := []service.Option{
		service.WithLoaders(loaders),
		service.WithLocator(locator),
		service.WithMetrics(m),
		service.WithLogger(log),
	}
	if emb != nil {
		svcOpts = append(svcOpts, service.WithEmbedder(emb))
	}
	if c.Grade.Enabled {
		assessor := grade.NewAssessor(m.InstrumentOracle(o, "grade"), locator,
			grade.WithLogger(log), grade.WithConcurrency(c.Grade.Concurrency))
		svcOpts = append(svcOpts, service.WithAssessor(assessor))
	}

	return &app{
		store:   st,
		svc:     service.New(st, evidence.NewPipeline(o, pipelineOpts...), svcOpts...),
		loaders: loaders,
		locator: locator,
		metrics: m,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
