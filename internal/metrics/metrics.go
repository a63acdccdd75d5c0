// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus instruments for extraction runs. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gemaraproj/evidence-mcp/internal/oracle"
)

const namespace = "evidence"

// Metrics groups the instruments registered on one registry.
type Metrics struct {
	registry      *prometheus.Registry
	runs          *prometheus.CounterVec
	verifications *prometheus.CounterVec
	grounding     *prometheus.CounterVec
	warnings      *prometheus.CounterVec
	certainty     *prometheus.CounterVec
	oracleTokens  *prometheus.CounterVec
	oracleLatency *prometheus.HistogramVec
	oracleErrors  *prometheus.CounterVec
}

// New registers the instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_runs_total",
			Help:      "Extraction runs by outcome (ok, degraded, error)",
		}, []string{"outcome"}),
		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_passes_total",
			Help:      "Second-pass decisions by result (skipped, merged, failed)",
		}, []string{"result"}),
		grounding: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_grounded_total",
			Help:      "Quote lookups by locator method",
		}, []string{"method"}),
		warnings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consistency_warnings_total",
			Help:      "Consistency findings by check and severity",
		}, []string{"check", "severity"}),
		certainty: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grade_assessments_total",
			Help:      "GRADE assessments by overall certainty",
		}, []string{"certainty"}),
		oracleTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_tokens_total",
			Help:      "Oracle tokens by call and kind (prompt, completion)",
		}, []string{"call", "kind"}),
		oracleLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_call_duration_seconds",
			Help:      "Oracle call latency",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"call"}),
		oracleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_errors_total",
			Help:      "Failed oracle calls",
		}, []string{"call"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and custom exporters.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) ObserveRun(outcome string) {
	if m != nil {
		m.runs.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) ObserveVerification(result string) {
	if m != nil {
		m.verifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveGrounding(method string) {
	if m != nil {
		m.grounding.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) ObserveWarning(check, severity string) {
	if m != nil {
		m.warnings.WithLabelValues(check, severity).Inc()
	}
}

func (m *Metrics) ObserveCertainty(level string) {
	if m != nil {
		m.certainty.WithLabelValues(level).Inc()
	}
}

// InstrumentOracle wraps o so every call records latency, tokens and errors
// under the given call label.
func (m *Metrics) InstrumentOracle(o oracle.Oracle, call string) oracle.Oracle {
	if m == nil {
		return o
	}
	return oracle.Func(func(ctx context.Context, req oracle.Request) (oracle.Response, error) {
		start := time.Now()
		resp, err := o.Call(ctx, req)
		m.oracleLatency.WithLabelValues(call).Observe(time.Since(start).Seconds())
		if err != nil {
			m.oracleErrors.WithLabelValues(call).Inc()
			return resp, err
		}
		m.oracleTokens.WithLabelValues(call, "prompt").Add(float64(resp.PromptTokens))
		m.oracleTokens.WithLabelValues(call, "completion").Add(float64(resp.CompletionTokens))
		return resp, nil
	})
}
