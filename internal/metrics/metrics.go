/*
[AI GENERATED - GOVERNANCE PROTOCOL]
──────────────────────────────────────────────────────────────
Model:       Claude Opus 4.6
Tier:        L2
Logic:       Prometheus instrumentation for the pipeline: probe
             outcomes, block-search escalations, LLM/aggregator call
             latency, and the cost ledger, exposed over /metrics.
Root Cause:  Sprint task Q029 — Prometheus metrics surface.
Context:     The teacher's gateway hand-rolls its own counter/gauge/
             histogram registry (services/gateway/observability/
             metrics.go); this pipeline instead takes a real dependency
             on prometheus/client_golang, already present in the example
             pack (vjache-cie, jordigilh-kubernaut) for the exact same
             concern, rather than duplicating that registry code.
Suitability: L2 — standard Prometheus instrumentation.
──────────────────────────────────────────────────────────────
*/

// Package metrics wires Prometheus counters and histograms for the
// probe/block-search/ledger concerns of the pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process-wide Prometheus registry for the worker.
type Metrics struct {
	ProbeOutcomes      *prometheus.CounterVec
	BlockEscalations   prometheus.Counter
	LLMCallDuration     prometheus.Histogram
	AggregatorDuration  prometheus.Histogram
	LedgerCostBRL       *prometheus.CounterVec
	RequestsFinalized  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New builds and registers every metric against a fresh registry (rather
// than the global default) so a test process can construct more than one
// without a "duplicate metrics collector registration" panic.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ProbeOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotepipe_probe_outcomes_total",
			Help: "Candidate probe outcomes by result (accepted, failure reason).",
		}, []string{"outcome"}),
		BlockEscalations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quotepipe_block_search_escalations_total",
			Help: "Number of epsilon escalations across all block searches.",
		}),
		LLMCallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quotepipe_llm_call_duration_seconds",
			Help:    "LLM analysis call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		AggregatorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quotepipe_aggregator_call_duration_seconds",
			Help:    "Shopping aggregator call latency.",
			Buckets: prometheus.DefBuckets,
		}),
		LedgerCostBRL: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotepipe_ledger_cost_brl_total",
			Help: "Cumulative cost posted to the financial ledger, by integration kind.",
		}, []string{"kind"}),
		RequestsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quotepipe_requests_finalized_total",
			Help: "QuoteRequests reaching a terminal status, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.ProbeOutcomes,
		m.BlockEscalations,
		m.LLMCallDuration,
		m.AggregatorDuration,
		m.LedgerCostBRL,
		m.RequestsFinalized,
	)
	return m
}

// Handler exposes the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
