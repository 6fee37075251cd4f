// Package metrics holds the prometheus collectors shared by the agent,
// the retrieval aggregator and the tools. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ragagent"

// Outcome label values.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeAnswered  = "answered"
	OutcomeFallback  = "fallback"
	OutcomeCancelled = "cancelled"
)

// Metrics groups the collectors.
type Metrics struct {
	storeQueries  *prometheus.CounterVec
	storeLatency  *prometheus.HistogramVec
	modelCalls    *prometheus.CounterVec
	toolCalls     *prometheus.CounterVec
	parseFailures prometheus.Counter
	turns         *prometheus.CounterVec
	rerankFalls   prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		storeQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_queries_total",
			Help:      "Vector store queries by collection and outcome.",
		}, []string{"store", "outcome"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_query_seconds",
			Help:      "Vector store query latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Language model calls made by the agent loop.",
		}, []string{"outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool dispatches by tool and outcome.",
		}, []string{"tool", "outcome"}),
		parseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Model replies that could not be parsed.",
		}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Agent turns by terminal outcome.",
		}, []string{"outcome"}),
		rerankFalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rerank_fallbacks_total",
			Help:      "Reranker failures that fell back to merge order.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.storeQueries, m.storeLatency, m.modelCalls, m.toolCalls, m.parseFailures, m.turns, m.rerankFalls)
	}
	return m
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// StoreQuery records one per-collection query.
func (m *Metrics) StoreQuery(store string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.storeQueries.WithLabelValues(store, outcome(err)).Inc()
	m.storeLatency.WithLabelValues(store).Observe(d.Seconds())
}

// ModelCall records one model invocation.
func (m *Metrics) ModelCall(err error) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(outcome(err)).Inc()
}

// ToolCall records one tool dispatch.
func (m *Metrics) ToolCall(tool string, err error) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome(err)).Inc()
}

// ParseFailure records an unparseable model reply.
func (m *Metrics) ParseFailure() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}

// Turn records how a turn ended.
func (m *Metrics) Turn(outcome string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
}

// RerankFallback records a reranker failure.
func (m *Metrics) RerankFallback() {
	if m == nil {
		return
	}
	m.rerankFalls.Inc()
}
