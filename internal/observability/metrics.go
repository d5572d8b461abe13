package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Session cache hit/miss/eviction behaviour
//   - LLM request performance, token usage, and fallback pressure
//   - Compaction and orchestration activity
//   - Pipeline/workflow execution
//   - MCP call latency
//
// Usage:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.CacheHit()
//	defer metrics.LLMRequestDuration("anthropic", "claude-3-opus").Observe(time.Since(start).Seconds())
type Metrics struct {
	// CacheHits/CacheMisses/CacheEvictions track session cache behaviour.
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheSize      prometheus.Gauge

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model.
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by provider, model, and status
	// (success|error|fallback).
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_creation|cache_read).
	LLMTokensUsed *prometheus.CounterVec

	// CompactionCounter counts compactions by strategy and outcome.
	CompactionCounter *prometheus.CounterVec

	// CompactionTokensSaved tracks tokens removed by compaction.
	CompactionTokensSaved prometheus.Counter

	// OrchestrationTurns counts agent turns taken per orchestration run.
	OrchestrationTurns prometheus.Histogram

	// PipelineExecutions counts workflow executions by status.
	PipelineExecutions *prometheus.CounterVec

	// PipelineExecutionDuration measures workflow execution latency.
	PipelineExecutionDuration *prometheus.HistogramVec

	// MCPCallDuration measures MCP request/response latency by transport.
	MCPCallDuration *prometheus.HistogramVec

	// MCPCallCounter counts MCP calls by transport and status.
	MCPCallCounter *prometheus.CounterVec

	// MemoryOperations counts memory store operations by kind and outcome.
	MemoryOperations *prometheus.CounterVec

	// ErrorCounter tracks errors by component and error kind.
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics against reg. A
// nil reg gets its own fresh prometheus.Registry rather than the global
// DefaultRegisterer, so constructing more than one Metrics in a process
// (as repeated test runs of Runtime.Start do) never panics on a duplicate
// descriptor.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "arawn_session_cache_hits_total",
			Help: "Total number of session cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "arawn_session_cache_misses_total",
			Help: "Total number of session cache misses",
		}),
		CacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "arawn_session_cache_evictions_total",
			Help: "Total number of session cache evictions",
		}),
		CacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "arawn_session_cache_size",
			Help: "Current number of entries in the session cache",
		}),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arawn_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arawn_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arawn_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		CompactionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arawn_compactions_total",
				Help: "Total number of compactions by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		CompactionTokensSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "arawn_compaction_tokens_saved_total",
			Help: "Estimated tokens removed by compaction",
		}),
		OrchestrationTurns: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arawn_orchestration_turns",
			Help:    "Number of agent turns per orchestration run",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),

		PipelineExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arawn_pipeline_executions_total",
				Help: "Total number of workflow executions by status",
			},
			[]string{"workflow", "status"},
		),
		PipelineExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arawn_pipeline_execution_duration_seconds",
				Help:    "Duration of workflow executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"workflow"},
		),

		MCPCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "arawn_mcp_call_duration_seconds",
				Help:    "Duration of MCP calls in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"transport"},
		),
		MCPCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arawn_mcp_calls_total",
				Help: "Total number of MCP calls by transport and status",
			},
			[]string{"transport", "status"},
		),

		MemoryOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arawn_memory_operations_total",
				Help: "Total number of memory store operations by kind and outcome",
			},
			[]string{"operation", "outcome"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "arawn_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "kind"},
		),
	}
}

// CacheHit records a session cache hit.
func (m *Metrics) CacheHit() { m.CacheHits.Inc() }

// CacheMiss records a session cache miss.
func (m *Metrics) CacheMiss() { m.CacheMisses.Inc() }

// CacheEvict records a session cache eviction.
func (m *Metrics) CacheEvict() { m.CacheEvictions.Inc() }

// RecordLLMRequest records metrics for an LLM API request.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordCompaction records a compaction outcome.
func (m *Metrics) RecordCompaction(strategy, outcome string, tokensSaved int) {
	m.CompactionCounter.WithLabelValues(strategy, outcome).Inc()
	if tokensSaved > 0 {
		m.CompactionTokensSaved.Add(float64(tokensSaved))
	}
}

// RecordOrchestrationRun records the number of turns an orchestration run took.
func (m *Metrics) RecordOrchestrationRun(turns int) {
	m.OrchestrationTurns.Observe(float64(turns))
}

// RecordPipelineExecution records a workflow execution.
func (m *Metrics) RecordPipelineExecution(workflow, status string, durationSeconds float64) {
	m.PipelineExecutions.WithLabelValues(workflow, status).Inc()
	m.PipelineExecutionDuration.WithLabelValues(workflow).Observe(durationSeconds)
}

// RecordMCPCall records an MCP call.
func (m *Metrics) RecordMCPCall(transport, status string, durationSeconds float64) {
	m.MCPCallCounter.WithLabelValues(transport, status).Inc()
	m.MCPCallDuration.WithLabelValues(transport).Observe(durationSeconds)
}

// RecordMemoryOperation records a memory store operation.
func (m *Metrics) RecordMemoryOperation(operation, outcome string) {
	m.MemoryOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordError increments the error counter for a given component and kind.
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorCounter.WithLabelValues(component, kind).Inc()
}
