// Package observability provides metrics, structured logging, and
// distributed tracing for the runtime substrate.
//
// # Metrics
//
// NewMetrics registers a fixed set of Prometheus counters/histograms/gauges
// covering session cache behaviour, LLM requests and token usage,
// compaction, pipeline execution, and MCP calls. It takes an explicit
// prometheus.Registerer (nil gets a fresh prometheus.NewRegistry()) rather
// than registering against the global default, so constructing more than
// one Metrics in a process — as repeated tests of Runtime.Start do — never
// panics on a duplicate metric descriptor.
//
//	metrics := observability.NewMetrics(nil)
//	metrics.CacheHit()
//	metrics.RecordLLMRequest("anthropic", "claude-3-5-sonnet-20241022", "success", elapsed, in, out)
//
// # Logging
//
// Logger wraps log/slog with context-threaded correlation IDs
// (request/session/user/channel) and regex-based redaction of API keys,
// tokens, and other secrets before they reach the handler.
//
//	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
//	ctx = observability.AddSessionID(ctx, sessionID)
//	logger.Info(ctx, "compacting session", "workstream_id", workstreamID)
//
// # Tracing
//
// NewTracer wraps an OpenTelemetry tracer exporting via OTLP/gRPC when
// Config.Endpoint is set, and returns a safe no-op tracer (and shutdown
// func) otherwise — it is always safe to construct during startup.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "arawn",
//	    Endpoint:    cfg.Tracing.Endpoint,
//	})
//	defer shutdown(context.Background())
//	ctx, span := tracer.Start(ctx, "compaction.compact_session")
//	defer span.End()
package observability
