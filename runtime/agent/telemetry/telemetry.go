// Package telemetry defines the logging, metrics and tracing contracts used by
// the agent runtime together with Clue/OpenTelemetry backed and no-op
// implementations.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger captures structured logging used throughout the runtime. The
	// interface is small so tests can provide lightweight stubs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter, timer and gauge helpers. Tags are flattened
	// key/value pairs (k1, v1, k2, v2, ...).
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer abstracts span creation so runtime code stays agnostic of the
	// configured OpenTelemetry provider.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	}

	// Span represents an in-flight tracing span.
	//
	//	ctx, span := tracer.Start(ctx, "agent.turn")
	//	defer span.End()
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}
)

// Metric names recorded by the agent runtime.
const (
	MetricTurns          = "agent.turns"
	MetricTurnErrors     = "agent.turn.errors"
	MetricTurnDuration   = "agent.turn.duration"
	MetricToolCalls      = "agent.tool.calls"
	MetricToolCacheHits  = "agent.tool.cache_hits"
	MetricToolRetries    = "agent.tool.retries"
	MetricToolDuration   = "agent.tool.duration"
	MetricLLMCalls       = "agent.llm.calls"
	MetricLLMDuration    = "agent.llm.duration"
	MetricActiveSessions = "agent.sessions.active"
	MetricErrorRate      = "agent.error_rate"
)
