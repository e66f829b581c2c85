// Package tracing carries the platform's b3 trace token into otel spans.
package tracing

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/bwoudt/jambonz-go/ingress"

// ParseB3 decodes a single-header b3 value
// ("{traceid}-{spanid}[-{sampled}[-{parentspanid}]]").
func ParseB3(b3 string) (trace.SpanContext, bool) {
	parts := strings.Split(strings.TrimSpace(b3), "-")
	if len(parts) < 2 {
		return trace.SpanContext{}, false
	}
	traceHex := parts[0]
	if len(traceHex) == 16 {
		traceHex = strings.Repeat("0", 16) + traceHex
	}
	traceID, err := trace.TraceIDFromHex(traceHex)
	if err != nil {
		return trace.SpanContext{}, false
	}
	spanID, err := trace.SpanIDFromHex(parts[1])
	if err != nil {
		return trace.SpanContext{}, false
	}
	var flags trace.TraceFlags
	if len(parts) > 2 && (parts[2] == "1" || parts[2] == "d") {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sc.IsValid()
}

// StartDispatch opens a span for one inbound message, parented on the b3
// token when it parses.
func StartDispatch(ctx context.Context, kind, callSid, b3 string) (context.Context, trace.Span) {
	if sc, ok := ParseB3(b3); ok {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	}
	return otel.Tracer(instrumentationName).Start(ctx, "dispatch "+kind,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("jambonz.call_sid", callSid),
			attribute.String("jambonz.kind", kind),
		))
}
