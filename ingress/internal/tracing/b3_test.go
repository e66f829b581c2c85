package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestParseB3(t *testing.T) {
	sc, ok := ParseB3("80f198ee56343ba864fe8b2a57d3eff7-e457b5a2e4d86bd1-1-05e3ac9a4f6e3b90")
	require.True(t, ok)
	assert.Equal(t, "80f198ee56343ba864fe8b2a57d3eff7", sc.TraceID().String())
	assert.Equal(t, "e457b5a2e4d86bd1", sc.SpanID().String())
	assert.True(t, sc.IsSampled())
	assert.True(t, sc.IsRemote())
}

func TestParseB3ShortTraceID(t *testing.T) {
	sc, ok := ParseB3("64fe8b2a57d3eff7-e457b5a2e4d86bd1-0")
	require.True(t, ok)
	assert.Equal(t, "000000000000000064fe8b2a57d3eff7", sc.TraceID().String())
	assert.False(t, sc.IsSampled())
}

func TestParseB3Invalid(t *testing.T) {
	for _, in := range []string{"", "0", "nothex-e457b5a2e4d86bd1", "80f198ee56343ba864fe8b2a57d3eff7-zz"} {
		_, ok := ParseB3(in)
		assert.False(t, ok, in)
	}
}

func recorder(t *testing.T, rate float64) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := NewProvider(rate, sdktrace.WithSpanProcessor(sr), sdktrace.WithResource(resource.Empty()))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestStartDispatchUsesRemoteParent(t *testing.T) {
	sr := recorder(t, 0)

	ctx, span := StartDispatch(context.Background(), "callback", "CA1", "80f198ee56343ba864fe8b2a57d3eff7-e457b5a2e4d86bd1-1")
	assert.True(t, span.IsRecording())
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "dispatch callback", spans[0].Name())
	assert.Equal(t, "e457b5a2e4d86bd1", spans[0].Parent().SpanID().String())
	assert.Equal(t, "80f198ee56343ba864fe8b2a57d3eff7", spans[0].SpanContext().TraceID().String())
	assert.Equal(t, spans[0].SpanContext().SpanID(), trace.SpanContextFromContext(ctx).SpanID())

	found := false
	for _, a := range spans[0].Attributes() {
		if a.Key == "jambonz.call_sid" && a.Value.AsString() == "CA1" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestStartDispatchHonoursUnsampledParent(t *testing.T) {
	sr := recorder(t, 1)

	_, span := StartDispatch(context.Background(), "callback", "CA1", "80f198ee56343ba864fe8b2a57d3eff7-e457b5a2e4d86bd1-0")
	assert.False(t, span.IsRecording())
	span.End()
	assert.Empty(t, sr.Ended())
}

func TestStartDispatchWithoutB3UsesRate(t *testing.T) {
	sr := recorder(t, 1)

	_, span := StartDispatch(context.Background(), "session-new", "CA1", "")
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.False(t, spans[0].Parent().IsValid())
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitHTTPExporter(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	shutdown, err := Init(context.Background(), Config{Enabled: true, Protocol: "http", Insecure: true, SamplerRate: 2}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestInitUnknownProtocol(t *testing.T) {
	_, err := Init(context.Background(), Config{Enabled: true, Protocol: "carrier-pigeon"}, zap.NewNop())
	assert.Error(t, err)
}
