package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/microsoft/durabletask-webjobs-go/api"
)

func Test_TraceContext_RoundTrip(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "parent")
	tc := TraceContextFromSpan(span)
	span.End()
	require.NotNil(t, tc)

	sc, err := SpanContextFromTraceContext(tc)
	require.NoError(t, err)
	assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), sc.SpanID())
	assert.True(t, sc.IsSampled())
}

func Test_SpanContextFromTraceContext_Invalid(t *testing.T) {
	_, err := SpanContextFromTraceContext(&api.TraceContext{TraceParent: "00-zz-yy-01"})
	assert.Error(t, err)

	ctx, err := ContextFromTraceContext(context.Background(), nil)
	assert.NoError(t, err)
	assert.NotNil(t, ctx)
}

func Test_TraceContextFromSpan_Unsampled(t *testing.T) {
	assert.Nil(t, TraceContextFromSpan(nil))
	assert.Nil(t, TraceContextFromSpan(NoopSpan()))
}

func Test_SpanContextFromTraceContext_BareTraceID(t *testing.T) {
	sc, err := SpanContextFromTraceContext(&api.TraceContext{
		TraceParent: "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:      "00f067aa0ba902b7",
		TraceState:  "vendor=value",
	})
	require.NoError(t, err)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", sc.SpanID().String())
	assert.True(t, sc.IsSampled())
	assert.Equal(t, "value", sc.TraceState().Get("vendor"))
}

func Test_SpanNames(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx := context.Background()
	_, span := StartCreateOrchestrationSpan(ctx, "Hello", "", "abc")
	span.End()
	_, span = StartActivitySpan(ctx, "SayHello", "v2", "abc", 4)
	span.End()
	RecordTimerSpan(ctx, "abc", 3, time.Now().Add(-time.Second), time.Now())

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)
	assert.Equal(t, "create_orchestration||Hello", spans[0].Name)
	assert.Equal(t, "activity||SayHello||v2", spans[1].Name)
	assert.Equal(t, "timer", spans[2].Name)
}
