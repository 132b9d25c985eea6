package helpers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/durabletask-webjobs-go/api"
)

const tracerName = "durabletask"

const (
	attrType       = attribute.Key("durabletask.type")
	attrName       = attribute.Key("durabletask.task.name")
	attrVersion    = attribute.Key("durabletask.task.version")
	attrInstanceID = attribute.Key("durabletask.task.instance_id")
	attrTaskID     = attribute.Key("durabletask.task.task_id")
	attrFireAt     = attribute.Key("durabletask.fire_at")
)

var w3c = propagation.TraceContext{}

// spanSpec describes one durable task span. Its name is "kind||name||version",
// dropping the empty trailing parts.
type spanSpec struct {
	kind     string
	name     string
	version  string
	spanKind trace.SpanKind
	at       time.Time
	attrs    []attribute.KeyValue
}

func (s spanSpec) start(ctx context.Context) (context.Context, trace.Span) {
	spanName := s.kind
	attrs := append([]attribute.KeyValue{attrType.String(s.kind)}, s.attrs...)
	if s.name != "" {
		spanName += "||" + s.name
		attrs = append(attrs, attrName.String(s.name))
	}
	if s.version != "" {
		spanName += "||" + s.version
		attrs = append(attrs, attrVersion.String(s.version))
	}
	return otel.Tracer(tracerName).Start(ctx, spanName,
		trace.WithSpanKind(s.spanKind),
		trace.WithTimestamp(s.at),
		trace.WithAttributes(attrs...),
	)
}

// StartCreateOrchestrationSpan starts the client span of a new orchestration instance.
func StartCreateOrchestrationSpan(ctx context.Context, name, version, instanceID string) (context.Context, trace.Span) {
	return spanSpec{
		kind:     "create_orchestration",
		name:     name,
		version:  version,
		spanKind: trace.SpanKindClient,
		at:       time.Now().UTC(),
		attrs:    []attribute.KeyValue{attrInstanceID.String(instanceID)},
	}.start(ctx)
}

// StartOrchestrationSpan starts the span covering one orchestrator execution.
func StartOrchestrationSpan(ctx context.Context, name, version, instanceID string, startedAt time.Time) (context.Context, trace.Span) {
	return spanSpec{
		kind:     "orchestration",
		name:     name,
		version:  version,
		spanKind: trace.SpanKindServer,
		at:       startedAt,
		attrs:    []attribute.KeyValue{attrInstanceID.String(instanceID)},
	}.start(ctx)
}

func StartActivitySpan(ctx context.Context, name, version, instanceID string, taskID int32) (context.Context, trace.Span) {
	return spanSpec{
		kind:     "activity",
		name:     name,
		version:  version,
		spanKind: trace.SpanKindServer,
		at:       time.Now().UTC(),
		attrs: []attribute.KeyValue{
			attrInstanceID.String(instanceID),
			attrTaskID.Int64(int64(taskID)),
		},
	}.start(ctx)
}

// RecordTimerSpan emits an already finished span for a durable timer, from its
// creation until it fired.
func RecordTimerSpan(ctx context.Context, instanceID string, timerID int32, createdAt, fireAt time.Time) {
	_, span := spanSpec{
		kind:     "timer",
		spanKind: trace.SpanKindInternal,
		at:       createdAt,
		attrs: []attribute.KeyValue{
			attrInstanceID.String(instanceID),
			attrTaskID.Int64(int64(timerID)),
			attrFireAt.String(fireAt.Format(time.RFC3339)),
		},
	}.start(ctx)
	span.End()
}

// ContextFromTraceContext returns ctx carrying the remote parent described by tc.
// A nil tc returns ctx unchanged.
func ContextFromTraceContext(ctx context.Context, tc *api.TraceContext) (context.Context, error) {
	if tc == nil {
		return ctx, nil
	}
	sc, err := SpanContextFromTraceContext(tc)
	if err != nil {
		return ctx, err
	}
	return trace.ContextWithRemoteSpanContext(ctx, sc), nil
}

// SpanContextFromTraceContext decodes a W3C traceparent. A bare trace ID with a
// separate span ID is also accepted and treated as sampled.
func SpanContextFromTraceContext(tc *api.TraceContext) (trace.SpanContext, error) {
	if tc == nil {
		return trace.SpanContext{}, errors.New("trace context is nil")
	}
	traceParent := tc.TraceParent
	if tc.SpanID != "" {
		traceParent = fmt.Sprintf("00-%s-%s-01", tc.TraceParent, tc.SpanID)
	}

	carrier := propagation.MapCarrier{"traceparent": traceParent}
	if tc.TraceState != "" {
		carrier["tracestate"] = tc.TraceState
	}
	sc := trace.SpanContextFromContext(w3c.Extract(context.Background(), carrier))
	if !sc.IsValid() {
		return trace.SpanContext{}, fmt.Errorf("invalid traceparent %q", tc.TraceParent)
	}
	return sc, nil
}

// TraceContextFromSpan captures span as a trace context to store with history
// events. Unsampled spans yield nil so that sampling stays parent-based.
func TraceContextFromSpan(span trace.Span) *api.TraceContext {
	if span == nil || !span.SpanContext().IsSampled() {
		return nil
	}

	carrier := propagation.MapCarrier{}
	w3c.Inject(trace.ContextWithSpan(context.Background(), span), carrier)
	traceParent := carrier.Get("traceparent")
	if traceParent == "" {
		return nil
	}
	return &api.TraceContext{
		TraceParent: traceParent,
		TraceState:  carrier.Get("tracestate"),
	}
}

func NoopSpan() trace.Span {
	return trace.SpanFromContext(context.Background())
}
