package samples

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/microsoft/durabletask-webjobs-go/binding"
)

// ConfigureTracing installs an always-sampling global tracer provider for serviceName.
// With a zipkin endpoint, every span is also exported there as soon as it ends.
func ConfigureTracing(zipkinEndpoint string, serviceName string) (*trace.TracerProvider, error) {
	res := resource.NewWithAttributes("durabletask.io", attribute.String("service.name", serviceName))
	opts := []trace.TracerProviderOption{trace.WithSampler(trace.AlwaysSample()), trace.WithResource(res)}
	if zipkinEndpoint != "" {
		exporter, err := zipkin.New(zipkinEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to create zipkin exporter: %w", err)
		}
		opts = append(opts, trace.WithSyncer(exporter))
	}
	tp := trace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// PingEndpointOrchestrator waits briefly and then has an activity GET the URL it was given,
// returning the status code.
func PingEndpointOrchestrator(ctx *binding.OrchestrationInstanceContext) (any, error) {
	var target string
	if err := ctx.GetInput(&target); err != nil {
		return nil, err
	}
	if err := ctx.CreateTimerDelay(100 * time.Millisecond).Await(nil); err != nil {
		return nil, err
	}
	var code int
	err := ctx.ScheduleTask(CallHttpEndpoint, target).Await(&code)
	return code, err
}

func CallHttpEndpointActivity(ctx *binding.ActivityInstanceContext) (any, error) {
	var target string
	if err := ctx.GetInput(&target); err != nil {
		return nil, err
	}
	return callEndpoint(ctx.Context(), target)
}

// callEndpoint issues the GET under ctx, which carries the activity span, so the client
// span nests below it.
func callEndpoint(ctx context.Context, target string) (int, error) {
	resp, err := otelhttp.Get(ctx, target)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, fmt.Errorf("GET %s: %s", target, resp.Status)
	}
	return resp.StatusCode, nil
}
