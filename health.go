package main

import (
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/microsoft/durabletask-webjobs-go/host"
	"github.com/microsoft/durabletask-webjobs-go/listener"
)

// reportHealth publishes one gRPC health service per task hub, plus the overall "" service,
// from the state of their listeners.
func reportHealth(hs *health.Server, h *host.Host) {
	overall := healthpb.HealthCheckResponse_SERVING
	for _, l := range h.Listeners().All() {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if l.State() == listener.Started {
			status = healthpb.HealthCheckResponse_SERVING
		} else {
			overall = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus(l.HubName(), status)
	}
	hs.SetServingStatus("", overall)
}
