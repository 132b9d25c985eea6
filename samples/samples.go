// Package samples contains orchestrations and activities the durablehost CLI binds onto
// every configured task hub.
package samples

import (
	"fmt"

	"github.com/microsoft/durabletask-webjobs-go/binding"
	"github.com/microsoft/durabletask-webjobs-go/host"
)

const (
	HelloCities   = "HelloCities"
	UpdateDevices = "UpdateDevices"
	Approval      = "Approval"
	PingEndpoint  = "PingEndpoint"

	SayHello           = "SayHello"
	GetDevicesToUpdate = "GetDevicesToUpdate"
	UpdateDevice       = "UpdateDevice"
	CallHttpEndpoint   = "CallHttpEndpoint"
)

// Register binds every sample function onto taskHub.
func Register(h *host.Host, taskHub string) error {
	orchestrations := map[string]host.OrchestratorFunc{
		HelloCities:   ActivitySequenceOrchestrator,
		UpdateDevices: UpdateDevicesOrchestrator,
		Approval:      ApprovalOrchestrator,
		PingEndpoint:  PingEndpointOrchestrator,
	}
	activities := map[string]host.ActivityFunc{
		SayHello:           SayHelloActivity,
		GetDevicesToUpdate: GetDevicesToUpdateActivity,
		UpdateDevice:       UpdateDeviceActivity,
		CallHttpEndpoint:   CallHttpEndpointActivity,
	}
	for name, fn := range orchestrations {
		if _, err := h.AddOrchestration(binding.OrchestrationTrigger{TaskHub: taskHub, Orchestration: name}, fn); err != nil {
			return fmt.Errorf("failed to bind orchestration '%s': %w", name, err)
		}
	}
	for name, fn := range activities {
		if _, err := h.AddActivity(binding.ActivityTrigger{TaskHub: taskHub, Activity: name}, fn); err != nil {
			return fmt.Errorf("failed to bind activity '%s': %w", name, err)
		}
	}
	return nil
}
