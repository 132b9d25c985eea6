package backend

import (
	"context"

	"github.com/microsoft/durabletask-webjobs-go/api"
)

// ExecutionResults is the outcome of running an orchestrator over its history.
type ExecutionResults struct {
	Actions      []*OrchestratorAction
	CustomStatus string
}

type OrchestratorExecutor interface {
	ExecuteOrchestrator(
		ctx context.Context,
		iid api.InstanceID,
		oldEvents []*HistoryEvent,
		newEvents []*HistoryEvent) (*ExecutionResults, error)
}

type ActivityExecutor interface {
	ExecuteActivity(context.Context, api.InstanceID, *HistoryEvent) (*HistoryEvent, error)
}

// Executor runs both orchestrators and activities.
type Executor interface {
	OrchestratorExecutor
	ActivityExecutor
}
