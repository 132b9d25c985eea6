package listener

import (
	"context"

	"github.com/microsoft/durabletask-webjobs-go/task"
)

// Worker is the engine-side worker a listener drives. [backend.TaskHubWorker] satisfies it.
//
// Start and Stop are not safe to call redundantly on every implementation; the lifecycle
// makes sure they are not.
type Worker interface {
	CreateTaskHubIfNotExists(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context, isForced bool) error
}

// WorkerContext is what one binding contributes to the listener of its task hub.
type WorkerContext struct {
	HubName                 string
	ConnectionString        string
	StorageConnectionString string
	Orchestrations          []task.OrchestratorCreator
	Activities              []task.ActivityCreator
}

// WorkerFactory builds the worker for a task hub. The registry it receives is shared by every
// binding of that hub and keeps receiving registrations after the worker is built.
type WorkerFactory func(wc *WorkerContext, registry *task.TaskRegistry) (Worker, error)

// RegistrationSet is a snapshot of the registrations accumulated by a listener.
type RegistrationSet struct {
	Orchestrations []task.OrchestratorCreator
	Activities     []task.ActivityCreator
}

func (s RegistrationSet) Len() int {
	return len(s.Orchestrations) + len(s.Activities)
}
