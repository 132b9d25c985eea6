package binding

import (
	"context"
	"fmt"

	"github.com/microsoft/durabletask-webjobs-go/listener"
	"github.com/microsoft/durabletask-webjobs-go/task"
)

// OrchestrationTrigger binds a function to an orchestration of a task hub.
type OrchestrationTrigger struct {
	TaskHub       string
	Orchestration string
	Version       string
}

// OrchestrationInstanceContext is the trigger value an orchestrator function receives.
type OrchestrationInstanceContext struct {
	*task.OrchestrationContext
	returnValue
}

// ScheduleTask schedules the unversioned activity name with args.
func (c *OrchestrationInstanceContext) ScheduleTask(name string, args ...any) task.Task {
	return c.ScheduleActivity(name, "", args...)
}

// WaitForExternalEvent waits for the next event raised under name, materialized as T.
func WaitForExternalEvent[T any](c *OrchestrationInstanceContext, name string) *task.EventTask[T] {
	return task.WaitForExternalEvent[T](c.OrchestrationContext, name)
}

// OrchestrationTriggerBinding contributes an orchestration to the listener of its task hub.
type OrchestrationTriggerBinding struct {
	trigger  OrchestrationTrigger
	executor FunctionExecutor
	listener *listener.Lifecycle
}

// NewOrchestrationTriggerBinding returns nil and no error when the dispatch connection is not
// configured.
func NewOrchestrationTriggerBinding(trigger OrchestrationTrigger, conns ConnectionStringProvider, registry *listener.Registry, executor FunctionExecutor) (*OrchestrationTriggerBinding, error) {
	if trigger.Orchestration == "" {
		return nil, fmt.Errorf("orchestration trigger in task hub '%s' has no orchestration name", trigger.TaskHub)
	}
	conn := conns.GetConnectionString(DispatchConnectionName)
	if conn == "" {
		return nil, nil
	}
	b := &OrchestrationTriggerBinding{trigger: trigger, executor: executor}
	l, err := registry.GetOrCreate(&listener.WorkerContext{
		HubName:                 trigger.TaskHub,
		ConnectionString:        conn,
		StorageConnectionString: conns.GetConnectionString(StorageConnectionName),
		Orchestrations: []task.OrchestratorCreator{{
			Name:    trigger.Orchestration,
			Version: trigger.Version,
			Create:  func() task.Orchestrator { return b.execute },
		}},
	})
	if err != nil {
		return nil, err
	}
	b.listener = l
	return b, nil
}

func (b *OrchestrationTriggerBinding) Listener() *listener.Lifecycle {
	return b.listener
}

func (b *OrchestrationTriggerBinding) Trigger() OrchestrationTrigger {
	return b.trigger
}

// execute runs on every replay. Blocking on an unfinished task unwinds the function with a
// control flow panic that passes through the executor.
func (b *OrchestrationTriggerBinding) execute(octx *task.OrchestrationContext) (any, error) {
	ic := &OrchestrationInstanceContext{OrchestrationContext: octx}
	result := b.executor.TryExecute(context.Background(), TriggeredFunctionData{TriggerValue: ic})
	if !result.Succeeded {
		return nil, result.Err
	}
	if v, ok := ic.ReturnValue(); ok {
		return task.RawPayload(v), nil
	}
	return nil, nil
}
