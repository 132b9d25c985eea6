package host

import (
	"context"
	"fmt"
	"runtime/debug"

	apperrors "github.com/goliatone/go-errors"

	"github.com/microsoft/durabletask-webjobs-go/backend"
	"github.com/microsoft/durabletask-webjobs-go/binding"
	"github.com/microsoft/durabletask-webjobs-go/task"
)

// OrchestratorFunc is a Go function bound to an orchestration trigger. A non-nil result
// becomes the orchestration output.
type OrchestratorFunc func(ctx *binding.OrchestrationInstanceContext) (any, error)

// ActivityFunc is a Go function bound to an activity trigger.
type ActivityFunc func(ctx *binding.ActivityInstanceContext) (any, error)

type returnValueSetter interface {
	SetReturnValue(v any) error
}

// functionExecutor implements binding.FunctionExecutor for one indexed function.
type functionExecutor struct {
	name   string
	logger backend.Logger
	invoke func(trigger any) (any, error)
}

func orchestratorExecutor(name string, fn OrchestratorFunc, logger backend.Logger) *functionExecutor {
	return &functionExecutor{name: name, logger: logger, invoke: func(trigger any) (any, error) {
		c, ok := trigger.(*binding.OrchestrationInstanceContext)
		if !ok {
			return nil, fmt.Errorf("function '%s' expects an orchestration trigger, got %T", name, trigger)
		}
		return fn(c)
	}}
}

func activityExecutor(name string, fn ActivityFunc, logger backend.Logger) *functionExecutor {
	return &functionExecutor{name: name, logger: logger, invoke: func(trigger any) (any, error) {
		c, ok := trigger.(*binding.ActivityInstanceContext)
		if !ok {
			return nil, fmt.Errorf("function '%s' expects an activity trigger, got %T", name, trigger)
		}
		return fn(c)
	}}
}

func (e *functionExecutor) TryExecute(_ context.Context, data binding.TriggeredFunctionData) (result binding.FunctionResult) {
	defer func() {
		if r := recover(); r != nil {
			if task.IsControlFlowPanic(r) {
				panic(r)
			}
			e.logger.Errorf("function '%s' panicked: %v", e.name, r)
			result = binding.FunctionResult{
				Err: apperrors.New(fmt.Sprintf("function '%s' panicked: %v", e.name, r), apperrors.CategoryHandler).
					WithTextCode("FUNCTION_PANIC").
					WithMetadata(map[string]any{"function": e.name, "stack": string(debug.Stack())}),
			}
		}
	}()

	output, err := e.invoke(data.TriggerValue)
	if err != nil {
		return binding.FunctionResult{Err: err}
	}
	if output != nil {
		setter, ok := data.TriggerValue.(returnValueSetter)
		if !ok {
			return binding.FunctionResult{Err: fmt.Errorf("function '%s' returned a value its trigger cannot hold", e.name)}
		}
		if err := setter.SetReturnValue(output); err != nil {
			return binding.FunctionResult{Err: err}
		}
	}
	return binding.FunctionResult{Succeeded: true}
}
