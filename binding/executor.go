package binding

import (
	"context"
	"encoding/json"
	"fmt"
)

// TriggeredFunctionData carries the trigger value a bound function is invoked with, either an
// *OrchestrationInstanceContext or an *ActivityInstanceContext.
type TriggeredFunctionData struct {
	TriggerValue any
}

// FunctionResult reports the outcome of one invocation. Err is the original error raised by
// the function.
type FunctionResult struct {
	Succeeded bool
	Err       error
}

// FunctionExecutor invokes the function behind a trigger.
//
// Orchestrator functions unwind with control flow panics (see task.IsControlFlowPanic).
// Implementations that recover panics must re-panic those values.
type FunctionExecutor interface {
	TryExecute(ctx context.Context, data TriggeredFunctionData) FunctionResult
}

type FunctionExecutorFunc func(ctx context.Context, data TriggeredFunctionData) FunctionResult

func (f FunctionExecutorFunc) TryExecute(ctx context.Context, data TriggeredFunctionData) FunctionResult {
	return f(ctx, data)
}

// returnValue holds the result a function sets on its trigger context. Strings are kept as
// they are; everything else is stored as JSON.
type returnValue struct {
	value *string
}

func (r *returnValue) SetReturnValue(v any) error {
	switch s := v.(type) {
	case nil:
		r.value = nil
	case string:
		r.value = &s
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to serialize return value: %w", err)
		}
		str := string(bytes)
		r.value = &str
	}
	return nil
}

// ReturnValue returns the serialized result and whether one was set.
func (r *returnValue) ReturnValue() (string, bool) {
	if r.value == nil {
		return "", false
	}
	return *r.value, true
}
