package binding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/listener"
	"github.com/microsoft/durabletask-webjobs-go/task"
)

// ActivityTrigger binds a function to an activity of a task hub.
type ActivityTrigger struct {
	TaskHub  string
	Activity string
	Version  string
}

// ActivityInstanceContext is the trigger value an activity function receives.
type ActivityInstanceContext struct {
	returnValue

	actx task.ActivityContext
}

func (c *ActivityInstanceContext) InstanceID() api.InstanceID {
	return c.actx.InstanceID()
}

func (c *ActivityInstanceContext) Name() string {
	return c.actx.Name()
}

func (c *ActivityInstanceContext) Context() context.Context {
	return c.actx.Context()
}

func (c *ActivityInstanceContext) RawInput() string {
	return c.actx.RawInput()
}

// GetInput decodes the activity input into v. Activity inputs are sent as a JSON array of
// arguments: a single argument is decoded into v, no arguments leave v untouched, and more
// than one argument is an error.
func (c *ActivityInstanceContext) GetInput(v any) error {
	raw := strings.TrimSpace(c.actx.RawInput())
	if raw == "" {
		return nil
	}
	var args []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return newError(ErrInputMismatch, "activity input is not a JSON array of arguments", err, map[string]any{
			"activity": c.actx.Name(),
		})
	}
	switch len(args) {
	case 0:
		return nil
	case 1:
		if err := json.Unmarshal(args[0], v); err != nil {
			return fmt.Errorf("failed to decode input of activity '%s': %w", c.actx.Name(), err)
		}
		return nil
	default:
		return newError(ErrInputMismatch, fmt.Sprintf("activity '%s' expects a single argument but received %d", c.actx.Name(), len(args)), nil, map[string]any{
			"activity":  c.actx.Name(),
			"arguments": len(args),
		})
	}
}

// ActivityTriggerBinding contributes an activity to the listener of its task hub.
type ActivityTriggerBinding struct {
	trigger  ActivityTrigger
	executor FunctionExecutor
	listener *listener.Lifecycle
}

// NewActivityTriggerBinding returns nil and no error when the dispatch connection is not
// configured.
func NewActivityTriggerBinding(trigger ActivityTrigger, conns ConnectionStringProvider, registry *listener.Registry, executor FunctionExecutor) (*ActivityTriggerBinding, error) {
	if trigger.Activity == "" {
		return nil, fmt.Errorf("activity trigger in task hub '%s' has no activity name", trigger.TaskHub)
	}
	conn := conns.GetConnectionString(DispatchConnectionName)
	if conn == "" {
		return nil, nil
	}
	b := &ActivityTriggerBinding{trigger: trigger, executor: executor}
	l, err := registry.GetOrCreate(&listener.WorkerContext{
		HubName:                 trigger.TaskHub,
		ConnectionString:        conn,
		StorageConnectionString: conns.GetConnectionString(StorageConnectionName),
		Activities: []task.ActivityCreator{{
			Name:    trigger.Activity,
			Version: trigger.Version,
			Create:  func() task.Activity { return b.execute },
		}},
	})
	if err != nil {
		return nil, err
	}
	b.listener = l
	return b, nil
}

func (b *ActivityTriggerBinding) Listener() *listener.Lifecycle {
	return b.listener
}

func (b *ActivityTriggerBinding) Trigger() ActivityTrigger {
	return b.trigger
}

func (b *ActivityTriggerBinding) execute(actx task.ActivityContext) (any, error) {
	ic := &ActivityInstanceContext{actx: actx}
	result := b.executor.TryExecute(actx.Context(), TriggeredFunctionData{TriggerValue: ic})
	if !result.Succeeded {
		return nil, result.Err
	}
	if v, ok := ic.ReturnValue(); ok {
		return task.RawPayload(v), nil
	}
	return nil, nil
}
