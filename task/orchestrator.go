package task

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/backend"
	"github.com/microsoft/durabletask-webjobs-go/internal/helpers"
)

// Orchestrator is the functional interface for orchestrator functions.
type Orchestrator func(ctx *OrchestrationContext) (any, error)

// OrchestrationContext is the parameter type for orchestrator functions. A new context is
// created for every execution and the orchestrator replays its history through it.
type OrchestrationContext struct {
	ID             api.InstanceID
	Name           string
	Version        string
	IsReplaying    bool
	CurrentTimeUtc time.Time

	registry *TaskRegistry
	events   *EventCorrelationStore
	history  history
	outbox   *outbox
	rawInput []byte

	continueAsNew *continueAsNew
	completion    *backend.CompleteOrchestrationAction
	customStatus  string
}

type continueAsNew struct {
	input any
}

// NewOrchestrationContext returns a context that replays oldEvents and then applies newEvents.
func NewOrchestrationContext(registry *TaskRegistry, id api.InstanceID, oldEvents []*backend.HistoryEvent, newEvents []*backend.HistoryEvent, opts ...EventStoreOption) *OrchestrationContext {
	return &OrchestrationContext{
		ID:       id,
		registry: registry,
		events:   NewEventCorrelationStore(opts...),
		history:  history{old: oldEvents, new: newEvents},
		outbox:   newOutbox(),
	}
}

// run replays the whole history and returns the actions of this execution. Any
// failure, including a panic in the orchestrator, becomes a FAILED completion.
func (ctx *OrchestrationContext) run() (actions []*backend.OrchestratorAction) {
	defer func() {
		r := recover()
		switch {
		case r == nil:
			return
		case r == ErrTaskBlocked:
			// The orchestrator awaits something that has not happened yet.
		default:
			if fe, ok := r.(fatalError); ok {
				ctx.fail(fe.err)
				break
			}
			ctx.fail(fmt.Errorf("orchestrator panic: %v\n%s", r, debug.Stack()))
		}
		actions = ctx.outbox.sorted()
	}()

	for {
		more, err := ctx.step()
		if err != nil {
			ctx.fail(err)
			break
		}
		if !more {
			break
		}
	}

	if c := ctx.completion; c != nil && c.OrchestrationStatus == api.RUNTIME_STATUS_CONTINUED_AS_NEW {
		// Buffered events nobody awaited move to the next generation.
		for _, e := range ctx.events.drainBuffered() {
			c.CarryoverEvents = append(c.CarryoverEvents, backend.NewEventRaisedEvent(e.name, e.raw))
		}
	}
	return ctx.outbox.sorted()
}

// step applies the next history event. It returns false once history is exhausted.
func (ctx *OrchestrationContext) step() (bool, error) {
	e, replaying, ok := ctx.history.next()
	if !ok {
		return false, nil
	}
	ctx.IsReplaying = replaying
	return true, ctx.apply(e)
}

// mustStep is step for code running inside the orchestrator function, where an
// error can only be reported by unwinding.
func (ctx *OrchestrationContext) mustStep() bool {
	more, err := ctx.step()
	if err != nil {
		panic(fatalError{err: err})
	}
	return more
}

func (ctx *OrchestrationContext) apply(e *backend.HistoryEvent) error {
	switch {
	case e.OrchestratorStarted != nil:
		ctx.CurrentTimeUtc = e.Timestamp.UTC()
	case e.ExecutionStarted != nil:
		return ctx.onExecutionStarted(e.ExecutionStarted)
	case e.TaskScheduled != nil:
		return ctx.outbox.confirm(e.EventID, "ScheduleTask", fmt.Sprintf("activity '%s'", e.TaskScheduled.Name))
	case e.TaskCompleted != nil:
		t, err := ctx.outbox.take(e.TaskCompleted.TaskScheduledID, "a task result")
		if err != nil {
			return err
		}
		t.complete(nilIfEmpty(e.TaskCompleted.Result))
	case e.TaskFailed != nil:
		t, err := ctx.outbox.take(e.TaskFailed.TaskScheduledID, "a task failure")
		if err != nil {
			return err
		}
		fd := e.TaskFailed.FailureDetails
		if fd == nil {
			fd = &api.FailureDetails{ErrorMessage: "unknown failure"}
		}
		t.fail(fd)
	case e.TimerCreated != nil:
		return ctx.outbox.confirm(e.EventID, "CreateTimer", "a timer")
	case e.TimerFired != nil:
		t, err := ctx.outbox.take(e.TimerFired.TimerID, "a fired timer")
		if err != nil {
			return err
		}
		t.complete(t.rawResult)
	case e.EventRaised != nil:
		if _, err := ctx.events.Deliver(e.EventRaised.Name, e.EventRaised.Input); err != nil {
			return fmt.Errorf("failed to deliver external event '%s': %w", e.EventRaised.Name, err)
		}
	case e.ExecutionCompleted != nil, e.ExecutionTerminated != nil:
	default:
		return fmt.Errorf("don't know how to handle event: %v", e.TypeName())
	}
	return nil
}

func nilIfEmpty(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

func (ctx *OrchestrationContext) onExecutionStarted(es *backend.ExecutionStartedEvent) error {
	orchestrator, ok := ctx.registry.getOrchestrator(es.Name, es.Version)
	if !ok {
		return fmt.Errorf("orchestrator named '%s' is not registered", es.Name)
	}
	ctx.Name = es.Name
	ctx.Version = es.Version
	ctx.rawInput = []byte(es.Input)

	output, err := orchestrator(ctx)
	switch {
	case err != nil:
		ctx.fail(err)
	case ctx.continueAsNew != nil:
		if err := ctx.complete(api.RUNTIME_STATUS_CONTINUED_AS_NEW, ctx.continueAsNew.input, nil); err != nil {
			ctx.fail(fmt.Errorf("failed to continue as new: %w", err))
		}
	default:
		if err := ctx.complete(api.RUNTIME_STATUS_COMPLETED, output, nil); err != nil {
			ctx.fail(fmt.Errorf("failed to complete the orchestration: %w", err))
		}
	}
	return nil
}

// fail discards scheduled work and completes the orchestration as FAILED.
func (ctx *OrchestrationContext) fail(err error) {
	ctx.outbox.discard()
	_ = ctx.complete(api.RUNTIME_STATUS_FAILED, nil, api.NewFailureDetails(err))
}

func (ctx *OrchestrationContext) complete(status api.OrchestrationStatus, result any, fd *api.FailureDetails) error {
	data, err := marshalData(result)
	if err != nil {
		return fmt.Errorf("failed to marshal orchestrator output to JSON: %w", err)
	}
	a := backend.NewCompleteOrchestrationAction(ctx.outbox.nextID(), status, string(data), nil, fd)
	ctx.outbox.add(a, nil)
	ctx.completion = a.CompleteOrchestration
	return nil
}

// GetInput decodes the orchestration input into v.
func (ctx *OrchestrationContext) GetInput(v any) error {
	return unmarshalData(ctx.rawInput, v)
}

// RawInput returns the serialized orchestration input.
func (ctx *OrchestrationContext) RawInput() string {
	return string(ctx.rawInput)
}

// CallActivity schedules an activity with at most one input. activity is either the
// activity name or the activity function itself, whose name is then derived from
// the function.
func (ctx *OrchestrationContext) CallActivity(activity any, opts ...callActivityOption) Task {
	name := helpers.GetTaskFunctionName(activity)
	options := new(callActivityOptions)
	for _, configure := range opts {
		if err := configure(options); err != nil {
			return failedTask(ctx, name, err)
		}
	}
	return ctx.scheduleTask(name, options.version, options.rawInput)
}

// ScheduleActivity schedules an activity by name and version. The arguments are sent to the
// activity as a JSON array.
func (ctx *OrchestrationContext) ScheduleActivity(name string, version string, args ...any) Task {
	if args == nil {
		args = []any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return failedTask(ctx, name, fmt.Errorf("failed to marshal activity arguments: %w", err))
	}
	return ctx.scheduleTask(name, version, string(data))
}

func (ctx *OrchestrationContext) scheduleTask(name string, version string, rawInput string) Task {
	t := newTask(ctx, name)
	ctx.outbox.add(backend.NewScheduleTaskAction(ctx.outbox.nextID(), name, version, rawInput), t)
	return t
}

func failedTask(ctx *OrchestrationContext, name string, err error) Task {
	t := newTask(ctx, name)
	t.fail(api.NewFailureDetails(err))
	return t
}

// WaitForExternalEvent returns a task that completes with the next delivery of the named
// event, materialized as T. Waits on the same name share one delivery.
func WaitForExternalEvent[T any](ctx *OrchestrationContext, name string) *EventTask[T] {
	pending, err := WaitFor[T](ctx.events, name)
	return &EventTask[T]{
		octx:    ctx,
		name:    name,
		pending: pending,
		err:     err,
	}
}

// RaiseEvent delivers a payload to a wait registered in this execution.
func (ctx *OrchestrationContext) RaiseEvent(name string, rawPayload string) (DeliveryOutcome, error) {
	return ctx.events.Deliver(name, rawPayload)
}

// SetCustomStatus stores a JSON-serializable status value with the orchestration.
func (ctx *OrchestrationContext) SetCustomStatus(v any) error {
	data, err := marshalData(v)
	if err != nil {
		return fmt.Errorf("failed to marshal custom status: %w", err)
	}
	ctx.customStatus = string(data)
	return nil
}

// ContinueAsNew restarts the orchestration with newInput once the orchestrator returns.
// Its return value is then ignored.
func (ctx *OrchestrationContext) ContinueAsNew(newInput any) {
	ctx.continueAsNew = &continueAsNew{input: newInput}
}
