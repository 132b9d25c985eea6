package task

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/backend"
)

// ExecutorOption configures the executor returned by NewTaskExecutor.
type ExecutorOption func(*taskExecutor)

// WithEventStoreOptions configures the external event store of every orchestration execution.
func WithEventStoreOptions(opts ...EventStoreOption) ExecutorOption {
	return func(te *taskExecutor) { te.eventOptions = append(te.eventOptions, opts...) }
}

func WithExecutorLogger(logger backend.Logger) ExecutorOption {
	return func(te *taskExecutor) { te.logger = logger }
}

type taskExecutor struct {
	Registry     *TaskRegistry
	eventOptions []EventStoreOption
	logger       backend.Logger
}

// NewTaskExecutor returns a [backend.Executor] that runs the registered orchestrators and
// activities in the calling goroutine.
func NewTaskExecutor(registry *TaskRegistry, opts ...ExecutorOption) backend.Executor {
	te := &taskExecutor{Registry: registry, logger: backend.DefaultLogger()}
	for _, configure := range opts {
		configure(te)
	}
	return te
}

// ExecuteOrchestrator replays oldEvents, applies newEvents and returns the resulting actions.
func (te *taskExecutor) ExecuteOrchestrator(ctx context.Context, id api.InstanceID, oldEvents []*backend.HistoryEvent, newEvents []*backend.HistoryEvent) (*backend.ExecutionResults, error) {
	octx := NewOrchestrationContext(te.Registry, id, oldEvents, newEvents, te.eventOptions...)
	actions := octx.run()
	return &backend.ExecutionResults{Actions: actions, CustomStatus: octx.customStatus}, nil
}

// ExecuteActivity runs the activity named by a TaskScheduled event. Activity errors and
// panics are returned as TaskFailed events; only a malformed work item yields an error.
func (te *taskExecutor) ExecuteActivity(ctx context.Context, id api.InstanceID, e *backend.HistoryEvent) (result *backend.HistoryEvent, err error) {
	ts := e.GetTaskScheduled()
	if ts == nil {
		return nil, fmt.Errorf("ExecuteActivity needs a TaskScheduled event, got %v", e.TypeName())
	}
	activity, ok := te.Registry.getActivity(ts.Name, ts.Version)
	if !ok {
		return backend.NewTaskFailedEvent(e.EventID, &api.FailureDetails{
			ErrorType:      "TaskActivityNotRegistered",
			ErrorMessage:   fmt.Sprintf("no task activity named '%s' was registered", ts.Name),
			IsNonRetriable: true,
		}), nil
	}

	defer func() {
		if r := recover(); r != nil {
			te.logger.Errorf("%v: activity '%s' panicked: %v", id, ts.Name, r)
			result, err = backend.NewTaskFailedEvent(e.EventID, &api.FailureDetails{
				ErrorType:    "TaskActivityPanic",
				ErrorMessage: fmt.Sprintf("panic: %v", r),
				StackTrace:   string(debug.Stack()),
			}), nil
		}
	}()

	output, err := activity(&invocation{ctx: ctx, instance: id, scheduled: ts, id: e.EventID})
	if err != nil {
		return backend.NewTaskFailedEvent(e.EventID, api.NewFailureDetails(err)), nil
	}
	data, err := marshalData(output)
	if err != nil {
		err = fmt.Errorf("failed to marshal activity result: %w", err)
		return backend.NewTaskFailedEvent(e.EventID, api.NewFailureDetails(err)), nil
	}
	return backend.NewTaskCompletedEvent(e.EventID, string(data)), nil
}
