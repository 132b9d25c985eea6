package backend

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"

	"github.com/microsoft/durabletask-webjobs-go/internal/helpers"
)

type activityProcessor struct {
	be       Backend
	executor ActivityExecutor
	logger   Logger
}

// NewActivityTaskWorker returns a worker that runs the activities queued in be.
func NewActivityTaskWorker(be Backend, executor ActivityExecutor, logger Logger, opts ...NewTaskWorkerOptions) TaskWorker[*ActivityWorkItem] {
	p := &activityProcessor{be: be, executor: executor, logger: logger}
	return NewTaskWorker[*ActivityWorkItem](p, logger, opts...)
}

func (*activityProcessor) Name() string {
	return "activity-processor"
}

func (p *activityProcessor) FetchWorkItem(ctx context.Context) (*ActivityWorkItem, error) {
	return p.be.GetActivityWorkItem(ctx)
}

// ProcessWorkItem runs the activity and stores its TaskCompleted or TaskFailed
// event as the work item result. An error means the activity could not be run at
// all and the work item is abandoned.
func (p *activityProcessor) ProcessWorkItem(ctx context.Context, wi *ActivityWorkItem) error {
	ts := wi.NewEvent.GetTaskScheduled()
	if ts == nil {
		return fmt.Errorf("%v: activity work item has no TaskScheduled event", wi.InstanceID)
	}

	// Traced only when the scheduling orchestration was traced.
	span := helpers.NoopSpan()
	if ts.ParentTraceContext != nil {
		parentCtx, err := helpers.ContextFromTraceContext(ctx, ts.ParentTraceContext)
		if err != nil {
			p.logger.Warnf("%v: ignoring invalid trace context: %v", wi.InstanceID, err)
		} else {
			ctx, span = helpers.StartActivitySpan(parentCtx, ts.Name, ts.Version, string(wi.InstanceID), wi.NewEvent.EventID)
		}
	}
	defer span.End()

	result, err := p.executor.ExecuteActivity(ctx, wi.InstanceID, wi.NewEvent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if tf := result.GetTaskFailed(); tf != nil && tf.FailureDetails != nil {
		span.SetStatus(codes.Error, tf.FailureDetails.ErrorMessage)
	}
	wi.Result = result
	return nil
}

func (p *activityProcessor) CompleteWorkItem(ctx context.Context, wi *ActivityWorkItem) error {
	if wi.Result == nil || (wi.Result.GetTaskCompleted() == nil && wi.Result.GetTaskFailed() == nil) {
		return fmt.Errorf("activity work item '%s' has no result", wi.Description())
	}
	return p.be.CompleteActivityWorkItem(ctx, wi)
}

func (p *activityProcessor) AbandonWorkItem(ctx context.Context, wi *ActivityWorkItem) error {
	return p.be.AbandonActivityWorkItem(ctx, wi)
}
