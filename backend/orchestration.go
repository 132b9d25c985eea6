package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/internal/helpers"
)

// maxContinueAsNew bounds how often an orchestrator may continue-as-new within a
// single work item before the work item is failed.
const maxContinueAsNew = 20

type orchestrationProcessor struct {
	be       Backend
	executor OrchestratorExecutor
	logger   Logger
}

// NewOrchestrationWorker returns a worker that runs orchestrator steps for the
// work items fetched from be.
func NewOrchestrationWorker(be Backend, executor OrchestratorExecutor, logger Logger, opts ...NewTaskWorkerOptions) TaskWorker[*OrchestrationWorkItem] {
	p := &orchestrationProcessor{be: be, executor: executor, logger: logger}
	return NewTaskWorker[*OrchestrationWorkItem](p, logger, opts...)
}

func (*orchestrationProcessor) Name() string {
	return "orchestration-processor"
}

func (p *orchestrationProcessor) FetchWorkItem(ctx context.Context) (*OrchestrationWorkItem, error) {
	return p.be.GetOrchestrationWorkItem(ctx)
}

func (p *orchestrationProcessor) CompleteWorkItem(ctx context.Context, wi *OrchestrationWorkItem) error {
	return p.be.CompleteOrchestrationWorkItem(ctx, wi)
}

func (p *orchestrationProcessor) AbandonWorkItem(ctx context.Context, wi *OrchestrationWorkItem) error {
	return p.be.AbandonOrchestrationWorkItem(ctx, wi)
}

// ProcessWorkItem applies the new events to the instance state and, unless the
// instance was terminated or nothing new arrived, runs the orchestrator.
func (p *orchestrationProcessor) ProcessWorkItem(ctx context.Context, wi *OrchestrationWorkItem) error {
	if wi.State == nil {
		state, err := p.be.GetOrchestrationRuntimeState(ctx, wi)
		if err != nil {
			return fmt.Errorf("failed to load state of '%s': %w", wi.InstanceID, err)
		}
		wi.State = state
	}
	p.logger.Debugf("%v: %s; new events: %s", wi.InstanceID, describeState(wi), HistoryListSummary(wi.NewEvents))

	added, terminated, ok := p.admit(wi)
	if !ok {
		return nil
	}

	ctx, span := p.startSpan(ctx, wi)
	for _, e := range wi.NewEvents {
		if tf := e.GetTimerFired(); tf != nil {
			helpers.RecordTimerSpan(ctx, string(wi.InstanceID), tf.TimerID, e.Timestamp, tf.FireAt)
		}
	}

	switch {
	case terminated != nil:
		// Termination never reaches the orchestrator.
		wi.State.Terminate(terminated.Input)
		p.logger.Infof("%v: orchestration was terminated", wi.InstanceID)
		p.endSpan(wi, span, false)
		return nil
	case added == 0:
		p.logger.Warnf("%v: all new events were dropped", wi.InstanceID)
		span.End()
		return nil
	}
	return p.execute(ctx, span, wi)
}

// admit appends the work item's events to the instance state and reports how many
// were accepted and whether one of them terminates the instance. It returns false
// when the instance state cannot accept events at all.
func (p *orchestrationProcessor) admit(wi *OrchestrationWorkItem) (int, *ExecutionTerminatedEvent, bool) {
	switch {
	case !wi.State.IsValid():
		p.logger.Warnf("%v: orchestration state is invalid; dropping work item", wi.InstanceID)
		return 0, nil, false
	case wi.State.IsCompleted():
		p.logger.Warnf("%v: orchestration already completed; dropping work item", wi.InstanceID)
		return 0, nil, false
	case len(wi.NewEvents) == 0:
		p.logger.Warnf("%v: work item has no events", wi.InstanceID)
	}

	// Marks the replay boundary and sets the orchestration's current time.
	_ = wi.State.AddEvent(NewOrchestratorStartedEvent())

	var (
		added      int
		terminated *ExecutionTerminatedEvent
	)
	for _, e := range wi.NewEvents {
		if err := wi.State.AddEvent(e); errors.Is(err, ErrDuplicateEvent) {
			p.logger.Warnf("%v: dropping duplicate %v event", wi.InstanceID, e.TypeName())
			continue
		} else if err != nil {
			p.logger.Warnf("%v: dropping %v event: %v", wi.InstanceID, e.TypeName(), err)
			continue
		}
		added++

		if es := e.GetExecutionStarted(); es != nil {
			p.logger.Infof("%v: starting new '%s' instance", wi.InstanceID, es.Name)
		} else if et := e.GetExecutionTerminated(); et != nil {
			terminated = et
		}
	}
	return added, terminated, true
}

// execute runs the orchestrator and applies its actions. Continue-as-new restarts it
// right away with the carried-over state, each run getting its own span.
func (p *orchestrationProcessor) execute(ctx context.Context, span trace.Span, wi *OrchestrationWorkItem) error {
	defer func() { p.endSpan(wi, span, false) }()

	for n := 0; ; n++ {
		results, err := p.executor.ExecuteOrchestrator(ctx, wi.InstanceID, wi.State.OldEvents(), wi.State.NewEvents())
		if err != nil {
			return fmt.Errorf("failed to execute orchestrator: %w", err)
		}
		p.logger.Debugf("%v: orchestrator returned %d action(s): %s", wi.InstanceID, len(results.Actions), ActionListSummary(results.Actions))

		continued, err := wi.State.ApplyActions(results.Actions, helpers.TraceContextFromSpan(span))
		if err != nil {
			return fmt.Errorf("failed to apply orchestrator actions: %w", err)
		}
		wi.State.CustomStatus = results.CustomStatus
		if !continued {
			break
		}

		if n >= maxContinueAsNew {
			return fmt.Errorf("orchestrator continued-as-new more than %d times in one step", maxContinueAsNew)
		}
		p.logger.Debugf("%v: continuing as new with %d event(s)", wi.InstanceID, len(wi.State.NewEvents()))
		p.endSpan(wi, span, true)
		ctx, span = p.startSpan(ctx, wi)
	}

	if wi.State.IsCompleted() {
		name, _ := wi.State.Name()
		p.logger.Infof("%v: '%s' completed with status %s", wi.InstanceID, name, wi.State.RuntimeStatus())
	}
	return nil
}

func describeState(wi *OrchestrationWorkItem) string {
	name, err := wi.State.Name()
	if err != nil && len(wi.NewEvents) > 0 {
		if es := wi.NewEvents[0].GetExecutionStarted(); es != nil {
			name = es.Name
		}
	}
	if name == "" {
		name = "(unknown)"
	}

	age := "(new)"
	if createdAt, err := wi.State.CreatedTime(); err == nil {
		if d := time.Since(createdAt); d > 0 {
			age = d.Round(time.Second).String()
		}
	}
	return fmt.Sprintf("name=%s, status=%s, history=%d, age=%s", name, wi.State.RuntimeStatus(), len(wi.State.OldEvents()), age)
}

// startSpan starts the span of one orchestrator run. Instances created without a
// trace context are not traced.
func (p *orchestrationProcessor) startSpan(ctx context.Context, wi *OrchestrationWorkItem) (context.Context, trace.Span) {
	es := wi.State.startEvent
	if es == nil || es.ParentTraceContext == nil {
		return ctx, helpers.NoopSpan()
	}

	parentCtx, err := helpers.ContextFromTraceContext(ctx, es.ParentTraceContext)
	if err != nil {
		p.logger.Warnf("%v: ignoring invalid trace context: %v", wi.InstanceID, err)
		return ctx, helpers.NoopSpan()
	}
	return helpers.StartOrchestrationSpan(parentCtx, es.Name, es.Version, es.InstanceID, time.Now().UTC())
}

func (p *orchestrationProcessor) endSpan(wi *OrchestrationWorkItem, span trace.Span, continuedAsNew bool) {
	defer span.End()

	status := attribute.Key("durabletask.runtime_status")
	switch {
	case continuedAsNew:
		span.SetAttributes(status.String(api.RUNTIME_STATUS_CONTINUED_AS_NEW.String()))
		return
	case wi.State.IsCompleted():
		if fd, err := wi.State.FailureDetails(); err == nil {
			span.SetStatus(codes.Error, fd.ErrorMessage)
		}
		span.SetAttributes(status.String(wi.State.RuntimeStatus().String()))
	}
	addSpanEvents(span, wi.State.NewEvents())
}

// addSpanEvents records raised events and terminations on span.
func addSpanEvents(span trace.Span, events []*HistoryEvent) {
	for _, e := range events {
		if er := e.GetEventRaised(); er != nil {
			span.AddEvent("Received external event",
				trace.WithTimestamp(e.Timestamp),
				trace.WithAttributes(attribute.String("name", er.Name), attribute.Int("size", len(er.Input))))
		} else if et := e.GetExecutionTerminated(); et != nil {
			span.AddEvent("Execution terminated",
				trace.WithTimestamp(e.Timestamp),
				trace.WithAttributes(attribute.String("reason", et.Input)))
		}
	}
}
