package backend

import (
	"errors"
	"fmt"
	"time"

	"github.com/microsoft/durabletask-webjobs-go/api"
)

var ErrDuplicateEvent = errors.New("duplicate event")

// OrchestrationRuntimeState is the history of one instance split into the events
// already persisted (old) and those produced by the current step (new), together
// with the work the step scheduled.
type OrchestrationRuntimeState struct {
	instanceID api.InstanceID
	oldEvents  []*HistoryEvent
	newEvents  []*HistoryEvent

	// Work to persist alongside newEvents.
	pendingTasks  []*HistoryEvent
	pendingTimers []*HistoryEvent

	startEvent     *ExecutionStartedEvent
	completedEvent *ExecutionCompletedEvent
	createdTime    time.Time
	completedTime  time.Time
	continuedAsNew bool

	CustomStatus string
}

// NewOrchestrationRuntimeState rebuilds the state of an instance from its persisted history.
func NewOrchestrationRuntimeState(instanceID api.InstanceID, history []*HistoryEvent) *OrchestrationRuntimeState {
	s := &OrchestrationRuntimeState{
		instanceID: instanceID,
		oldEvents:  make([]*HistoryEvent, 0, len(history)),
	}
	for _, e := range history {
		if err := s.record(e); err == nil {
			s.oldEvents = append(s.oldEvents, e)
		}
	}
	return s
}

// AddEvent appends e to the new events. It returns [ErrDuplicateEvent] for a second
// start or completion of the instance, or for a task or timer that already completed.
func (s *OrchestrationRuntimeState) AddEvent(e *HistoryEvent) error {
	if err := s.record(e); err != nil {
		return err
	}
	s.newEvents = append(s.newEvents, e)
	return nil
}

// record updates the lifecycle fields for e without storing it.
func (s *OrchestrationRuntimeState) record(e *HistoryEvent) error {
	switch {
	case e.ExecutionStarted != nil:
		if s.startEvent != nil {
			return ErrDuplicateEvent
		}
		s.startEvent, s.createdTime = e.ExecutionStarted, e.Timestamp
	case e.ExecutionCompleted != nil:
		if s.completedEvent != nil {
			return ErrDuplicateEvent
		}
		s.completedEvent, s.completedTime = e.ExecutionCompleted, e.Timestamp
	case e.TaskCompleted != nil, e.TaskFailed != nil, e.TimerFired != nil:
		if s.completed(e) {
			return ErrDuplicateEvent
		}
	}
	return nil
}

// completed reports whether a completion of the same kind and sequence number is
// already in the history. Stores deliver messages at least once.
func (s *OrchestrationRuntimeState) completed(e *HistoryEvent) bool {
	taskID := GetTaskId(e)
	for _, events := range [][]*HistoryEvent{s.oldEvents, s.newEvents} {
		for _, prior := range events {
			if prior.EventID < 0 && prior.TypeName() == e.TypeName() && GetTaskId(prior) == taskID {
				return true
			}
		}
	}
	return false
}

// IsValid is false for a non-empty history that lacks an ExecutionStarted event.
func (s *OrchestrationRuntimeState) IsValid() bool {
	return s.startEvent != nil || (len(s.oldEvents) == 0 && len(s.newEvents) == 0)
}

// ApplyActions records the actions of one orchestrator run as history events and
// pending work. It returns true when the orchestration continued as new; the state
// is then replaced by a fresh one and the orchestrator must run again.
func (s *OrchestrationRuntimeState) ApplyActions(actions []*OrchestratorAction, tc *api.TraceContext) (bool, error) {
	for _, action := range actions {
		switch {
		case action.CompleteOrchestration != nil:
			complete := action.CompleteOrchestration
			if complete.OrchestrationStatus == api.RUNTIME_STATUS_CONTINUED_AS_NEW {
				s.restart(complete.Result, complete.CarryoverEvents)
				return true, nil
			}
			_ = s.AddEvent(NewExecutionCompletedEvent(action.ID, complete.OrchestrationStatus, complete.Result, complete.FailureDetails))
		case action.CreateTimer != nil:
			fireAt := action.CreateTimer.FireAt
			_ = s.AddEvent(NewTimerCreatedEvent(action.ID, fireAt))
			s.pendingTimers = append(s.pendingTimers, NewTimerFiredEvent(action.ID, fireAt))
		case action.ScheduleTask != nil:
			task := action.ScheduleTask
			scheduled := NewTaskScheduledEvent(action.ID, task.Name, task.Version, task.Input, tc)
			_ = s.AddEvent(scheduled)
			s.pendingTasks = append(s.pendingTasks, scheduled)
		default:
			return false, fmt.Errorf("unknown action type: %v", action.TypeName())
		}
	}
	return false, nil
}

// restart replaces s with a new generation of the instance that starts with input
// and receives the carried-over events. Remaining actions are discarded.
func (s *OrchestrationRuntimeState) restart(input string, carryover []*HistoryEvent) {
	next := NewOrchestrationRuntimeState(s.instanceID, nil)
	next.continuedAsNew = true
	_ = next.AddEvent(NewOrchestratorStartedEvent())
	_ = next.AddEvent(NewExecutionStartedEvent(s.startEvent.Name, s.startEvent.Version, string(s.instanceID), input, s.startEvent.ParentTraceContext))
	for _, e := range carryover {
		_ = next.AddEvent(e)
	}
	*s = *next
}

// Terminate completes a running orchestration with the TERMINATED status.
func (s *OrchestrationRuntimeState) Terminate(rawReason string) {
	if s.completedEvent == nil {
		_ = s.AddEvent(NewExecutionCompletedEvent(-1, api.RUNTIME_STATUS_TERMINATED, rawReason, nil))
	}
}

func (s *OrchestrationRuntimeState) InstanceID() api.InstanceID {
	return s.instanceID
}

func (s *OrchestrationRuntimeState) started() (*ExecutionStartedEvent, error) {
	if s.startEvent == nil {
		return nil, api.ErrNotStarted
	}
	return s.startEvent, nil
}

func (s *OrchestrationRuntimeState) Name() (string, error) {
	es, err := s.started()
	if err != nil {
		return "", err
	}
	return es.Name, nil
}

func (s *OrchestrationRuntimeState) Version() (string, error) {
	es, err := s.started()
	if err != nil {
		return "", err
	}
	return es.Version, nil
}

func (s *OrchestrationRuntimeState) Input() (string, error) {
	es, err := s.started()
	if err != nil {
		return "", err
	}
	return es.Input, nil
}

func (s *OrchestrationRuntimeState) CreatedTime() (time.Time, error) {
	if _, err := s.started(); err != nil {
		return time.Time{}, err
	}
	return s.createdTime, nil
}

func (s *OrchestrationRuntimeState) Output() (string, error) {
	if s.completedEvent == nil {
		return "", api.ErrNotCompleted
	}
	return s.completedEvent.Result, nil
}

func (s *OrchestrationRuntimeState) CompletedTime() (time.Time, error) {
	if s.completedEvent == nil {
		return time.Time{}, api.ErrNotCompleted
	}
	return s.completedTime, nil
}

// FailureDetails returns [api.ErrNoFailures] for instances that completed successfully.
func (s *OrchestrationRuntimeState) FailureDetails() (*api.FailureDetails, error) {
	switch {
	case s.completedEvent == nil:
		return nil, api.ErrNotCompleted
	case s.completedEvent.FailureDetails == nil:
		return nil, api.ErrNoFailures
	}
	return s.completedEvent.FailureDetails, nil
}

func (s *OrchestrationRuntimeState) RuntimeStatus() api.OrchestrationStatus {
	switch {
	case s.startEvent == nil:
		return api.RUNTIME_STATUS_PENDING
	case s.completedEvent != nil:
		return s.completedEvent.OrchestrationStatus
	}
	return api.RUNTIME_STATUS_RUNNING
}

func (s *OrchestrationRuntimeState) IsCompleted() bool              { return s.completedEvent != nil }
func (s *OrchestrationRuntimeState) ContinuedAsNew() bool           { return s.continuedAsNew }
func (s *OrchestrationRuntimeState) OldEvents() []*HistoryEvent     { return s.oldEvents }
func (s *OrchestrationRuntimeState) NewEvents() []*HistoryEvent     { return s.newEvents }
func (s *OrchestrationRuntimeState) PendingTasks() []*HistoryEvent  { return s.pendingTasks }
func (s *OrchestrationRuntimeState) PendingTimers() []*HistoryEvent { return s.pendingTimers }

func (s *OrchestrationRuntimeState) String() string {
	return fmt.Sprintf("%v:%v", s.instanceID, s.RuntimeStatus())
}
