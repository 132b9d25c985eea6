package backend

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/microsoft/durabletask-webjobs-go/api"
)

// HistoryEvent is a single entry of an orchestration's history. Exactly one of the
// event-specific fields is set.
type HistoryEvent struct {
	EventID   int32     `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`

	ExecutionStarted    *ExecutionStartedEvent    `json:"executionStarted,omitempty"`
	ExecutionCompleted  *ExecutionCompletedEvent  `json:"executionCompleted,omitempty"`
	ExecutionTerminated *ExecutionTerminatedEvent `json:"executionTerminated,omitempty"`
	OrchestratorStarted *OrchestratorStartedEvent `json:"orchestratorStarted,omitempty"`
	TaskScheduled       *TaskScheduledEvent       `json:"taskScheduled,omitempty"`
	TaskCompleted       *TaskCompletedEvent       `json:"taskCompleted,omitempty"`
	TaskFailed          *TaskFailedEvent          `json:"taskFailed,omitempty"`
	TimerCreated        *TimerCreatedEvent        `json:"timerCreated,omitempty"`
	TimerFired          *TimerFiredEvent          `json:"timerFired,omitempty"`
	EventRaised         *EventRaisedEvent         `json:"eventRaised,omitempty"`
}

type ExecutionStartedEvent struct {
	Name               string            `json:"name"`
	Version            string            `json:"version,omitempty"`
	Input              string            `json:"input,omitempty"`
	InstanceID         string            `json:"instanceId"`
	ExecutionID        string            `json:"executionId"`
	ScheduledStartTime time.Time         `json:"scheduledStartTime,omitempty"`
	ParentTraceContext *api.TraceContext `json:"parentTraceContext,omitempty"`
}

type ExecutionCompletedEvent struct {
	OrchestrationStatus api.OrchestrationStatus `json:"orchestrationStatus"`
	Result              string                  `json:"result,omitempty"`
	FailureDetails      *api.FailureDetails     `json:"failureDetails,omitempty"`
}

type ExecutionTerminatedEvent struct {
	Input string `json:"input,omitempty"`
}

type OrchestratorStartedEvent struct{}

type TaskScheduledEvent struct {
	Name               string            `json:"name"`
	Version            string            `json:"version,omitempty"`
	Input              string            `json:"input,omitempty"`
	ParentTraceContext *api.TraceContext `json:"parentTraceContext,omitempty"`
}

type TaskCompletedEvent struct {
	TaskScheduledID int32  `json:"taskScheduledId"`
	Result          string `json:"result,omitempty"`
}

type TaskFailedEvent struct {
	TaskScheduledID int32               `json:"taskScheduledId"`
	FailureDetails  *api.FailureDetails `json:"failureDetails,omitempty"`
}

type TimerCreatedEvent struct {
	FireAt time.Time `json:"fireAt"`
}

type TimerFiredEvent struct {
	TimerID int32     `json:"timerId"`
	FireAt  time.Time `json:"fireAt"`
}

type EventRaisedEvent struct {
	Name  string `json:"name"`
	Input string `json:"input,omitempty"`
}

// OrchestratorAction is a side effect requested by an orchestrator during one execution.
type OrchestratorAction struct {
	ID                    int32                        `json:"id"`
	ScheduleTask          *ScheduleTaskAction          `json:"scheduleTask,omitempty"`
	CreateTimer           *CreateTimerAction           `json:"createTimer,omitempty"`
	CompleteOrchestration *CompleteOrchestrationAction `json:"completeOrchestration,omitempty"`
}

type ScheduleTaskAction struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Input   string `json:"input,omitempty"`
}

type CreateTimerAction struct {
	FireAt time.Time `json:"fireAt"`
}

type CompleteOrchestrationAction struct {
	OrchestrationStatus api.OrchestrationStatus `json:"orchestrationStatus"`
	Result              string                  `json:"result,omitempty"`
	FailureDetails      *api.FailureDetails     `json:"failureDetails,omitempty"`
	CarryoverEvents     []*HistoryEvent         `json:"carryoverEvents,omitempty"`
}

func (e *HistoryEvent) GetExecutionStarted() *ExecutionStartedEvent {
	if e == nil {
		return nil
	}
	return e.ExecutionStarted
}

func (e *HistoryEvent) GetExecutionCompleted() *ExecutionCompletedEvent {
	if e == nil {
		return nil
	}
	return e.ExecutionCompleted
}

func (e *HistoryEvent) GetExecutionTerminated() *ExecutionTerminatedEvent {
	if e == nil {
		return nil
	}
	return e.ExecutionTerminated
}

func (e *HistoryEvent) GetTaskScheduled() *TaskScheduledEvent {
	if e == nil {
		return nil
	}
	return e.TaskScheduled
}

func (e *HistoryEvent) GetTaskCompleted() *TaskCompletedEvent {
	if e == nil {
		return nil
	}
	return e.TaskCompleted
}

func (e *HistoryEvent) GetTaskFailed() *TaskFailedEvent {
	if e == nil {
		return nil
	}
	return e.TaskFailed
}

func (e *HistoryEvent) GetTimerCreated() *TimerCreatedEvent {
	if e == nil {
		return nil
	}
	return e.TimerCreated
}

func (e *HistoryEvent) GetTimerFired() *TimerFiredEvent {
	if e == nil {
		return nil
	}
	return e.TimerFired
}

func (e *HistoryEvent) GetEventRaised() *EventRaisedEvent {
	if e == nil {
		return nil
	}
	return e.EventRaised
}

// TypeName returns the name of the event variant, e.g. "TaskScheduled".
func (e *HistoryEvent) TypeName() string {
	switch {
	case e.ExecutionStarted != nil:
		return "ExecutionStarted"
	case e.ExecutionCompleted != nil:
		return "ExecutionCompleted"
	case e.ExecutionTerminated != nil:
		return "ExecutionTerminated"
	case e.OrchestratorStarted != nil:
		return "OrchestratorStarted"
	case e.TaskScheduled != nil:
		return "TaskScheduled"
	case e.TaskCompleted != nil:
		return "TaskCompleted"
	case e.TaskFailed != nil:
		return "TaskFailed"
	case e.TimerCreated != nil:
		return "TimerCreated"
	case e.TimerFired != nil:
		return "TimerFired"
	case e.EventRaised != nil:
		return "EventRaised"
	default:
		return "Unknown"
	}
}

// TypeName returns the name of the action variant, e.g. "ScheduleTask".
func (a *OrchestratorAction) TypeName() string {
	switch {
	case a.ScheduleTask != nil:
		return "ScheduleTask"
	case a.CreateTimer != nil:
		return "CreateTimer"
	case a.CompleteOrchestration != nil:
		return "CompleteOrchestration"
	default:
		return "Unknown"
	}
}

// MarshalHistoryEvent encodes a history event for storage.
func MarshalHistoryEvent(e *HistoryEvent) ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalHistoryEvent decodes a history event previously encoded with MarshalHistoryEvent.
func UnmarshalHistoryEvent(bytes []byte) (*HistoryEvent, error) {
	e := &HistoryEvent{}
	if err := json.Unmarshal(bytes, e); err != nil {
		return nil, err
	}
	return e, nil
}

func NewExecutionStartedEvent(name string, version string, instanceID string, input string, parentTraceContext *api.TraceContext) *HistoryEvent {
	return &HistoryEvent{
		EventID:   -1,
		Timestamp: time.Now(),
		ExecutionStarted: &ExecutionStartedEvent{
			Name:               name,
			Version:            version,
			Input:              input,
			InstanceID:         instanceID,
			ExecutionID:        uuid.New().String(),
			ParentTraceContext: parentTraceContext,
		},
	}
}

func NewExecutionCompletedEvent(eventID int32, status api.OrchestrationStatus, result string, failureDetails *api.FailureDetails) *HistoryEvent {
	return &HistoryEvent{
		EventID:   eventID,
		Timestamp: time.Now(),
		ExecutionCompleted: &ExecutionCompletedEvent{
			OrchestrationStatus: status,
			Result:              result,
			FailureDetails:      failureDetails,
		},
	}
}

func NewExecutionTerminatedEvent(rawReason string) *HistoryEvent {
	return &HistoryEvent{
		EventID:             -1,
		Timestamp:           time.Now(),
		ExecutionTerminated: &ExecutionTerminatedEvent{Input: rawReason},
	}
}

func NewOrchestratorStartedEvent() *HistoryEvent {
	return &HistoryEvent{
		EventID:             -1,
		Timestamp:           time.Now(),
		OrchestratorStarted: &OrchestratorStartedEvent{},
	}
}

func NewEventRaisedEvent(name string, rawInput string) *HistoryEvent {
	return &HistoryEvent{
		EventID:     -1,
		Timestamp:   time.Now(),
		EventRaised: &EventRaisedEvent{Name: name, Input: rawInput},
	}
}

func NewTaskScheduledEvent(taskID int32, name string, version string, rawInput string, tc *api.TraceContext) *HistoryEvent {
	return &HistoryEvent{
		EventID:   taskID,
		Timestamp: time.Now(),
		TaskScheduled: &TaskScheduledEvent{
			Name:               name,
			Version:            version,
			Input:              rawInput,
			ParentTraceContext: tc,
		},
	}
}

func NewTaskCompletedEvent(taskID int32, result string) *HistoryEvent {
	return &HistoryEvent{
		EventID:       -1,
		Timestamp:     time.Now(),
		TaskCompleted: &TaskCompletedEvent{TaskScheduledID: taskID, Result: result},
	}
}

func NewTaskFailedEvent(taskID int32, failureDetails *api.FailureDetails) *HistoryEvent {
	return &HistoryEvent{
		EventID:    -1,
		Timestamp:  time.Now(),
		TaskFailed: &TaskFailedEvent{TaskScheduledID: taskID, FailureDetails: failureDetails},
	}
}

func NewTimerCreatedEvent(eventID int32, fireAt time.Time) *HistoryEvent {
	return &HistoryEvent{
		EventID:      eventID,
		Timestamp:    time.Now(),
		TimerCreated: &TimerCreatedEvent{FireAt: fireAt},
	}
}

func NewTimerFiredEvent(timerID int32, fireAt time.Time) *HistoryEvent {
	return &HistoryEvent{
		EventID:    -1,
		Timestamp:  time.Now(),
		TimerFired: &TimerFiredEvent{TimerID: timerID, FireAt: fireAt},
	}
}

func NewScheduleTaskAction(taskID int32, name string, version string, input string) *OrchestratorAction {
	return &OrchestratorAction{
		ID:           taskID,
		ScheduleTask: &ScheduleTaskAction{Name: name, Version: version, Input: input},
	}
}

func NewCreateTimerAction(taskID int32, fireAt time.Time) *OrchestratorAction {
	return &OrchestratorAction{
		ID:          taskID,
		CreateTimer: &CreateTimerAction{FireAt: fireAt},
	}
}

func NewCompleteOrchestrationAction(
	taskID int32,
	status api.OrchestrationStatus,
	rawResult string,
	carryoverEvents []*HistoryEvent,
	failureDetails *api.FailureDetails,
) *OrchestratorAction {
	return &OrchestratorAction{
		ID: taskID,
		CompleteOrchestration: &CompleteOrchestrationAction{
			OrchestrationStatus: status,
			Result:              rawResult,
			CarryoverEvents:     carryoverEvents,
			FailureDetails:      failureDetails,
		},
	}
}

func HistoryListSummary(list []*HistoryEvent) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, e := range list {
		if i > 0 {
			sb.WriteString(", ")
		}
		if i >= 10 {
			sb.WriteString("...")
			break
		}
		sb.WriteString(e.TypeName())
		taskID := GetTaskId(e)
		if taskID >= 0 {
			sb.WriteRune('#')
			sb.WriteString(strconv.FormatInt(int64(taskID), 10))
		}
	}
	sb.WriteString("]")
	return sb.String()
}

func ActionListSummary(actions []*OrchestratorAction) string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, a := range actions {
		if i > 0 {
			sb.WriteString(", ")
		}
		if i >= 10 {
			sb.WriteString("...")
			break
		}
		sb.WriteString(a.TypeName())
		if a.ID >= 0 {
			sb.WriteRune('#')
			sb.WriteString(strconv.FormatInt(int64(a.ID), 10))
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// GetTaskId returns the sequence number an event is correlated with, or -1.
func GetTaskId(e *HistoryEvent) int32 {
	if e.EventID >= 0 {
		return e.EventID
	} else if x := e.GetTaskCompleted(); x != nil {
		return x.TaskScheduledID
	} else if x := e.GetTaskFailed(); x != nil {
		return x.TaskScheduledID
	} else if x := e.GetTimerFired(); x != nil {
		return x.TimerID
	} else {
		return -1
	}
}
