package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInstanceNotFound  = errors.New("no such instance exists")
	ErrNotStarted        = errors.New("orchestration has not started")
	ErrNotCompleted      = errors.New("orchestration has not yet completed")
	ErrNoFailures        = errors.New("orchestration did not report failure details")
	ErrDuplicateInstance = errors.New("orchestration instance already exists")
	ErrIgnoreInstance    = errors.New("ignore creating orchestration instance")

	EmptyInstanceID = InstanceID("")
)

// CreateOrchestrationAction decides what happens when a new orchestration is created
// with the ID of an existing instance.
type CreateOrchestrationAction int32

const (
	REUSE_ID_ACTION_ERROR CreateOrchestrationAction = iota
	REUSE_ID_ACTION_IGNORE
	REUSE_ID_ACTION_TERMINATE
)

type OrchestrationStatus int32

const (
	RUNTIME_STATUS_RUNNING OrchestrationStatus = iota
	RUNTIME_STATUS_COMPLETED
	RUNTIME_STATUS_CONTINUED_AS_NEW
	RUNTIME_STATUS_FAILED
	RUNTIME_STATUS_CANCELED
	RUNTIME_STATUS_TERMINATED
	RUNTIME_STATUS_PENDING
	RUNTIME_STATUS_SUSPENDED
)

var statusNames = map[OrchestrationStatus]string{
	RUNTIME_STATUS_RUNNING:          "RUNNING",
	RUNTIME_STATUS_COMPLETED:        "COMPLETED",
	RUNTIME_STATUS_CONTINUED_AS_NEW: "CONTINUED_AS_NEW",
	RUNTIME_STATUS_FAILED:           "FAILED",
	RUNTIME_STATUS_CANCELED:         "CANCELED",
	RUNTIME_STATUS_TERMINATED:       "TERMINATED",
	RUNTIME_STATUS_PENDING:          "PENDING",
	RUNTIME_STATUS_SUSPENDED:        "SUSPENDED",
}

// String returns the short status name, e.g. "COMPLETED".
func (s OrchestrationStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(s))
}

func (s OrchestrationStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *OrchestrationStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	status, err := ParseOrchestrationStatus(name)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// ParseOrchestrationStatus converts a status name (as produced by String) back into an
// OrchestrationStatus value. The ORCHESTRATION_STATUS_ prefix is accepted as well.
func ParseOrchestrationStatus(name string) (OrchestrationStatus, error) {
	name = strings.TrimPrefix(strings.ToUpper(name), "ORCHESTRATION_STATUS_")
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return RUNTIME_STATUS_PENDING, fmt.Errorf("unknown orchestration status: %s", name)
}

// OrchestrationIdReusePolicy controls how CreateOrchestrationInstance treats an existing
// instance whose runtime status is listed in OperationStatus.
type OrchestrationIdReusePolicy struct {
	OperationStatus []OrchestrationStatus
	Action          CreateOrchestrationAction
}

// InstanceID is a unique identifier for an orchestration instance.
type InstanceID string

// CreateInstanceRequest describes a new orchestration instance.
type CreateInstanceRequest struct {
	InstanceID         InstanceID
	Name               string
	Version            string
	Input              string
	ScheduledStartTime time.Time
	ReusePolicy        *OrchestrationIdReusePolicy
}

type GetInstanceRequest struct {
	GetInputsAndOutputs bool
}

type RaiseEventRequest struct {
	Input string
}

type TerminateRequest struct {
	Output string
}

// NewOrchestrationOptions configures options for starting a new orchestration.
type NewOrchestrationOptions func(*CreateInstanceRequest) error

// FetchOrchestrationMetadataOptions is a set of options for fetching orchestration metadata.
type FetchOrchestrationMetadataOptions func(*GetInstanceRequest)

// RaiseEventOptions is a set of options for raising an orchestration event.
type RaiseEventOptions func(*RaiseEventRequest) error

// TerminateOptions is a set of options for terminating an orchestration.
type TerminateOptions func(*TerminateRequest) error

// WithInstanceID configures an explicit orchestration instance ID. If not specified,
// a random UUID value will be used for the orchestration instance ID.
func WithInstanceID(id InstanceID) NewOrchestrationOptions {
	return func(req *CreateInstanceRequest) error {
		req.InstanceID = id
		return nil
	}
}

// WithVersion configures the version of the orchestration to start.
func WithVersion(version string) NewOrchestrationOptions {
	return func(req *CreateInstanceRequest) error {
		req.Version = version
		return nil
	}
}

// WithOrchestrationIdReusePolicy configures Orchestration ID reuse policy.
func WithOrchestrationIdReusePolicy(policy *OrchestrationIdReusePolicy) NewOrchestrationOptions {
	return func(req *CreateInstanceRequest) error {
		req.ReusePolicy = &OrchestrationIdReusePolicy{
			OperationStatus: append([]OrchestrationStatus(nil), policy.OperationStatus...),
			Action:          policy.Action,
		}
		return nil
	}
}

// WithInput configures an input for the orchestration. The specified input must be serializable.
func WithInput(input any) NewOrchestrationOptions {
	return func(req *CreateInstanceRequest) error {
		bytes, err := json.Marshal(input)
		if err != nil {
			return err
		}
		req.Input = string(bytes)
		return nil
	}
}

// WithRawInput configures a pre-serialized input for the orchestration.
func WithRawInput(rawInput string) NewOrchestrationOptions {
	return func(req *CreateInstanceRequest) error {
		req.Input = rawInput
		return nil
	}
}

// WithStartTime configures a start time at which the orchestration should start running.
// Note that the actual start time could be later than the specified start time if the
// task hub is under load or if the app is not running at the specified start time.
func WithStartTime(startTime time.Time) NewOrchestrationOptions {
	return func(req *CreateInstanceRequest) error {
		req.ScheduledStartTime = startTime
		return nil
	}
}

// WithFetchPayloads configures whether to load orchestration inputs, outputs, and custom status values, which could be large.
func WithFetchPayloads(fetchPayloads bool) FetchOrchestrationMetadataOptions {
	return func(req *GetInstanceRequest) {
		req.GetInputsAndOutputs = fetchPayloads
	}
}

// WithEventPayload configures an event payload. The specified payload must be serializable.
func WithEventPayload(data any) RaiseEventOptions {
	return func(req *RaiseEventRequest) error {
		bytes, err := json.Marshal(data)
		if err != nil {
			return err
		}
		req.Input = string(bytes)
		return nil
	}
}

// WithRawEventData configures an event payload that is a raw, unprocessed string (e.g. JSON data).
func WithRawEventData(data string) RaiseEventOptions {
	return func(req *RaiseEventRequest) error {
		req.Input = data
		return nil
	}
}

// WithOutput configures an output for the terminated orchestration. The specified output must be serializable.
func WithOutput(data any) TerminateOptions {
	return func(req *TerminateRequest) error {
		bytes, err := json.Marshal(data)
		if err != nil {
			return err
		}
		req.Output = string(bytes)
		return nil
	}
}

// WithRawOutput configures a raw, unprocessed output (i.e. pre-serialized) for the terminated orchestration.
func WithRawOutput(data string) TerminateOptions {
	return func(req *TerminateRequest) error {
		req.Output = data
		return nil
	}
}

// OrchestrationMetadata is the queryable state of an orchestration instance.
type OrchestrationMetadata struct {
	InstanceID             InstanceID          `json:"instanceId"`
	Name                   string              `json:"name"`
	Version                string              `json:"version,omitempty"`
	RuntimeStatus          OrchestrationStatus `json:"runtimeStatus"`
	CreatedAt              time.Time           `json:"createdAt"`
	LastUpdatedAt          time.Time           `json:"lastUpdatedAt"`
	SerializedInput        string              `json:"input,omitempty"`
	SerializedOutput       string              `json:"output,omitempty"`
	SerializedCustomStatus string              `json:"customStatus,omitempty"`
	FailureDetails         *FailureDetails     `json:"failureDetails,omitempty"`
}

func (m *OrchestrationMetadata) IsRunning() bool {
	return !m.IsComplete()
}

func (m *OrchestrationMetadata) IsComplete() bool {
	return OrchestrationStatusIsComplete(m.RuntimeStatus)
}

// OrchestrationStatusIsComplete reports whether status is a terminal runtime status.
func OrchestrationStatusIsComplete(status OrchestrationStatus) bool {
	return status == RUNTIME_STATUS_COMPLETED ||
		status == RUNTIME_STATUS_FAILED ||
		status == RUNTIME_STATUS_TERMINATED ||
		status == RUNTIME_STATUS_CANCELED
}

// TraceContext is the W3C trace context propagated between orchestrations, activities and timers.
type TraceContext struct {
	TraceParent string `json:"traceParent"`
	SpanID      string `json:"spanId,omitempty"`
	TraceState  string `json:"traceState,omitempty"`
}
