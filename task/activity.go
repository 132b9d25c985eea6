package task

import (
	"context"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/backend"
)

// Activity is the functional interface for activity implementations.
type Activity func(ctx ActivityContext) (any, error)

// ActivityContext is what an activity sees of the invocation that scheduled it.
type ActivityContext interface {
	GetInput(resultPtr any) error
	RawInput() string
	Context() context.Context
	TaskID() int32
	Name() string
	InstanceID() api.InstanceID
}

type callActivityOption func(*callActivityOptions) error

type callActivityOptions struct {
	rawInput string
	version  string
}

// WithActivityInput sends input, encoded as JSON, to the activity.
func WithActivityInput(input any) callActivityOption {
	return func(o *callActivityOptions) (err error) {
		var data []byte
		if data, err = marshalData(input); err == nil {
			o.rawInput = string(data)
		}
		return err
	}
}

// WithRawActivityInput sends an already serialized input to the activity.
func WithRawActivityInput(input string) callActivityOption {
	return func(o *callActivityOptions) error {
		o.rawInput = input
		return nil
	}
}

// WithActivityVersion selects a specific registered version of the activity.
func WithActivityVersion(version string) callActivityOption {
	return func(o *callActivityOptions) error {
		o.version = version
		return nil
	}
}

// invocation is the ActivityContext handed to activity functions.
type invocation struct {
	ctx       context.Context
	instance  api.InstanceID
	scheduled *backend.TaskScheduledEvent
	id        int32
}

var _ ActivityContext = (*invocation)(nil)

func (i *invocation) GetInput(v any) error       { return unmarshalData([]byte(i.scheduled.Input), v) }
func (i *invocation) RawInput() string           { return i.scheduled.Input }
func (i *invocation) Context() context.Context   { return i.ctx }
func (i *invocation) TaskID() int32              { return i.id }
func (i *invocation) Name() string               { return i.scheduled.Name }
func (i *invocation) InstanceID() api.InstanceID { return i.instance }
