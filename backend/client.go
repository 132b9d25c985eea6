package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/internal/helpers"
)

// TaskHubClient manages orchestration instances of one task hub.
type TaskHubClient interface {
	ScheduleNewOrchestration(ctx context.Context, name string, opts ...api.NewOrchestrationOptions) (api.InstanceID, error)
	FetchOrchestrationMetadata(ctx context.Context, id api.InstanceID) (*api.OrchestrationMetadata, error)
	WaitForOrchestrationStart(ctx context.Context, id api.InstanceID) (*api.OrchestrationMetadata, error)
	WaitForOrchestrationCompletion(ctx context.Context, id api.InstanceID) (*api.OrchestrationMetadata, error)
	TerminateOrchestration(ctx context.Context, id api.InstanceID, opts ...api.TerminateOptions) error
	RaiseEvent(ctx context.Context, id api.InstanceID, eventName string, opts ...api.RaiseEventOptions) error
	PurgeOrchestrationState(ctx context.Context, id api.InstanceID) error
}

type client struct {
	be Backend
}

// NewTaskHubClient returns a client that talks to be directly.
func NewTaskHubClient(be Backend) TaskHubClient {
	return &client{be: be}
}

func applyOptions[R any, O ~func(*R) error](req *R, opts []O) error {
	for _, opt := range opts {
		if err := opt(req); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleNewOrchestration creates an instance of the named orchestrator and returns its ID.
// A random ID is generated when none is given.
func (c *client) ScheduleNewOrchestration(ctx context.Context, name string, opts ...api.NewOrchestrationOptions) (api.InstanceID, error) {
	req := &api.CreateInstanceRequest{Name: name}
	if err := applyOptions(req, opts); err != nil {
		return api.EmptyInstanceID, fmt.Errorf("invalid create instance request: %w", err)
	}
	if req.InstanceID == "" {
		req.InstanceID = api.InstanceID(uuid.NewString())
	}

	ctx, span := helpers.StartCreateOrchestrationSpan(ctx, req.Name, req.Version, string(req.InstanceID))
	defer span.End()

	e := NewExecutionStartedEvent(req.Name, req.Version, string(req.InstanceID), req.Input, helpers.TraceContextFromSpan(span))
	e.ExecutionStarted.ScheduledStartTime = req.ScheduledStartTime

	if err := c.be.CreateOrchestrationInstance(ctx, e, WithOrchestrationIdReusePolicy(req.ReusePolicy)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return api.EmptyInstanceID, fmt.Errorf("failed to create instance '%s': %w", req.InstanceID, err)
	}
	return req.InstanceID, nil
}

// FetchOrchestrationMetadata returns [api.ErrInstanceNotFound] (wrapped) for unknown instances.
func (c *client) FetchOrchestrationMetadata(ctx context.Context, id api.InstanceID) (*api.OrchestrationMetadata, error) {
	md, err := c.be.GetOrchestrationMetadata(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instance '%s': %w", id, err)
	}
	return md, nil
}

func (c *client) WaitForOrchestrationStart(ctx context.Context, id api.InstanceID) (*api.OrchestrationMetadata, error) {
	return c.pollUntil(ctx, id, func(md *api.OrchestrationMetadata) bool {
		return md.RuntimeStatus != api.RUNTIME_STATUS_PENDING
	})
}

func (c *client) WaitForOrchestrationCompletion(ctx context.Context, id api.InstanceID) (*api.OrchestrationMetadata, error) {
	return c.pollUntil(ctx, id, (*api.OrchestrationMetadata).IsComplete)
}

var errConditionNotMet = errors.New("condition not met")

// pollUntil re-reads the instance with exponential back-off until done reports true,
// the instance cannot be read, or ctx ends.
func (c *client) pollUntil(ctx context.Context, id api.InstanceID, done func(*api.OrchestrationMetadata) bool) (*api.OrchestrationMetadata, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.05
	b.MaxElapsedTime = 0

	var md *api.OrchestrationMetadata
	err := backoff.Retry(func() error {
		var err error
		if md, err = c.FetchOrchestrationMetadata(ctx, id); err != nil {
			return backoff.Permanent(err)
		}
		if !done(md) {
			return errConditionNotMet
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}
	return md, nil
}

// TerminateOrchestration queues a termination message. The instance moves to
// TERMINATED once a worker processes it.
func (c *client) TerminateOrchestration(ctx context.Context, id api.InstanceID, opts ...api.TerminateOptions) error {
	req := &api.TerminateRequest{}
	if err := applyOptions(req, opts); err != nil {
		return fmt.Errorf("invalid terminate request: %w", err)
	}
	if err := c.be.AddNewOrchestrationEvent(ctx, id, NewExecutionTerminatedEvent(req.Output)); err != nil {
		return fmt.Errorf("failed to terminate '%s': %w", id, err)
	}
	return nil
}

// RaiseEvent queues an external event for an instance. Whether an event that arrives
// before the orchestration waits for it is kept depends on the unclaimed-event
// policy of the executor; by default it is dropped. Events sent to unknown or
// completed instances are discarded by the worker.
func (c *client) RaiseEvent(ctx context.Context, id api.InstanceID, eventName string, opts ...api.RaiseEventOptions) error {
	req := &api.RaiseEventRequest{}
	if err := applyOptions(req, opts); err != nil {
		return fmt.Errorf("invalid raise event request: %w", err)
	}
	if err := c.be.AddNewOrchestrationEvent(ctx, id, NewEventRaisedEvent(eventName, req.Input)); err != nil {
		return fmt.Errorf("failed to raise event '%s' for '%s': %w", eventName, id, err)
	}
	return nil
}

// PurgeOrchestrationState deletes all state of a finished instance.
func (c *client) PurgeOrchestrationState(ctx context.Context, id api.InstanceID) error {
	if err := c.be.PurgeOrchestrationState(ctx, id); err != nil {
		return fmt.Errorf("failed to purge '%s': %w", id, err)
	}
	return nil
}
