package binding

import (
	"context"
	"errors"
	"fmt"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/backend"
)

// ClientFactory returns the client of a task hub for the given connection strings.
type ClientFactory func(taskHub string, connectionString string, storageConnectionString string) (backend.TaskHubClient, error)

// OrchestrationClientBinding gives functions a client for one task hub.
type OrchestrationClientBinding struct {
	taskHub string
	conn    string
	storage string
	factory ClientFactory
}

// NewOrchestrationClientBinding returns nil and no error when the dispatch connection is not
// configured.
func NewOrchestrationClientBinding(taskHub string, conns ConnectionStringProvider, factory ClientFactory) (*OrchestrationClientBinding, error) {
	if factory == nil {
		return nil, errors.New("a client factory is required")
	}
	conn := conns.GetConnectionString(DispatchConnectionName)
	if conn == "" {
		return nil, nil
	}
	return &OrchestrationClientBinding{
		taskHub: taskHub,
		conn:    conn,
		storage: conns.GetConnectionString(StorageConnectionName),
		factory: factory,
	}, nil
}

func (b *OrchestrationClientBinding) TaskHub() string {
	return b.taskHub
}

// Bind creates the client context handed to a function invocation.
func (b *OrchestrationClientBinding) Bind() (*OrchestrationClientContext, error) {
	client, err := b.factory(b.taskHub, b.conn, b.storage)
	if err != nil {
		return nil, newError(ErrClientUnavailable, fmt.Sprintf("failed to create a client for task hub '%s'", b.taskHub), err, map[string]any{
			"taskHub": b.taskHub,
		})
	}
	return &OrchestrationClientContext{taskHub: b.taskHub, client: client}, nil
}

// OrchestrationClientContext starts and manages orchestration instances of one task hub.
type OrchestrationClientContext struct {
	taskHub string
	client  backend.TaskHubClient
}

func NewOrchestrationClientContext(taskHub string, client backend.TaskHubClient) *OrchestrationClientContext {
	return &OrchestrationClientContext{taskHub: taskHub, client: client}
}

func (c *OrchestrationClientContext) TaskHub() string {
	return c.taskHub
}

// CreateInstance starts a new instance of the orchestration name and returns its id.
func (c *OrchestrationClientContext) CreateInstance(ctx context.Context, name string, version string, input any, opts ...api.NewOrchestrationOptions) (api.InstanceID, error) {
	all := make([]api.NewOrchestrationOptions, 0, len(opts)+2)
	if version != "" {
		all = append(all, api.WithVersion(version))
	}
	if input != nil {
		all = append(all, api.WithInput(input))
	}
	all = append(all, opts...)
	return c.client.ScheduleNewOrchestration(ctx, name, all...)
}

// RaiseEvent sends an event to a running instance. Events sent to a completed instance are
// discarded.
func (c *OrchestrationClientContext) RaiseEvent(ctx context.Context, id api.InstanceID, eventName string, payload any) error {
	if eventName == "" {
		return newError(ErrEventNameRequired, "", nil, map[string]any{"instanceId": string(id)})
	}
	if _, err := c.GetStatus(ctx, id); err != nil {
		return err
	}
	var opts []api.RaiseEventOptions
	switch p := payload.(type) {
	case nil:
	case string:
		opts = append(opts, api.WithRawEventData(p))
	default:
		opts = append(opts, api.WithEventPayload(p))
	}
	return c.client.RaiseEvent(ctx, id, eventName, opts...)
}

// TerminateInstance terminates a running instance, recording reason as its output.
func (c *OrchestrationClientContext) TerminateInstance(ctx context.Context, id api.InstanceID, reason string) error {
	metadata, err := c.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if metadata.IsComplete() {
		return nil
	}
	return c.client.TerminateOrchestration(ctx, id, api.WithOutput(reason))
}

// GetStatus returns the state of an instance.
func (c *OrchestrationClientContext) GetStatus(ctx context.Context, id api.InstanceID) (*api.OrchestrationMetadata, error) {
	if id == "" {
		return nil, newError(ErrInstanceIDRequired, "", nil, nil)
	}
	metadata, err := c.client.FetchOrchestrationMetadata(ctx, id)
	if err != nil {
		return nil, c.classify(id, err)
	}
	return metadata, nil
}

// WaitForCompletion blocks until the instance reaches a terminal status or ctx ends.
func (c *OrchestrationClientContext) WaitForCompletion(ctx context.Context, id api.InstanceID) (*api.OrchestrationMetadata, error) {
	if id == "" {
		return nil, newError(ErrInstanceIDRequired, "", nil, nil)
	}
	metadata, err := c.client.WaitForOrchestrationCompletion(ctx, id)
	if err != nil {
		return nil, c.classify(id, err)
	}
	return metadata, nil
}

func (c *OrchestrationClientContext) classify(id api.InstanceID, err error) error {
	if errors.Is(err, api.ErrInstanceNotFound) {
		return newError(ErrInstanceNotFound, fmt.Sprintf("No instance with ID '%s' was found.", id), err, map[string]any{
			"instanceId": string(id),
			"taskHub":    c.taskHub,
		})
	}
	return err
}
