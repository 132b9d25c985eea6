package backend

import (
	"context"
	"errors"
	"time"

	"github.com/microsoft/durabletask-webjobs-go/api"
)

var (
	ErrTaskHubExists    = errors.New("task hub already exists")
	ErrTaskHubNotFound  = errors.New("task hub not found")
	ErrNotInitialized   = errors.New("backend not initialized")
	ErrWorkItemLockLost = errors.New("lock on work-item was lost")
)

type OrchestrationIdReusePolicyOptions func(*api.OrchestrationIdReusePolicy) error

// WithOrchestrationIdReusePolicy copies policy into the create request. A nil policy
// keeps the default, which rejects duplicate instance IDs.
func WithOrchestrationIdReusePolicy(policy *api.OrchestrationIdReusePolicy) OrchestrationIdReusePolicyOptions {
	return func(po *api.OrchestrationIdReusePolicy) error {
		if policy != nil {
			*po = *policy
		}
		return nil
	}
}

// Backend stores the instances of one task hub: their history, the inbox of
// messages waiting for each instance, and the queue of scheduled activities.
type Backend interface {
	// CreateTaskHub prepares the store. Calling it again on a prepared store is not an error.
	CreateTaskHub(context.Context) error
	// DeleteTaskHub drops all stored state. Returns [ErrTaskHubNotFound] when there is nothing to drop.
	DeleteTaskHub(context.Context) error

	Start(context.Context) error
	Stop(context.Context) error

	// CreateOrchestrationInstance registers the instance described by an ExecutionStarted
	// event and queues that event for it. Duplicate IDs are handled by the reuse policy.
	CreateOrchestrationInstance(context.Context, *HistoryEvent, ...OrchestrationIdReusePolicyOptions) error
	// AddNewOrchestrationEvent queues a message (raised event, termination) for an instance.
	AddNewOrchestrationEvent(context.Context, api.InstanceID, *HistoryEvent) error

	// GetOrchestrationWorkItem locks an instance that has queued messages, or returns [ErrNoWorkItems].
	GetOrchestrationWorkItem(context.Context) (*OrchestrationWorkItem, error)
	GetOrchestrationRuntimeState(context.Context, *OrchestrationWorkItem) (*OrchestrationRuntimeState, error)
	// CompleteOrchestrationWorkItem saves the new state and scheduled work, consumes the
	// messages and releases the lock. Returns [ErrWorkItemLockLost] if the lock expired
	// and another worker took the instance.
	CompleteOrchestrationWorkItem(context.Context, *OrchestrationWorkItem) error
	// AbandonOrchestrationWorkItem releases the lock without saving anything. It is used
	// for processing errors only; an orchestration that fails is still completed.
	AbandonOrchestrationWorkItem(context.Context, *OrchestrationWorkItem) error

	// GetActivityWorkItem locks the next scheduled activity, or returns [ErrNoWorkItems].
	GetActivityWorkItem(context.Context) (*ActivityWorkItem, error)
	// CompleteActivityWorkItem delivers the result to the orchestration and dequeues the
	// activity. Returns [ErrWorkItemLockLost] if the lock was lost.
	CompleteActivityWorkItem(context.Context, *ActivityWorkItem) error
	AbandonActivityWorkItem(context.Context, *ActivityWorkItem) error

	// GetOrchestrationMetadata returns [api.ErrInstanceNotFound] for unknown instances.
	GetOrchestrationMetadata(context.Context, api.InstanceID) (*api.OrchestrationMetadata, error)
	// PurgeOrchestrationState deletes a finished instance. Returns [api.ErrInstanceNotFound]
	// or [api.ErrNotCompleted].
	PurgeOrchestrationState(context.Context, api.InstanceID) error
}

// HostHeartbeatStore is implemented by backends that can record the liveness of the hosts
// processing a task hub.
type HostHeartbeatStore interface {
	RecordHostHeartbeat(ctx context.Context, hostID string, taskHub string) error
	LastHostHeartbeat(ctx context.Context, hostID string, taskHub string) (time.Time, error)
}
