// Package host indexes Go functions onto durable task bindings and drives the listeners
// they share.
package host

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/microsoft/durabletask-webjobs-go/backend"
	"github.com/microsoft/durabletask-webjobs-go/backend/backendfactory"
	"github.com/microsoft/durabletask-webjobs-go/binding"
	"github.com/microsoft/durabletask-webjobs-go/listener"
	"github.com/microsoft/durabletask-webjobs-go/task"
)

const DefaultHeartbeatInterval = 15 * time.Second

var ErrNoConnection = errors.New("the DurableTask connection is not configured")

type Option func(*Host)

func WithConnections(conns binding.ConnectionStringProvider) Option {
	return func(h *Host) {
		h.conns = conns
	}
}

func WithLogger(logger backend.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithMaxParallelism bounds the work items each worker of a task hub runs at once.
func WithMaxParallelism(n int32) Option {
	return func(h *Host) {
		h.parallelism = n
	}
}

func WithUnclaimedEventPolicy(policy task.UnclaimedEventPolicy) Option {
	return func(h *Host) {
		h.policy = policy
	}
}

// WithHeartbeatInterval sets how often running-host rows are written. Zero disables them.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(h *Host) {
		h.heartbeat = d
	}
}

// WithBackendMetadata passes sqlite settings such as orchestrationLockTimeout to every
// backend the host creates.
func WithBackendMetadata(metadata map[string]string) Option {
	return func(h *Host) {
		h.metadata = metadata
	}
}

func WithHostID(id string) Option {
	return func(h *Host) {
		h.id = id
	}
}

// Host is a minimal job host. Functions are bound with AddOrchestration and AddActivity
// before Start; bindings of the same task hub share one listener.
type Host struct {
	id          string
	conns       binding.ConnectionStringProvider
	logger      backend.Logger
	parallelism int32
	policy      task.UnclaimedEventPolicy
	heartbeat   time.Duration
	metadata    map[string]string

	backends  *backendfactory.Provider
	listeners *listener.Registry

	mu             sync.Mutex
	hubs           map[string]hubBackend
	orchestrations []*binding.OrchestrationTriggerBinding
	activities     []*binding.ActivityTriggerBinding
	stopHeartbeat  context.CancelFunc
	heartbeatDone  chan struct{}
}

type hubBackend struct {
	name    string
	backend backend.Backend
}

func New(opts ...Option) *Host {
	h := &Host{
		conns:       binding.NewEnvConnections(),
		logger:      backend.DefaultLogger(),
		parallelism: 1,
		heartbeat:   DefaultHeartbeatInterval,
		hubs:        make(map[string]hubBackend),
	}
	for _, configure := range opts {
		configure(h)
	}
	if h.id == "" {
		hostname, _ := os.Hostname()
		h.id = fmt.Sprintf("%s,%d,%s", hostname, os.Getpid(), uuid.NewString())
	}
	h.backends = backendfactory.NewProvider(h.logger, h.metadata)
	h.listeners = listener.NewRegistry(h.newWorker, listener.WithLogger(h.logger))
	return h
}

func (h *Host) ID() string {
	return h.id
}

// Listeners returns the registry that owns the listener of every bound task hub.
func (h *Host) Listeners() *listener.Registry {
	return h.listeners
}

// AddOrchestration binds fn to an orchestration trigger. It returns false when the trigger
// was not bound because the DurableTask connection is missing.
func (h *Host) AddOrchestration(trigger binding.OrchestrationTrigger, fn OrchestratorFunc) (bool, error) {
	exec := orchestratorExecutor(trigger.Orchestration, fn, h.logger)
	b, err := binding.NewOrchestrationTriggerBinding(trigger, h.conns, h.listeners, exec)
	if err != nil || b == nil {
		return false, err
	}
	h.mu.Lock()
	h.orchestrations = append(h.orchestrations, b)
	h.mu.Unlock()
	h.logger.Debugf("bound orchestration '%s' in task hub '%s'", trigger.Orchestration, trigger.TaskHub)
	return true, nil
}

// AddActivity binds fn to an activity trigger. It returns false when the trigger was not
// bound because the DurableTask connection is missing.
func (h *Host) AddActivity(trigger binding.ActivityTrigger, fn ActivityFunc) (bool, error) {
	exec := activityExecutor(trigger.Activity, fn, h.logger)
	b, err := binding.NewActivityTriggerBinding(trigger, h.conns, h.listeners, exec)
	if err != nil || b == nil {
		return false, err
	}
	h.mu.Lock()
	h.activities = append(h.activities, b)
	h.mu.Unlock()
	h.logger.Debugf("bound activity '%s' in task hub '%s'", trigger.Activity, trigger.TaskHub)
	return true, nil
}

// Client returns an orchestration client for a task hub. The hub does not need bound
// functions or a started listener.
func (h *Host) Client(taskHub string) (*binding.OrchestrationClientContext, error) {
	b, err := binding.NewOrchestrationClientBinding(taskHub, h.conns, h.newClient)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNoConnection
	}
	return b.Bind()
}

// Start starts the listener of every bound task hub and the heartbeat.
func (h *Host) Start(ctx context.Context) error {
	if err := startAll(ctx, h.listeners.All()); err != nil {
		return err
	}
	h.startHeartbeat()
	return nil
}

// startAll starts every listener. When one fails, the listeners this call started are
// cancelled again; listeners that were already running are left alone.
func startAll(ctx context.Context, listeners []*listener.Lifecycle) error {
	var started []*listener.Lifecycle
	for _, l := range listeners {
		running := l.State() == listener.Started
		if err := l.Start(ctx); err != nil {
			for _, s := range started {
				s.Cancel()
			}
			return fmt.Errorf("task hub '%s': %w", l.HubName(), err)
		}
		if !running {
			started = append(started, l)
		}
	}
	return nil
}

// Stop gracefully stops every listener.
func (h *Host) Stop(ctx context.Context) error {
	h.haltHeartbeat()
	var errs []error
	for _, l := range h.listeners.All() {
		if err := l.Stop(ctx, false); err != nil {
			errs = append(errs, fmt.Errorf("task hub '%s': %w", l.HubName(), err))
		}
	}
	return errors.Join(errs...)
}

// Cancel force-stops every listener. It is safe in any state.
func (h *Host) Cancel() {
	h.haltHeartbeat()
	for _, l := range h.listeners.All() {
		l.Cancel()
	}
}

// Close cancels the host and releases its backends.
func (h *Host) Close() error {
	h.Cancel()
	return h.backends.Close()
}

func (h *Host) newWorker(wc *listener.WorkerContext, registry *task.TaskRegistry) (listener.Worker, error) {
	be, err := h.backends.Get(wc.HubName, wc.ConnectionString, wc.StorageConnectionString)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.hubs[strings.ToLower(wc.HubName)] = hubBackend{name: wc.HubName, backend: be}
	h.mu.Unlock()

	executor := task.NewTaskExecutor(registry,
		task.WithEventStoreOptions(task.WithUnclaimedEventPolicy(h.policy)),
		task.WithExecutorLogger(h.logger))
	orchestrationWorker := backend.NewOrchestrationWorker(be, executor, h.logger, backend.WithMaxParallelism(h.parallelism))
	activityWorker := backend.NewActivityTaskWorker(be, executor, h.logger, backend.WithMaxParallelism(h.parallelism))
	return backend.NewTaskHubWorker(be, orchestrationWorker, activityWorker, h.logger), nil
}

func (h *Host) newClient(taskHub, connectionString, storageConnectionString string) (backend.TaskHubClient, error) {
	be, err := h.backends.Get(taskHub, connectionString, storageConnectionString)
	if err != nil {
		return nil, err
	}
	if err := be.CreateTaskHub(context.Background()); err != nil && !errors.Is(err, backend.ErrTaskHubExists) {
		return nil, err
	}
	return backend.NewTaskHubClient(be), nil
}
