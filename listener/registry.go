package listener

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/microsoft/durabletask-webjobs-go/backend"
	"github.com/microsoft/durabletask-webjobs-go/task"
)

var ErrNoWorkerFactory = errors.New("listener registry has no worker factory")

type RegistryOption func(*Registry)

func WithLogger(logger backend.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry maps task hub names, case-insensitively, to the one Lifecycle that serves them.
// Lifecycles are never removed.
type Registry struct {
	factory WorkerFactory
	logger  backend.Logger

	mu         sync.Mutex
	lifecycles map[string]*Lifecycle
}

func NewRegistry(factory WorkerFactory, opts ...RegistryOption) *Registry {
	r := &Registry{
		factory:    factory,
		logger:     backend.DefaultLogger(),
		lifecycles: make(map[string]*Lifecycle),
	}
	for _, configure := range opts {
		configure(r)
	}
	return r
}

// GetOrCreate returns the lifecycle of wc.HubName, building its worker on first use, and
// merges the registrations carried by wc into it.
func (r *Registry) GetOrCreate(wc *WorkerContext) (*Lifecycle, error) {
	if wc == nil || wc.HubName == "" {
		return nil, errors.New("a task hub name is required")
	}
	key := strings.ToLower(wc.HubName)

	r.mu.Lock()
	l, ok := r.lifecycles[key]
	if !ok {
		if r.factory == nil {
			r.mu.Unlock()
			return nil, ErrNoWorkerFactory
		}
		registry := task.NewTaskRegistry()
		worker, err := r.factory(wc, registry)
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("failed to create worker for task hub '%s': %w", wc.HubName, err)
		}
		l = &Lifecycle{
			hubName:  wc.HubName,
			worker:   worker,
			logger:   r.logger,
			meters:   getMeters(),
			registry: registry,
		}
		r.lifecycles[key] = l
	}
	r.mu.Unlock()

	if err := l.merge(wc); err != nil {
		return nil, fmt.Errorf("task hub '%s': %w", wc.HubName, err)
	}
	return l, nil
}

// Get returns the lifecycle of a task hub, if one was created.
func (r *Registry) Get(hubName string) (*Lifecycle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lifecycles[strings.ToLower(hubName)]
	return l, ok
}

// All returns every lifecycle ordered by task hub name.
func (r *Registry) All() []*Lifecycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*Lifecycle, 0, len(r.lifecycles))
	for _, l := range r.lifecycles {
		all = append(all, l)
	}
	sort.Slice(all, func(i, j int) bool { return strings.ToLower(all[i].hubName) < strings.ToLower(all[j].hubName) })
	return all
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lifecycles)
}

func noopMeter() metric.Meter {
	return noop.NewMeterProvider().Meter("durabletask")
}
