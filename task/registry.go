package task

import (
	"fmt"
	"sync"

	"github.com/microsoft/durabletask-webjobs-go/internal/helpers"
)

// OrchestratorCreator produces the orchestrator function for a name and version.
type OrchestratorCreator struct {
	Name    string
	Version string
	Create  func() Orchestrator
}

// ActivityCreator produces the activity function for a name and version.
type ActivityCreator struct {
	Name    string
	Version string
	Create  func() Activity
}

type registryKey struct {
	name    string
	version string
}

func (k registryKey) String() string {
	if k.version == "" {
		return k.name
	}
	return k.name + "@" + k.version
}

// TaskRegistry contains maps of names and versions to orchestrator and activity creators.
// The name "*" registers a catch-all.
type TaskRegistry struct {
	mu            sync.RWMutex
	orchestrators map[registryKey]OrchestratorCreator
	activities    map[registryKey]ActivityCreator
}

// NewTaskRegistry returns a new [TaskRegistry] struct.
func NewTaskRegistry() *TaskRegistry {
	r := &TaskRegistry{
		orchestrators: make(map[registryKey]OrchestratorCreator),
		activities:    make(map[registryKey]ActivityCreator),
	}
	return r
}

// AddOrchestrator adds an orchestrator function to the registry. The name of the orchestrator
// function is determined using reflection.
func (r *TaskRegistry) AddOrchestrator(o Orchestrator) error {
	name := helpers.GetTaskFunctionName(o)
	return r.AddOrchestratorN(name, o)
}

// AddOrchestratorN adds an orchestrator function to the registry with a specified name.
func (r *TaskRegistry) AddOrchestratorN(name string, o Orchestrator) error {
	return r.AddOrchestratorCreator(OrchestratorCreator{
		Name:   name,
		Create: func() Orchestrator { return o },
	})
}

func (r *TaskRegistry) AddOrchestratorCreator(c OrchestratorCreator) error {
	if c.Name == "" || c.Create == nil {
		return fmt.Errorf("orchestrator creator requires a name and a create function")
	}
	key := registryKey{name: c.Name, version: c.Version}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orchestrators[key]; ok {
		return fmt.Errorf("orchestrator named '%s' is already registered", key)
	}
	r.orchestrators[key] = c
	return nil
}

// AddActivity adds an activity function to the registry. The name of the activity
// function is determined using reflection.
func (r *TaskRegistry) AddActivity(a Activity) error {
	name := helpers.GetTaskFunctionName(a)
	return r.AddActivityN(name, a)
}

// AddActivityN adds an activity function to the registry with a specified name.
func (r *TaskRegistry) AddActivityN(name string, a Activity) error {
	return r.AddActivityCreator(ActivityCreator{
		Name:   name,
		Create: func() Activity { return a },
	})
}

func (r *TaskRegistry) AddActivityCreator(c ActivityCreator) error {
	if c.Name == "" || c.Create == nil {
		return fmt.Errorf("activity creator requires a name and a create function")
	}
	key := registryKey{name: c.Name, version: c.Version}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.activities[key]; ok {
		return fmt.Errorf("activity named '%s' is already registered", key)
	}
	r.activities[key] = c
	return nil
}

// AddCreators registers orchestrators and activities together. When any of them is invalid
// or already registered, none is added.
func (r *TaskRegistry) AddCreators(orchestrators []OrchestratorCreator, activities []ActivityCreator) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	newOrchestrators := make(map[registryKey]OrchestratorCreator, len(orchestrators))
	for _, c := range orchestrators {
		if c.Name == "" || c.Create == nil {
			return fmt.Errorf("orchestrator creator requires a name and a create function")
		}
		key := registryKey{name: c.Name, version: c.Version}
		if _, ok := r.orchestrators[key]; ok {
			return fmt.Errorf("orchestrator named '%s' is already registered", key)
		}
		if _, ok := newOrchestrators[key]; ok {
			return fmt.Errorf("orchestrator named '%s' is registered twice", key)
		}
		newOrchestrators[key] = c
	}
	newActivities := make(map[registryKey]ActivityCreator, len(activities))
	for _, c := range activities {
		if c.Name == "" || c.Create == nil {
			return fmt.Errorf("activity creator requires a name and a create function")
		}
		key := registryKey{name: c.Name, version: c.Version}
		if _, ok := r.activities[key]; ok {
			return fmt.Errorf("activity named '%s' is already registered", key)
		}
		if _, ok := newActivities[key]; ok {
			return fmt.Errorf("activity named '%s' is registered twice", key)
		}
		newActivities[key] = c
	}

	for key, c := range newOrchestrators {
		r.orchestrators[key] = c
	}
	for key, c := range newActivities {
		r.activities[key] = c
	}
	return nil
}

func (r *TaskRegistry) getOrchestrator(name string, version string) (Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range lookupKeys(name, version) {
		if c, ok := r.orchestrators[key]; ok {
			return c.Create(), true
		}
	}
	return nil, false
}

func (r *TaskRegistry) getActivity(name string, version string) (Activity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range lookupKeys(name, version) {
		if c, ok := r.activities[key]; ok {
			return c.Create(), true
		}
	}
	return nil, false
}

// lookupKeys lists the exact match first, then the unversioned entry, then the catch-all.
func lookupKeys(name string, version string) []registryKey {
	keys := []registryKey{{name: name, version: version}}
	if version != "" {
		keys = append(keys, registryKey{name: name})
	}
	return append(keys, registryKey{name: "*"})
}

// Len returns the number of registered orchestrators and activities.
func (r *TaskRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.orchestrators) + len(r.activities)
}
