package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/durabletask-webjobs-go/task"
)

var ctx = context.Background()

type fakeWorker struct {
	mu       sync.Mutex
	running  bool
	provided int
	starts   int
	stops    int
	forced   int
	misuse   int
	startErr error
}

func (w *fakeWorker) CreateTaskHubIfNotExists(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.provided++
	return nil
}

func (w *fakeWorker) Start(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.startErr != nil {
		return w.startErr
	}
	if w.running {
		w.misuse++
	}
	w.running = true
	w.starts++
	return nil
}

func (w *fakeWorker) Stop(_ context.Context, isForced bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		w.misuse++
	}
	w.running = false
	w.stops++
	if isForced {
		w.forced++
	}
	return nil
}

type fakeFactory struct {
	calls   atomic.Int32
	workers sync.Map
}

func (f *fakeFactory) create(wc *WorkerContext, _ *task.TaskRegistry) (Worker, error) {
	f.calls.Add(1)
	w := &fakeWorker{}
	f.workers.Store(wc.HubName, w)
	return w, nil
}

func orchestration(name string) task.OrchestratorCreator {
	return task.OrchestratorCreator{
		Name:   name,
		Create: func() task.Orchestrator { return func(*task.OrchestrationContext) (any, error) { return nil, nil } },
	}
}

func activity(name string) task.ActivityCreator {
	return task.ActivityCreator{
		Name:   name,
		Create: func() task.Activity { return func(task.ActivityContext) (any, error) { return nil, nil } },
	}
}

func Test_TwoBindingsShareOneListener(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.create)

	l1, err := r.GetOrCreate(&WorkerContext{HubName: "H1", Orchestrations: []task.OrchestratorCreator{orchestration("Order")}})
	require.NoError(t, err)
	l2, err := r.GetOrCreate(&WorkerContext{HubName: "h1", Activities: []task.ActivityCreator{activity("Ship")}})
	require.NoError(t, err)

	assert.Same(t, l1, l2)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, r.Len())

	regs := l1.Registrations()
	assert.Equal(t, 2, regs.Len())
	assert.Equal(t, "Order", regs.Orchestrations[0].Name)
	assert.Equal(t, "Ship", regs.Activities[0].Name)
	assert.Equal(t, "H1", l1.HubName())
}

func Test_ConcurrentGetOrCreateBuildsOneListener(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.create)

	const callers = 32
	lifecycles := make([]*Lifecycle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := r.GetOrCreate(&WorkerContext{
				HubName:    "Shared",
				Activities: []task.ActivityCreator{activity(fmt.Sprintf("A%d", i))},
			})
			assert.NoError(t, err)
			lifecycles[i] = l
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	for _, l := range lifecycles {
		assert.Same(t, lifecycles[0], l)
	}
	assert.Equal(t, callers, lifecycles[0].Registrations().Len())
}

func Test_DuplicateRegistrationIsRejected(t *testing.T) {
	r := NewRegistry((&fakeFactory{}).create)
	_, err := r.GetOrCreate(&WorkerContext{HubName: "hub", Activities: []task.ActivityCreator{activity("Ship")}})
	require.NoError(t, err)
	_, err = r.GetOrCreate(&WorkerContext{HubName: "hub", Activities: []task.ActivityCreator{activity("Ship")}})
	assert.Error(t, err)
}

func Test_RejectedContributionAddsNothing(t *testing.T) {
	r := NewRegistry((&fakeFactory{}).create)
	_, err := r.GetOrCreate(&WorkerContext{HubName: "hub", Activities: []task.ActivityCreator{activity("B")}})
	require.NoError(t, err)

	_, err = r.GetOrCreate(&WorkerContext{HubName: "hub", Activities: []task.ActivityCreator{activity("A"), activity("B")}})
	require.Error(t, err)
	l, ok := r.Get("hub")
	require.True(t, ok)
	assert.Equal(t, 1, l.Registrations().Len())

	// A was not left behind in the task registry either.
	_, err = r.GetOrCreate(&WorkerContext{HubName: "hub", Activities: []task.ActivityCreator{activity("A")}})
	require.NoError(t, err)
	assert.Equal(t, 2, l.Registrations().Len())
}

func Test_RegistryWithoutFactory(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.GetOrCreate(&WorkerContext{HubName: "hub"})
	assert.ErrorIs(t, err, ErrNoWorkerFactory)

	_, err = r.GetOrCreate(&WorkerContext{})
	assert.Error(t, err)
}

func Test_FactoryErrorIsNotCached(t *testing.T) {
	fail := true
	r := NewRegistry(func(wc *WorkerContext, _ *task.TaskRegistry) (Worker, error) {
		if fail {
			return nil, errors.New("no connection")
		}
		return &fakeWorker{}, nil
	})
	_, err := r.GetOrCreate(&WorkerContext{HubName: "hub"})
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())

	fail = false
	_, err = r.GetOrCreate(&WorkerContext{HubName: "hub"})
	assert.NoError(t, err)
}

func Test_AllIsSortedByHub(t *testing.T) {
	r := NewRegistry((&fakeFactory{}).create)
	for _, hub := range []string{"beta", "Alpha", "gamma"} {
		_, err := r.GetOrCreate(&WorkerContext{HubName: hub})
		require.NoError(t, err)
	}
	var names []string
	for _, l := range r.All() {
		names = append(names, l.HubName())
	}
	assert.Equal(t, []string{"Alpha", "beta", "gamma"}, names)

	l, ok := r.Get("ALPHA")
	assert.True(t, ok)
	assert.Equal(t, "Alpha", l.HubName())
}
