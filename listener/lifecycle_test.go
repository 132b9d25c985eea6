package listener

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLifecycle(t *testing.T) (*Lifecycle, *fakeWorker) {
	f := &fakeFactory{}
	r := NewRegistry(f.create)
	l, err := r.GetOrCreate(&WorkerContext{HubName: "hub"})
	require.NoError(t, err)
	w, _ := f.workers.Load("hub")
	return l, w.(*fakeWorker)
}

func Test_StartAndStopAreIdempotent(t *testing.T) {
	l, w := newLifecycle(t)
	assert.Equal(t, NotStarted, l.State())

	require.NoError(t, l.Start(ctx))
	require.NoError(t, l.Start(ctx))
	assert.Equal(t, Started, l.State())
	assert.Equal(t, 1, w.starts)
	assert.Equal(t, 1, w.provided)

	require.NoError(t, l.Stop(ctx, false))
	require.NoError(t, l.Stop(ctx, false))
	assert.Equal(t, Stopped, l.State())
	assert.Equal(t, 1, w.stops)

	// Stopped can be started again.
	require.NoError(t, l.Start(ctx))
	assert.Equal(t, Started, l.State())
	assert.Equal(t, 2, w.starts)
	assert.Zero(t, w.misuse)
}

func Test_CancelOnNeverStartedListener(t *testing.T) {
	l, w := newLifecycle(t)
	assert.NotPanics(t, l.Cancel)
	assert.Equal(t, NotStarted, l.State())
	assert.Zero(t, w.stops)

	require.NoError(t, l.Start(ctx))
	l.Cancel()
	l.Cancel()
	assert.Equal(t, Stopped, l.State())
	assert.Equal(t, 1, w.forced)
}

func Test_ConcurrentStartStopNeverDoubleToggles(t *testing.T) {
	l, w := newLifecycle(t)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			switch rand.New(rand.NewSource(seed)).Intn(3) {
			case 0:
				assert.NoError(t, l.Start(ctx))
			case 1:
				assert.NoError(t, l.Stop(ctx, false))
			default:
				l.Cancel()
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Zero(t, w.misuse, "the worker was started or stopped redundantly")
	assert.LessOrEqual(t, w.stops, w.starts)
	assert.LessOrEqual(t, w.starts-w.stops, 1)
}

func Test_FailedStartLeavesListenerStopped(t *testing.T) {
	l, w := newLifecycle(t)
	w.startErr = errors.New("broker unreachable")

	assert.Error(t, l.Start(ctx))
	assert.Equal(t, NotStarted, l.State())

	w.startErr = nil
	assert.NoError(t, l.Start(ctx))
	assert.Equal(t, Started, l.State())
}

// Stop is not reference counted: one binding stopping its listener stops it for every
// binding of the same task hub.
func Test_StopFromOneBindingStopsSharedListener(t *testing.T) {
	f := &fakeFactory{}
	r := NewRegistry(f.create)
	orders, err := r.GetOrCreate(&WorkerContext{HubName: "H1", Orchestrations: nil})
	require.NoError(t, err)
	shipping, err := r.GetOrCreate(&WorkerContext{HubName: "H1"})
	require.NoError(t, err)

	require.NoError(t, orders.Start(ctx))
	require.NoError(t, shipping.Start(ctx))
	require.NoError(t, orders.Stop(ctx, false))

	assert.Equal(t, Stopped, shipping.State())
}

func Test_StateString(t *testing.T) {
	assert.Equal(t, "NotStarted", NotStarted.String())
	assert.Equal(t, "Started", Started.String())
	assert.Equal(t, "Stopped", Stopped.String())
	assert.Equal(t, "State(7)", State(7).String())
}
