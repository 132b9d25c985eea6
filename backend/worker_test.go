package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWorkItem struct {
	id int
}

func (wi *testWorkItem) Description() string {
	return "test"
}

// fakeProcessor hands out queued work items and records what happened to them.
type fakeProcessor struct {
	mu        sync.Mutex
	queue     []*testWorkItem
	fetchErr  error
	process   func(ctx context.Context, wi *testWorkItem) error
	completed []int
	abandoned []int

	running    atomic.Int32
	maxRunning atomic.Int32
}

func (p *fakeProcessor) Name() string {
	return "fake-processor"
}

func (p *fakeProcessor) FetchWorkItem(context.Context) (*testWorkItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}
	if len(p.queue) == 0 {
		return nil, ErrNoWorkItems
	}
	wi := p.queue[0]
	p.queue = p.queue[1:]
	return wi, nil
}

func (p *fakeProcessor) ProcessWorkItem(ctx context.Context, wi *testWorkItem) error {
	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		cur := p.maxRunning.Load()
		if n <= cur || p.maxRunning.CompareAndSwap(cur, n) {
			break
		}
	}
	if p.process != nil {
		return p.process(ctx, wi)
	}
	return nil
}

func (p *fakeProcessor) AbandonWorkItem(_ context.Context, wi *testWorkItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.abandoned = append(p.abandoned, wi.id)
	return nil
}

func (p *fakeProcessor) CompleteWorkItem(_ context.Context, wi *testWorkItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, wi.id)
	return nil
}

func (p *fakeProcessor) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.completed), len(p.abandoned)
}

func queue(n int) []*testWorkItem {
	items := make([]*testWorkItem, n)
	for i := range items {
		items[i] = &testWorkItem{id: i}
	}
	return items
}

func Test_Worker_ProcessesAndDrains(t *testing.T) {
	p := &fakeProcessor{queue: queue(10), process: func(context.Context, *testWorkItem) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}}
	w := NewTaskWorker[*testWorkItem](p, DefaultLogger(), WithMaxParallelism(3), WithPollingInterval(time.Millisecond, 10*time.Millisecond))

	w.Start(context.Background())
	w.Start(context.Background())
	require.Eventually(t, func() bool {
		completed, _ := p.counts()
		return completed == 10
	}, 5*time.Second, 5*time.Millisecond)
	w.StopAndDrain()
	w.Stop(false)

	assert.LessOrEqual(t, p.maxRunning.Load(), int32(3))
	assert.Greater(t, p.maxRunning.Load(), int32(0))
}

func Test_Worker_AbandonsFailedWorkItems(t *testing.T) {
	p := &fakeProcessor{queue: queue(2), process: func(_ context.Context, wi *testWorkItem) error {
		if wi.id == 1 {
			return errors.New("boom")
		}
		return nil
	}}
	w := NewTaskWorker[*testWorkItem](p, DefaultLogger(), WithPollingInterval(time.Millisecond, 10*time.Millisecond))
	w.Start(context.Background())
	require.Eventually(t, func() bool {
		completed, abandoned := p.counts()
		return completed == 1 && abandoned == 1
	}, 5*time.Second, 5*time.Millisecond)
	w.StopAndDrain()

	assert.Equal(t, []int{0}, p.completed)
	assert.Equal(t, []int{1}, p.abandoned)
}

func Test_Worker_GracefulStopWaitsForWork(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := &fakeProcessor{queue: queue(1), process: func(ctx context.Context, _ *testWorkItem) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}}
	w := NewTaskWorker[*testWorkItem](p, DefaultLogger(), WithPollingInterval(time.Millisecond, 10*time.Millisecond))
	w.Start(context.Background())
	<-started

	stopped := make(chan struct{})
	go func() {
		w.Stop(false)
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("graceful stop returned before the work item finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopped

	completed, abandoned := p.counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, abandoned)
}

func Test_Worker_ForcedStopCancelsWork(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	p := &fakeProcessor{queue: queue(1), process: func(ctx context.Context, _ *testWorkItem) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}}
	w := NewTaskWorker[*testWorkItem](p, DefaultLogger(), WithPollingInterval(time.Millisecond, 10*time.Millisecond))
	w.Start(context.Background())
	<-started

	w.Stop(true)
	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("forced stop did not cancel the in-flight work item")
	}
	require.Eventually(t, func() bool {
		_, abandoned := p.counts()
		return abandoned == 1
	}, 5*time.Second, 5*time.Millisecond)
}

func Test_Worker_KeepsPollingAfterFetchErrors(t *testing.T) {
	p := &fakeProcessor{fetchErr: errors.New("database is locked")}
	w := NewTaskWorker[*testWorkItem](p, DefaultLogger(), WithPollingInterval(time.Millisecond, 5*time.Millisecond))
	w.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	p.mu.Lock()
	p.fetchErr = nil
	p.queue = queue(1)
	p.mu.Unlock()

	require.Eventually(t, func() bool {
		completed, _ := p.counts()
		return completed == 1
	}, 5*time.Second, 5*time.Millisecond)
	w.StopAndDrain()
}

func Test_OrchestrationWorkItem_AbandonDelay(t *testing.T) {
	wi := &OrchestrationWorkItem{}
	assert.Equal(t, time.Duration(0), wi.GetAbandonDelay())
	wi.RetryCount = 3
	assert.Equal(t, 3*time.Second, wi.GetAbandonDelay())
	wi.RetryCount = 500
	assert.Equal(t, 5*time.Minute, wi.GetAbandonDelay())
}
