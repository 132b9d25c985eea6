package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/marusama/semaphore/v2"
)

// TaskWorker polls a TaskProcessor and runs its work items in parallel.
type TaskWorker[T WorkItem] interface {
	// Start begins polling. Starting a running worker is a no-op.
	Start(context.Context)

	// StopAndDrain is Stop(false).
	StopAndDrain()

	// Stop ends polling. A graceful stop waits for in-flight work items, a forced one
	// cancels their context and returns immediately.
	Stop(force bool)
}

// TaskProcessor is the store-facing half of a worker: it leases, runs and settles one
// kind of work item.
type TaskProcessor[T WorkItem] interface {
	Name() string
	FetchWorkItem(context.Context) (T, error)
	ProcessWorkItem(context.Context, T) error
	AbandonWorkItem(context.Context, T) error
	CompleteWorkItem(context.Context, T) error
}

type NewTaskWorkerOptions func(*WorkerOptions)

type WorkerOptions struct {
	MaxParallelWorkItems int32
	MinPollInterval      time.Duration
	MaxPollInterval      time.Duration
}

func NewWorkerOptions() *WorkerOptions {
	return &WorkerOptions{
		MaxParallelWorkItems: 1,
		MinPollInterval:      10 * time.Millisecond,
		MaxPollInterval:      time.Second,
	}
}

// WithMaxParallelism bounds the work items processed at once. Values below 1 are ignored.
func WithMaxParallelism(n int32) NewTaskWorkerOptions {
	return func(o *WorkerOptions) {
		if n > 0 {
			o.MaxParallelWorkItems = n
		}
	}
}

// WithPollingInterval bounds the back-off applied while the backend reports no work.
func WithPollingInterval(min, max time.Duration) NewTaskWorkerOptions {
	return func(o *WorkerOptions) {
		o.MinPollInterval, o.MaxPollInterval = min, max
	}
}

type worker[T WorkItem] struct {
	processor TaskProcessor[T]
	logger    Logger
	options   *WorkerOptions
	slots     semaphore.Semaphore

	mu      sync.Mutex
	current *run
}

// run is the state of one Start..Stop cycle.
type run struct {
	stopPolling context.CancelFunc
	cancelWork  context.CancelFunc
	poller      sync.WaitGroup
	inFlight    sync.WaitGroup
}

func NewTaskWorker[T WorkItem](p TaskProcessor[T], logger Logger, opts ...NewTaskWorkerOptions) TaskWorker[T] {
	options := NewWorkerOptions()
	for _, configure := range opts {
		configure(options)
	}
	return &worker[T]{
		processor: p,
		logger:    logger,
		options:   options,
		slots:     semaphore.New(int(options.MaxParallelWorkItems)),
	}
}

func (w *worker[T]) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != nil {
		w.logger.Debugf("%v: worker already started", w.processor.Name())
		return
	}

	r := &run{}
	pollCtx, stopPolling := context.WithCancel(ctx)
	// Work items must survive the end of polling so that a graceful stop can drain them.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	r.stopPolling, r.cancelWork = stopPolling, cancelWork
	w.current = r

	r.poller.Add(1)
	go func() {
		defer r.poller.Done()
		w.poll(pollCtx, workCtx, r)
		w.logger.Infof("%v: worker stopped", w.processor.Name())
	}()
	w.logger.Infof("%v: worker started", w.processor.Name())
}

func (w *worker[T]) StopAndDrain() {
	w.Stop(false)
}

func (w *worker[T]) Stop(force bool) {
	w.mu.Lock()
	r := w.current
	w.current = nil
	w.mu.Unlock()
	if r == nil {
		return
	}

	r.stopPolling()
	r.poller.Wait()
	if !force {
		r.inFlight.Wait()
	}
	r.cancelWork()
}

func (w *worker[T]) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.options.MinPollInterval
	b.MaxInterval = w.options.MaxPollInterval
	b.Multiplier = 1.5
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// poll leases work items while a slot is free and hands each to its own goroutine.
func (w *worker[T]) poll(pollCtx, workCtx context.Context, r *run) {
	idle := w.newBackOff()
	for pollCtx.Err() == nil {
		if err := w.slots.Acquire(pollCtx, 1); err != nil {
			return
		}

		wi, err := w.processor.FetchWorkItem(pollCtx)
		if err != nil {
			w.slots.Release(1)
			if pollCtx.Err() != nil {
				return
			}
			if !errors.Is(err, ErrNoWorkItems) {
				w.logger.Errorf("%v: failed to get next work item: %v", w.processor.Name(), err)
			}
			if !sleep(pollCtx, idle.NextBackOff()) {
				return
			}
			continue
		}
		idle.Reset()

		r.inFlight.Add(1)
		go func() {
			defer r.inFlight.Done()
			defer w.slots.Release(1)
			w.handle(workCtx, wi)
		}()
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// handle processes and completes a work item, abandoning it when either step fails.
func (w *worker[T]) handle(ctx context.Context, wi T) {
	name := w.processor.Name()
	w.logger.Debugf("%v: processing work item: %s", name, wi.Description())

	step, err := "process", w.processor.ProcessWorkItem(ctx, wi)
	if err == nil {
		step, err = "complete", w.processor.CompleteWorkItem(ctx, wi)
	}
	if err == nil {
		w.logger.Debugf("%v: work item processed successfully", name)
		return
	}

	w.logger.Errorf("%v: failed to %s work item: %v", name, step, err)
	// The lease must be released even when the work context is already cancelled.
	if err := w.processor.AbandonWorkItem(context.WithoutCancel(ctx), wi); err != nil {
		w.logger.Errorf("%v: failed to abandon work item: %v", name, err)
	}
}
