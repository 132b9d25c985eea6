package listener

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/microsoft/durabletask-webjobs-go/backend"
	"github.com/microsoft/durabletask-webjobs-go/task"
)

type State int

const (
	NotStarted State = iota
	Started
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Started:
		return "Started"
	case Stopped:
		return "Stopped"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Lifecycle owns the single worker of a task hub and turns the Start/Stop calls of every
// binding that shares it into at most one effective start or stop at a time.
//
// Stop is not reference counted: the first binding to stop stops the worker for all of them.
type Lifecycle struct {
	hubName string
	worker  Worker
	logger  backend.Logger
	meters  *lifecycleMeters

	mu    sync.Mutex
	state State

	regMu         sync.Mutex
	registry      *task.TaskRegistry
	registrations RegistrationSet
}

func (l *Lifecycle) HubName() string {
	return l.hubName
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Registrations returns a copy of every orchestration and activity registered so far.
func (l *Lifecycle) Registrations() RegistrationSet {
	l.regMu.Lock()
	defer l.regMu.Unlock()
	return RegistrationSet{
		Orchestrations: append([]task.OrchestratorCreator(nil), l.registrations.Orchestrations...),
		Activities:     append([]task.ActivityCreator(nil), l.registrations.Activities...),
	}
}

// Start provisions the task hub and starts the worker. It does nothing when already started.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Started {
		return nil
	}
	if err := l.worker.CreateTaskHubIfNotExists(ctx); err != nil {
		return fmt.Errorf("failed to create task hub '%s': %w", l.hubName, err)
	}
	if err := l.worker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start listener for task hub '%s': %w", l.hubName, err)
	}
	l.state = Started
	l.logger.Infof("%s: listener started", l.hubName)
	l.meters.starts.Add(ctx, 1, metric.WithAttributes(attribute.String("hub", l.hubName)))
	return nil
}

// Stop stops the worker. It does nothing unless the listener is started.
func (l *Lifecycle) Stop(ctx context.Context, isForced bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Started {
		return nil
	}
	if err := l.worker.Stop(ctx, isForced); err != nil {
		return fmt.Errorf("failed to stop listener for task hub '%s': %w", l.hubName, err)
	}
	l.state = Stopped
	l.logger.Infof("%s: listener stopped (forced=%v)", l.hubName, isForced)
	l.meters.stops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("hub", l.hubName),
		attribute.Bool("forced", isForced),
	))
	return nil
}

// Cancel force-stops the worker. Failures are logged, never returned.
func (l *Lifecycle) Cancel() {
	if err := l.Stop(context.Background(), true); err != nil {
		l.logger.Warnf("%s: cancel failed: %v", l.hubName, err)
	}
}

func (l *Lifecycle) merge(wc *WorkerContext) error {
	l.regMu.Lock()
	defer l.regMu.Unlock()

	if err := l.registry.AddCreators(wc.Orchestrations, wc.Activities); err != nil {
		return err
	}
	l.registrations.Orchestrations = append(l.registrations.Orchestrations, wc.Orchestrations...)
	l.registrations.Activities = append(l.registrations.Activities, wc.Activities...)
	return nil
}

type lifecycleMeters struct {
	starts metric.Int64Counter
	stops  metric.Int64Counter
}

var (
	metersOnce   sync.Once
	sharedMeters *lifecycleMeters
)

func getMeters() *lifecycleMeters {
	metersOnce.Do(func() {
		meter := otel.Meter("durabletask")
		starts, err := meter.Int64Counter("durabletask.listener.starts", metric.WithDescription("Effective listener starts"))
		if err != nil {
			starts, _ = noopMeter().Int64Counter("durabletask.listener.starts")
		}
		stops, err := meter.Int64Counter("durabletask.listener.stops", metric.WithDescription("Effective listener stops"))
		if err != nil {
			stops, _ = noopMeter().Int64Counter("durabletask.listener.stops")
		}
		sharedMeters = &lifecycleMeters{starts: starts, stops: stops}
	})
	return sharedMeters
}
