package backend

import (
	"context"
	"errors"
	"sync"
)

// TaskHubWorker runs the orchestration and activity workers of one task hub on top of
// its backend.
type TaskHubWorker interface {
	// CreateTaskHubIfNotExists provisions the task hub, tolerating one that already exists.
	CreateTaskHubIfNotExists(context.Context) error

	// Start provisions and starts the backend, then both workers. Starting twice is a no-op.
	Start(context.Context) error

	// Stop stops both workers and then the backend. isForced skips draining in-flight work.
	Stop(ctx context.Context, isForced bool) error

	// Shutdown is a draining Stop.
	Shutdown(context.Context) error
}

type taskHubWorker struct {
	backend       Backend
	orchestrators TaskWorker[*OrchestrationWorkItem]
	activities    TaskWorker[*ActivityWorkItem]
	logger        Logger

	mu      sync.Mutex
	running bool
}

func NewTaskHubWorker(be Backend, orchestrationWorker TaskWorker[*OrchestrationWorkItem], activityWorker TaskWorker[*ActivityWorkItem], logger Logger) TaskHubWorker {
	return &taskHubWorker{
		backend:       be,
		orchestrators: orchestrationWorker,
		activities:    activityWorker,
		logger:        logger,
	}
}

func (h *taskHubWorker) CreateTaskHubIfNotExists(ctx context.Context) error {
	err := h.backend.CreateTaskHub(ctx)
	if errors.Is(err, ErrTaskHubExists) {
		return nil
	}
	return err
}

func (h *taskHubWorker) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return nil
	}

	if err := h.CreateTaskHubIfNotExists(ctx); err != nil {
		return err
	}
	if err := h.backend.Start(ctx); err != nil {
		return err
	}
	h.logger.Infof("worker started with backend %v", h.backend)

	// Workers live until Stop, not until the caller's context ends.
	ctx = context.WithoutCancel(ctx)
	h.orchestrators.Start(ctx)
	h.activities.Start(ctx)
	h.running = true
	return nil
}

func (h *taskHubWorker) Stop(ctx context.Context, isForced bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.running {
		return nil
	}
	h.running = false

	mode := "draining"
	if isForced {
		mode = "forced"
	}
	h.logger.Infof("stopping workers (%s)", mode)
	h.orchestrators.Stop(isForced)
	h.activities.Stop(isForced)

	h.logger.Info("stopping backend")
	return h.backend.Stop(ctx)
}

func (h *taskHubWorker) Shutdown(ctx context.Context) error {
	return h.Stop(ctx, false)
}
