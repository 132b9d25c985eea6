package host

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/microsoft/durabletask-webjobs-go/backend"
)

// RecordHeartbeats writes a running-host row for every task hub whose store keeps them.
func (h *Host) RecordHeartbeats(ctx context.Context) error {
	h.mu.Lock()
	hubs := make([]hubBackend, 0, len(h.hubs))
	for _, hb := range h.hubs {
		hubs = append(hubs, hb)
	}
	h.mu.Unlock()

	var errs []error
	for _, hb := range hubs {
		store, ok := hb.backend.(backend.HostHeartbeatStore)
		if !ok {
			continue
		}
		if err := store.RecordHostHeartbeat(ctx, h.id, hb.name); err != nil {
			errs = append(errs, fmt.Errorf("task hub '%s': %w", hb.name, err))
		}
	}
	return errors.Join(errs...)
}

func (h *Host) startHeartbeat() {
	if h.heartbeat <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopHeartbeat != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.stopHeartbeat = cancel
	h.heartbeatDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			if err := h.RecordHeartbeats(ctx); err != nil && ctx.Err() == nil {
				h.logger.Warnf("failed to record host heartbeat: %v", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (h *Host) haltHeartbeat() {
	h.mu.Lock()
	cancel, done := h.stopHeartbeat, h.heartbeatDone
	h.stopHeartbeat, h.heartbeatDone = nil, nil
	h.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}
