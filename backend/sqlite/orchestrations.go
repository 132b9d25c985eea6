package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/backend"
)

// AddNewOrchestrationEvent queues a message (raised event, termination) for an instance.
func (s *store) AddNewOrchestrationEvent(ctx context.Context, id api.InstanceID, e *backend.HistoryEvent) error {
	if err := checkEvent(e); err != nil {
		return err
	}
	db, err := s.conn()
	if err != nil {
		return err
	}
	payload, err := backend.MarshalHistoryEvent(e)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, enqueueInboxSQL, string(id), payload, nil); err != nil {
		return fmt.Errorf("failed to enqueue message for '%s': %w", id, err)
	}
	return nil
}

// GetOrchestrationWorkItem locks one instance with visible inbox messages together
// with those messages, oldest first.
func (s *store) GetOrchestrationWorkItem(ctx context.Context) (*backend.OrchestrationWorkItem, error) {
	var wi *backend.OrchestrationWorkItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()

		var instanceID string
		err := tx.QueryRowContext(ctx, lockInstanceSQL, s.owner, now.Add(s.opts.OrchestrationLockTimeout), now, now).Scan(&instanceID)
		if errors.Is(err, sql.ErrNoRows) {
			return backend.ErrNoWorkItems
		} else if err != nil {
			return fmt.Errorf("failed to lock an orchestration instance: %w", err)
		}

		events, dequeueCount, err := s.lockInbox(ctx, tx, instanceID, now)
		if err != nil {
			return err
		}
		wi = &backend.OrchestrationWorkItem{
			InstanceID: api.InstanceID(instanceID),
			NewEvents:  events,
			LockedBy:   s.owner,
			RetryCount: dequeueCount - 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return wi, nil
}

// lockInbox claims the visible messages of an instance and returns them in arrival
// order along with the highest dequeue count among them.
func (s *store) lockInbox(ctx context.Context, tx *sql.Tx, instanceID string, now time.Time) ([]*backend.HistoryEvent, int32, error) {
	rows, err := tx.QueryContext(ctx, lockInboxSQL, s.owner, instanceID, now)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to lock inbox messages: %w", err)
	}
	defer rows.Close()

	type message struct {
		seq   int64
		event *backend.HistoryEvent
	}
	var (
		messages   []message
		maxDequeue int32
	)
	for rows.Next() {
		var (
			m        message
			payload  []byte
			dequeued int32
		)
		if err := rows.Scan(&m.seq, &payload, &dequeued); err != nil {
			return nil, 0, fmt.Errorf("failed to read inbox message: %w", err)
		}
		if m.event, err = backend.UnmarshalHistoryEvent(payload); err != nil {
			return nil, 0, err
		}
		maxDequeue = max(maxDequeue, dequeued)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read inbox messages: %w", err)
	}

	// RETURNING rows come back in no particular order.
	sort.Slice(messages, func(i, j int) bool { return messages[i].seq < messages[j].seq })
	events := make([]*backend.HistoryEvent, len(messages))
	for i, m := range messages {
		events[i] = m.event
	}
	return events, maxDequeue, nil
}

func (s *store) GetOrchestrationRuntimeState(ctx context.Context, wi *backend.OrchestrationWorkItem) (*backend.OrchestrationRuntimeState, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, selectHistorySQL, string(wi.InstanceID))
	if err != nil {
		return nil, fmt.Errorf("failed to load history of '%s': %w", wi.InstanceID, err)
	}
	defer rows.Close()

	history := make([]*backend.HistoryEvent, 0, 32)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to read history event: %w", err)
		}
		e, err := backend.UnmarshalHistoryEvent(payload)
		if err != nil {
			return nil, err
		}
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load history of '%s': %w", wi.InstanceID, err)
	}
	return backend.NewOrchestrationRuntimeState(wi.InstanceID, history), nil
}

// CompleteOrchestrationWorkItem persists one orchestration step: the instance row,
// appended history, scheduled activities and timers. The consumed inbox messages
// are removed and the instance lock is released.
func (s *store) CompleteOrchestrationWorkItem(ctx context.Context, wi *backend.OrchestrationWorkItem) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		id := string(wi.InstanceID)

		query, args, err := s.instanceUpdate(wi)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to update instance '%s': %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count updated instance rows: %w", err)
		} else if n == 0 {
			return fmt.Errorf("instance '%s' no longer exists or is locked by another worker", id)
		}

		if wi.State.ContinuedAsNew() {
			if _, err := tx.ExecContext(ctx, deleteHistorySQL, id); err != nil {
				return fmt.Errorf("failed to reset history of '%s': %w", id, err)
			}
		}
		if err := appendHistory(ctx, tx, id, len(wi.State.OldEvents()), wi.State.NewEvents()); err != nil {
			return err
		}
		for _, e := range wi.State.PendingTasks() {
			if err := enqueue(ctx, tx, enqueueActivitySQL, e, id); err != nil {
				return err
			}
		}
		for _, e := range wi.State.PendingTimers() {
			// Timers are plain inbox messages that become visible when due.
			if err := enqueue(ctx, tx, enqueueInboxSQL, e, id, e.GetTimerFired().FireAt.UTC()); err != nil {
				return err
			}
		}

		return execLocked(ctx, tx, "consume inbox messages", consumeInboxSQL, id, wi.LockedBy)
	})
}

// instanceUpdate builds the UPDATE for the instance row from the step's new events.
func (s *store) instanceUpdate(wi *backend.OrchestrationWorkItem) (string, []any, error) {
	now := time.Now().UTC()
	var (
		set                []string
		args               []any
		started, completed bool
	)
	for _, e := range wi.State.NewEvents() {
		switch {
		case e.GetExecutionStarted() != nil:
			if started {
				s.logger.Warnf("%v: ignoring duplicate ExecutionStarted event", wi.InstanceID)
				continue
			}
			started = true
			set = append(set, "[CreatedTime] = ?", "[Input] = ?")
			args = append(args, e.Timestamp.UTC(), e.GetExecutionStarted().Input)
		case e.GetExecutionCompleted() != nil:
			if completed {
				s.logger.Warnf("%v: ignoring duplicate ExecutionCompleted event", wi.InstanceID)
				continue
			}
			completed = true
			ec := e.GetExecutionCompleted()
			var failure []byte
			if ec.FailureDetails != nil {
				var err error
				if failure, err = json.Marshal(ec.FailureDetails); err != nil {
					return "", nil, fmt.Errorf("failed to encode failure details: %w", err)
				}
			}
			set = append(set, "[CompletedTime] = ?", "[Output] = ?", "[FailureDetails] = ?")
			args = append(args, now, ec.Result, failure)
		}
	}
	if wi.State.CustomStatus != "" {
		set = append(set, "[CustomStatus] = ?")
		args = append(args, wi.State.CustomStatus)
	}
	set = append(set, "[RuntimeStatus] = ?", "[LastUpdatedTime] = ?", "[LockedBy] = NULL", "[LockExpiration] = NULL")
	args = append(args, wi.State.RuntimeStatus().String(), now, string(wi.InstanceID), wi.LockedBy)

	query := "UPDATE Instances SET " + strings.Join(set, ", ") + " WHERE [InstanceID] = ? AND [LockedBy] = ?"
	return query, args, nil
}

func appendHistory(ctx context.Context, tx *sql.Tx, id string, seq int, events []*backend.HistoryEvent) error {
	if len(events) == 0 {
		return nil
	}
	query := "INSERT INTO History ([InstanceID], [SequenceNumber], [EventPayload]) VALUES (?, ?, ?)" +
		strings.Repeat(", (?, ?, ?)", len(events)-1)
	args := make([]any, 0, 3*len(events))
	for _, e := range events {
		payload, err := backend.MarshalHistoryEvent(e)
		if err != nil {
			return err
		}
		args = append(args, id, seq, payload)
		seq++
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to append history of '%s': %w", id, err)
	}
	return nil
}

// enqueue inserts one serialized event for an instance; extra fills any columns
// that follow the payload.
func enqueue(ctx context.Context, tx *sql.Tx, query string, e *backend.HistoryEvent, id string, extra ...any) error {
	payload, err := backend.MarshalHistoryEvent(e)
	if err != nil {
		return err
	}
	args := append([]any{id, payload}, extra...)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to enqueue work for '%s': %w", id, err)
	}
	return nil
}

// AbandonOrchestrationWorkItem unlocks the instance and its messages. Retried work
// items are hidden for a delay that grows with the retry count.
func (s *store) AbandonOrchestrationWorkItem(ctx context.Context, wi *backend.OrchestrationWorkItem) error {
	var visibleAt any
	if delay := wi.GetAbandonDelay(); delay > 0 {
		visibleAt = time.Now().UTC().Add(delay)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := execLocked(ctx, tx, "release inbox messages", releaseInboxSQL, visibleAt, string(wi.InstanceID), wi.LockedBy); err != nil {
			return err
		}
		return execLocked(ctx, tx, "unlock instance", unlockInstanceSQL, string(wi.InstanceID), wi.LockedBy)
	})
}
