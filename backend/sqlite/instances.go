package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/backend"
)

// CreateOrchestrationInstance inserts the instance row and queues its ExecutionStarted
// message. A scheduled start time delays the message's visibility.
func (s *store) CreateOrchestrationInstance(ctx context.Context, e *backend.HistoryEvent, opts ...backend.OrchestrationIdReusePolicyOptions) error {
	if err := checkEvent(e); err != nil {
		return err
	}
	started := e.GetExecutionStarted()
	if started == nil {
		return errors.New("history event must be an ExecutionStarted event")
	}

	policy := &api.OrchestrationIdReusePolicy{}
	for _, opt := range opts {
		if err := opt(policy); err != nil {
			return err
		}
	}

	payload, err := backend.MarshalHistoryEvent(e)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		created, err := insertInstance(ctx, tx, e.Timestamp, started)
		if err != nil {
			return err
		}
		if !created {
			if err := s.reuseInstanceID(ctx, tx, e.Timestamp, started, policy); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx, enqueueInboxSQL, started.InstanceID, payload, nullableTime(started.ScheduledStartTime)); err != nil {
			return fmt.Errorf("failed to enqueue the start message: %w", err)
		}
		return nil
	})
	if errors.Is(err, api.ErrIgnoreInstance) {
		return nil
	}
	return err
}

func insertInstance(ctx context.Context, tx *sql.Tx, createdAt time.Time, started *backend.ExecutionStartedEvent) (bool, error) {
	res, err := tx.ExecContext(ctx, insertInstanceSQL,
		started.Name,
		started.Version,
		started.InstanceID,
		started.ExecutionID,
		started.Input,
		api.RUNTIME_STATUS_PENDING.String(),
		createdAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert the instance row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to count inserted instance rows: %w", err)
	}
	return n > 0, nil
}

// reuseInstanceID applies the ID reuse policy to an instance ID that is already taken.
func (s *store) reuseInstanceID(ctx context.Context, tx *sql.Tx, createdAt time.Time, started *backend.ExecutionStartedEvent, policy *api.OrchestrationIdReusePolicy) error {
	var raw string
	err := tx.QueryRowContext(ctx, selectInstanceStatusSQL, started.InstanceID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return api.ErrInstanceNotFound
	} else if err != nil {
		return fmt.Errorf("failed to read the existing instance status: %w", err)
	}
	status, err := api.ParseOrchestrationStatus(raw)
	if err != nil {
		return err
	}

	if !slices.Contains(policy.OperationStatus, status) {
		return api.ErrDuplicateInstance
	}

	switch policy.Action {
	case api.REUSE_ID_ACTION_IGNORE:
		s.logger.Warnf("%s: instance already exists; dropping duplicate create request", started.InstanceID)
		return api.ErrIgnoreInstance
	case api.REUSE_ID_ACTION_TERMINATE:
		if err := deleteInstanceState(ctx, tx, api.InstanceID(started.InstanceID), false); err != nil {
			return fmt.Errorf("failed to replace the existing instance: %w", err)
		}
		created, err := insertInstance(ctx, tx, createdAt, started)
		if err != nil {
			return err
		}
		if !created {
			return fmt.Errorf("instance '%s' still exists after it was replaced", started.InstanceID)
		}
		return nil
	default:
		return api.ErrDuplicateInstance
	}
}

// deleteInstanceState removes the instance row, its history and any queued messages.
// With completedOnly set, instances that are still running are left alone and
// [api.ErrNotCompleted] is returned.
func deleteInstanceState(ctx context.Context, tx *sql.Tx, id api.InstanceID, completedOnly bool) error {
	var raw string
	err := tx.QueryRowContext(ctx, selectInstanceStatusSQL, string(id)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return api.ErrInstanceNotFound
	} else if err != nil {
		return fmt.Errorf("failed to look up instance: %w", err)
	}

	query := deleteInstanceSQL
	if completedOnly {
		query = deleteCompletedInstanceSQL
	}
	res, err := tx.ExecContext(ctx, query, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete the instance row: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("failed to count deleted instance rows: %w", err)
	} else if n == 0 {
		return api.ErrNotCompleted
	}

	for _, q := range []string{deleteHistorySQL, clearInboxSQL, clearActivitiesSQL} {
		if _, err := tx.ExecContext(ctx, q, string(id)); err != nil {
			return fmt.Errorf("failed to delete instance state: %w", err)
		}
	}
	return nil
}

func (s *store) GetOrchestrationMetadata(ctx context.Context, id api.InstanceID) (*api.OrchestrationMetadata, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	var (
		instanceID, name, status       string
		version, input, output, custom sql.NullString
		createdAt                      time.Time
		lastUpdatedAt                  sql.NullTime
		failure                        []byte
	)
	err = db.QueryRowContext(ctx, selectInstanceSQL, string(id)).Scan(
		&instanceID, &name, &version, &status, &createdAt, &lastUpdatedAt, &input, &output, &custom, &failure)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrInstanceNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to read instance '%s': %w", id, err)
	}

	runtimeStatus, err := api.ParseOrchestrationStatus(status)
	if err != nil {
		return nil, err
	}

	md := &api.OrchestrationMetadata{
		InstanceID:             api.InstanceID(instanceID),
		Name:                   name,
		Version:                version.String,
		RuntimeStatus:          runtimeStatus,
		CreatedAt:              createdAt,
		LastUpdatedAt:          createdAt,
		SerializedInput:        input.String,
		SerializedOutput:       output.String,
		SerializedCustomStatus: custom.String,
	}
	if lastUpdatedAt.Valid {
		md.LastUpdatedAt = lastUpdatedAt.Time
	}
	if len(failure) > 0 {
		md.FailureDetails = new(api.FailureDetails)
		if err := json.Unmarshal(failure, md.FailureDetails); err != nil {
			return nil, fmt.Errorf("failed to decode failure details of '%s': %w", id, err)
		}
	}
	return md, nil
}

// PurgeOrchestrationState deletes a completed, failed or terminated instance.
func (s *store) PurgeOrchestrationState(ctx context.Context, id api.InstanceID) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return deleteInstanceState(ctx, tx, id, true)
	})
}
