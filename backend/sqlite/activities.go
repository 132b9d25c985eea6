package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/microsoft/durabletask-webjobs-go/api"
	"github.com/microsoft/durabletask-webjobs-go/backend"
)

// GetActivityWorkItem locks the oldest activity whose lock is free or expired.
func (s *store) GetActivityWorkItem(ctx context.Context) (*backend.ActivityWorkItem, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var (
		seq        int64
		instanceID string
		payload    []byte
	)
	err = db.QueryRowContext(ctx, lockActivitySQL, s.owner, now.Add(s.opts.ActivityLockTimeout), now).
		Scan(&seq, &instanceID, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backend.ErrNoWorkItems
	} else if err != nil {
		return nil, fmt.Errorf("failed to lock an activity: %w", err)
	}

	e, err := backend.UnmarshalHistoryEvent(payload)
	if err != nil {
		return nil, err
	}
	return &backend.ActivityWorkItem{
		SequenceNumber: seq,
		InstanceID:     api.InstanceID(instanceID),
		NewEvent:       e,
		LockedBy:       s.owner,
	}, nil
}

// CompleteActivityWorkItem delivers the activity result to the instance inbox and
// removes the activity from the queue.
func (s *store) CompleteActivityWorkItem(ctx context.Context, wi *backend.ActivityWorkItem) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := enqueue(ctx, tx, enqueueInboxSQL, wi.Result, string(wi.InstanceID), nil); err != nil {
			return err
		}
		return execLocked(ctx, tx, "dequeue activity", consumeActivitySQL, wi.SequenceNumber, wi.LockedBy)
	})
}

func (s *store) AbandonActivityWorkItem(ctx context.Context, wi *backend.ActivityWorkItem) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	return execLocked(ctx, db, "release activity", releaseActivitySQL, wi.SequenceNumber, wi.LockedBy)
}
