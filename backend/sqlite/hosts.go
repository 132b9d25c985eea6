package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordHostHeartbeat upserts the liveness row of a host for a task hub.
func (s *store) RecordHostHeartbeat(ctx context.Context, hostID string, taskHub string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, upsertHeartbeatSQL, hostID, taskHub, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record heartbeat of host '%s': %w", hostID, err)
	}
	return nil
}

func (s *store) LastHostHeartbeat(ctx context.Context, hostID string, taskHub string) (time.Time, error) {
	db, err := s.conn()
	if err != nil {
		return time.Time{}, err
	}

	var at time.Time
	err = db.QueryRowContext(ctx, selectHeartbeatSQL, hostID, taskHub).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("no heartbeat recorded for host '%s' on task hub '%s'", hostID, taskHub)
	} else if err != nil {
		return time.Time{}, fmt.Errorf("failed to read heartbeat of host '%s': %w", hostID, err)
	}
	return at, nil
}
