package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"jobsync/internal/models"
)

func (db *DB) CreatePendingAction(ctx context.Context, action *models.PendingAction) error {
	if action == nil {
		return errors.New("action is nil")
	}
	if err := db.checkReady(); err != nil {
		return err
	}

	data, err := models.EncodeActionData(action.Data)
	if err != nil {
		return fmt.Errorf("encode action data: %w", err)
	}
	var payload interface{}
	if data != nil {
		payload = string(data)
	}

	query := `INSERT INTO pending_actions (job_id, action_type, action_data, timestamp, synced, applied)
              VALUES (?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		action.JobID,
		string(action.Type()),
		payload,
		models.FormatTimestamp(action.Timestamp),
		action.Synced,
		action.Applied,
	)
	if err != nil {
		return fmt.Errorf("failed to create pending action: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	action.ID = id
	return nil
}

// GetPendingActions returns unsynced actions, oldest first. Rows that cannot be
// decoded are moved to dead_actions so they stop counting as pending.
func (db *DB) GetPendingActions(ctx context.Context) ([]models.PendingAction, error) {
	if err := db.checkReady(); err != nil {
		return nil, err
	}

	query := `SELECT id, job_id, action_type, action_data, timestamp, synced, applied
              FROM pending_actions
              WHERE synced = 0
              ORDER BY timestamp ASC, id ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending actions: %w", err)
	}

	var (
		actions []models.PendingAction
		dead    []deadAction
	)
	for rows.Next() {
		var (
			a          models.PendingAction
			actionType string
			data       sql.NullString
			ts         string
		)
		if err := rows.Scan(&a.ID, &a.JobID, &actionType, &data, &ts, &a.Synced, &a.Applied); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pending action: %w", err)
		}

		a.Timestamp, err = models.ParseTimestamp(ts)
		if err != nil {
			db.logger.Warn().Err(err).Int64("action_id", a.ID).Msg("malformed action timestamp, moving to dead_actions")
			dead = append(dead, deadAction{id: a.ID, reason: err.Error()})
			continue
		}
		var raw []byte
		if data.Valid {
			raw = []byte(data.String)
		}
		a.Data, err = models.DecodeActionData(models.ActionType(actionType), raw)
		if err != nil {
			db.logger.Warn().Err(err).Int64("action_id", a.ID).Str("action_type", actionType).Msg("malformed action data, moving to dead_actions")
			dead = append(dead, deadAction{id: a.ID, reason: err.Error()})
			continue
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate pending actions: %w", err)
	}
	rows.Close()

	if len(dead) > 0 {
		if err := db.quarantine(ctx, dead); err != nil {
			db.logger.Error().Err(err).Int("rows", len(dead)).Msg("failed to move malformed actions")
		}
	}
	return actions, nil
}

type deadAction struct {
	id     int64
	reason string
}

func (db *DB) quarantine(ctx context.Context, dead []deadAction) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	movedAt := models.FormatTimestamp(time.Now())
	for _, d := range dead {
		_, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO dead_actions (id, job_id, action_type, action_data, timestamp, reason, moved_at)
                                       SELECT id, job_id, action_type, action_data, timestamp, ?, ?
                                       FROM pending_actions WHERE id = ?`, d.reason, movedAt, d.id)
		if err != nil {
			return fmt.Errorf("failed to copy action %d: %w", d.id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM pending_actions WHERE id = ?`, d.id); err != nil {
			return fmt.Errorf("failed to delete action %d: %w", d.id, err)
		}
	}
	return tx.Commit()
}

// CountPendingActions counts the actions GetPendingActions would return, so a row
// that cannot be replayed never keeps the queue non-empty.
func (db *DB) CountPendingActions(ctx context.Context) (int, error) {
	actions, err := db.GetPendingActions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending actions: %w", err)
	}
	return len(actions), nil
}

// CountDeadActions reports how many rows were moved out of the queue as undecodable.
func (db *DB) CountDeadActions(ctx context.Context) (int, error) {
	if err := db.checkReady(); err != nil {
		return 0, err
	}
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_actions`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead actions: %w", err)
	}
	return count, nil
}

func (db *DB) MarkActionSynced(ctx context.Context, id int64) error {
	if err := db.checkReady(); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `UPDATE pending_actions SET synced = 1 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to mark action %d synced: %w", id, err)
	}
	return nil
}

func (db *DB) ClearApplied(ctx context.Context, jobID string) error {
	if err := db.checkReady(); err != nil {
		return err
	}
	query := `UPDATE pending_actions SET applied = 0 WHERE synced = 0 AND applied = 1 AND job_id = ?`
	if _, err := db.ExecContext(ctx, query, jobID); err != nil {
		return fmt.Errorf("failed to clear applied flags for job %s: %w", jobID, err)
	}
	return nil
}

func (db *DB) PurgeSyncedActions(ctx context.Context) (int64, error) {
	if err := db.checkReady(); err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, `DELETE FROM pending_actions WHERE synced = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge synced actions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purged rows: %w", err)
	}
	return n, nil
}

func (db *DB) DeleteAllActions(ctx context.Context) error {
	if err := db.checkReady(); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM pending_actions`); err != nil {
		return fmt.Errorf("failed to delete pending actions: %w", err)
	}
	return nil
}
