package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"jobsync/internal/models"
)

// ReplaceJob swaps the cached job inside one transaction, so readers see either the
// old row or the new one.
func (db *DB) ReplaceJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	if err := db.checkReady(); err != nil {
		return err
	}

	tracking, err := json.Marshal(job.SleepTracking)
	if err != nil {
		return fmt.Errorf("encode sleep tracking: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM current_job`); err != nil {
		return fmt.Errorf("failed to clear current job: %w", err)
	}

	query := `INSERT INTO current_job (id, assignee_id, description, start_country, delivery_country,
                is_received, is_finished, start_datetime, end_datetime, sleep_sweden, sleep_norway,
                sleep_tracking, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query,
		job.ID,
		job.AssigneeID,
		job.Description,
		job.StartCountry,
		job.DeliveryCountry,
		job.IsReceived,
		job.IsFinished,
		nullableTimestamp(job.StartDatetime),
		nullableTimestamp(job.EndDatetime),
		job.SleepSweden,
		job.SleepNorway,
		string(tracking),
		models.FormatTimestamp(job.CreatedAt),
		models.FormatTimestamp(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert current job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit current job: %w", err)
	}
	return nil
}

func (db *DB) GetJob(ctx context.Context) (*models.Job, error) {
	if err := db.checkReady(); err != nil {
		return nil, err
	}

	query := `SELECT id, assignee_id, description, start_country, delivery_country, is_received, is_finished,
                     start_datetime, end_datetime, sleep_sweden, sleep_norway, sleep_tracking, created_at, updated_at
              FROM current_job LIMIT 1`

	var (
		job                  models.Job
		startAt, endAt       sql.NullString
		tracking             sql.NullString
		createdAt, updatedAt string
	)
	err := db.QueryRowContext(ctx, query).Scan(
		&job.ID,
		&job.AssigneeID,
		&job.Description,
		&job.StartCountry,
		&job.DeliveryCountry,
		&job.IsReceived,
		&job.IsFinished,
		&startAt,
		&endAt,
		&job.SleepSweden,
		&job.SleepNorway,
		&tracking,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get current job: %w", err)
	}

	job.StartDatetime = db.parseNullable(startAt, "start_datetime")
	job.EndDatetime = db.parseNullable(endAt, "end_datetime")
	if t := db.parseNullable(sql.NullString{String: createdAt, Valid: true}, "created_at"); t != nil {
		job.CreatedAt = *t
	}
	if t := db.parseNullable(sql.NullString{String: updatedAt, Valid: true}, "updated_at"); t != nil {
		job.UpdatedAt = *t
	}

	if tracking.Valid && tracking.String != "" {
		if err := json.Unmarshal([]byte(tracking.String), &job.SleepTracking); err != nil {
			db.logger.Warn().Err(err).Str("job_id", job.ID).Msg("malformed sleep tracking, treating as absent")
			job.SleepTracking = nil
		}
	}

	return &job, nil
}

func (db *DB) DeleteJob(ctx context.Context) error {
	if err := db.checkReady(); err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM current_job`); err != nil {
		return fmt.Errorf("failed to delete current job: %w", err)
	}
	return nil
}

func (db *DB) parseNullable(v sql.NullString, column string) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := models.ParseTimestamp(v.String)
	if err != nil {
		db.logger.Warn().Err(err).Str("column", column).Msg("malformed timestamp, treating as absent")
		return nil
	}
	return &t
}

func nullableTimestamp(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return models.FormatTimestamp(*t)
}
