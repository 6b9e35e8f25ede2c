package service

import (
	"context"
	"errors"
	"fmt"

	"jobsync/internal/domain"
	"jobsync/internal/metrics"
	"jobsync/internal/models"

	"github.com/rs/zerolog"
)

var ErrQueueIO = errors.New("pending action storage failure")

// ActionQueue is the durable FIFO of mutations made while offline.
type ActionQueue struct {
	repo   domain.ActionRepository
	clock  domain.Clock
	logger *zerolog.Logger
}

func NewActionQueue(repo domain.ActionRepository, clock domain.Clock, logger *zerolog.Logger) *ActionQueue {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "action_queue").Logger()
	return &ActionQueue{repo: repo, clock: clock, logger: &l}
}

func (q *ActionQueue) Enqueue(ctx context.Context, action *models.PendingAction) error {
	if action == nil || action.Data == nil {
		return errors.New("enqueue: empty action")
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = q.clock.Now()
	}
	action.Synced = false

	if err := q.repo.CreatePendingAction(ctx, action); err != nil {
		return fmt.Errorf("%w: %v", ErrQueueIO, err)
	}
	q.logger.Info().
		Int64("action_id", action.ID).
		Str("job_id", action.JobID).
		Str("action_type", string(action.Type())).
		Msg("action queued")
	q.refreshGauge(ctx)
	return nil
}

// ListPending returns unsynced actions oldest first. A read failure yields an empty list.
func (q *ActionQueue) ListPending(ctx context.Context) []models.PendingAction {
	actions, err := q.repo.GetPendingActions(ctx)
	if err != nil {
		q.logger.Error().Err(err).Msg("failed to list pending actions")
		return nil
	}
	return actions
}

func (q *ActionQueue) Count(ctx context.Context) int {
	n, err := q.repo.CountPendingActions(ctx)
	if err != nil {
		q.logger.Error().Err(err).Msg("failed to count pending actions")
		return 0
	}
	return n
}

func (q *ActionQueue) MarkSynced(ctx context.Context, id int64) error {
	if err := q.repo.MarkActionSynced(ctx, id); err != nil {
		return fmt.Errorf("mark action %d synced: %w", id, err)
	}
	q.refreshGauge(ctx)
	return nil
}

// ClearApplied marks the queued actions of jobID as no longer reflected in the cached
// job. It runs after a server snapshot replaced the cache.
func (q *ActionQueue) ClearApplied(ctx context.Context, jobID string) error {
	if err := q.repo.ClearApplied(ctx, jobID); err != nil {
		return fmt.Errorf("clear applied flags: %w", err)
	}
	return nil
}

func (q *ActionQueue) PurgeSynced(ctx context.Context) (int64, error) {
	n, err := q.repo.PurgeSyncedActions(ctx)
	if err != nil {
		return 0, fmt.Errorf("purge synced actions: %w", err)
	}
	if n > 0 {
		q.logger.Debug().Int64("purged", n).Msg("synced actions purged")
	}
	return n, nil
}

func (q *ActionQueue) RemoveAll(ctx context.Context) error {
	if err := q.repo.DeleteAllActions(ctx); err != nil {
		return fmt.Errorf("remove all actions: %w", err)
	}
	metrics.SetPending(0)
	return nil
}

func (q *ActionQueue) refreshGauge(ctx context.Context) {
	metrics.SetPending(q.Count(ctx))
}
