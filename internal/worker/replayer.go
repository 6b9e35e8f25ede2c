package worker

import (
	"context"
	"errors"

	"jobsync/internal/api"
	"jobsync/internal/domain"
	"jobsync/internal/metrics"
	"jobsync/internal/models"
	"jobsync/internal/service"

	"github.com/rs/zerolog"
)

const (
	resultSynced  = "synced"
	resultFailed  = "failed"
	resultSkipped = "skipped"
)

// Result counts the outcome of one replay pass.
type Result struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
}

// Replayer sends queued actions to the server in order and reconciles the job cache.
type Replayer struct {
	store   *service.JobStore
	queue   *service.ActionQueue
	remote  domain.JobAPI
	session domain.SessionNotifier
	logger  *zerolog.Logger
}

func NewReplayer(store *service.JobStore, queue *service.ActionQueue, remote domain.JobAPI, session domain.SessionNotifier, logger *zerolog.Logger) *Replayer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "replayer").Logger()
	return &Replayer{store: store, queue: queue, remote: remote, session: session, logger: &l}
}

// Drain replays actions in the given order. A failed action stays pending and the pass
// moves on. When the server rejects the session the rest of the batch is left pending.
// Synced actions are purged at the end of the pass.
func (r *Replayer) Drain(ctx context.Context, actions []models.PendingAction) Result {
	var (
		res Result
		// snapshot is set once a server copy of the job overwrote the cache; optimistic
		// effects of later actions are gone from then on.
		snapshot bool
	)
	logger := zerolog.Ctx(ctx)
	if logger.GetLevel() == zerolog.Disabled {
		logger = r.logger
	}

	for i, action := range actions {
		if err := ctx.Err(); err != nil {
			logger.Warn().Err(err).Int("remaining", len(actions)-i).Msg("replay interrupted")
			res.Failed += r.skip(actions[i:])
			break
		}

		err := r.replay(ctx, logger, action, &snapshot)
		if err == nil {
			res.Success++
			metrics.IncReplayed(string(action.Type()), resultSynced)
			continue
		}

		res.Failed++
		metrics.IncReplayed(string(action.Type()), resultFailed)
		logger.Warn().
			Err(err).
			Int64("action_id", action.ID).
			Str("job_id", action.JobID).
			Str("action_type", string(action.Type())).
			Msg("replay failed, action stays pending")

		if errors.Is(err, api.ErrUnauthorized) {
			if r.session != nil {
				r.session.SessionExpired(ctx)
			}
			res.Failed += r.skip(actions[i+1:])
			break
		}
	}

	if purged, err := r.queue.PurgeSynced(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to purge synced actions")
	} else if purged > 0 {
		logger.Debug().Int64("purged", purged).Msg("purged synced actions")
	}
	return res
}

func (r *Replayer) replay(ctx context.Context, logger *zerolog.Logger, action models.PendingAction, snapshot *bool) error {
	job, err := service.Dispatch(ctx, r.remote, action.JobID, action.Data)
	if err != nil {
		return err
	}

	// The server accepted the action; a local reconcile failure is only logged so the
	// action is not sent again.
	switch {
	case job != nil:
		_, err = r.store.Reconcile(ctx, job)
		*snapshot = true
		// Actions still queued are no longer reflected in the cache, in this pass
		// or any later one.
		if clearErr := r.queue.ClearApplied(ctx, action.JobID); clearErr != nil {
			logger.Error().Err(clearErr).Str("job_id", action.JobID).Msg("failed to clear applied flags")
		}
	case action.Applied && !*snapshot:
		logger.Debug().Int64("action_id", action.ID).Msg("empty response, local job already reflects action")
	default:
		_, err = r.store.Apply(ctx, action.JobID, action.Data)
	}
	if err != nil {
		logger.Warn().Err(err).Int64("action_id", action.ID).Msg("local reconcile failed after replay")
	}

	return r.queue.MarkSynced(ctx, action.ID)
}

func (r *Replayer) skip(rest []models.PendingAction) int {
	for _, a := range rest {
		metrics.IncReplayed(string(a.Type()), resultSkipped)
	}
	return len(rest)
}
