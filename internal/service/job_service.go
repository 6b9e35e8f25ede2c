package service

import (
	"context"
	"errors"
	"fmt"

	"jobsync/internal/api"
	"jobsync/internal/domain"
	"jobsync/internal/events"
	"jobsync/internal/models"
	"jobsync/internal/workflow"

	"github.com/rs/zerolog"
)

// JobService is the entry point for driver actions. Online it calls the server and
// reconciles the cache; offline it mutates the cache and queues the action.
type JobService struct {
	store   *JobStore
	queue   *ActionQueue
	remote  domain.JobAPI
	monitor domain.ConnectivityMonitor
	session domain.SessionNotifier
	bus     domain.EventPublisher
	logger  *zerolog.Logger
}

func NewJobService(
	store *JobStore,
	queue *ActionQueue,
	remote domain.JobAPI,
	monitor domain.ConnectivityMonitor,
	session domain.SessionNotifier,
	bus domain.EventPublisher,
	logger *zerolog.Logger,
) *JobService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "job_service").Logger()
	return &JobService{
		store:   store,
		queue:   queue,
		remote:  remote,
		monitor: monitor,
		session: session,
		bus:     bus,
		logger:  &l,
	}
}

func (s *JobService) Receive(ctx context.Context, jobID string) (*models.Job, error) {
	return s.perform(ctx, jobID, models.ReceiveData{})
}

func (s *JobService) Start(ctx context.Context, jobID string, data models.StartData) (*models.Job, error) {
	return s.perform(ctx, jobID, data)
}

func (s *JobService) Sleep(ctx context.Context, jobID string, data models.SleepData) (*models.Job, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	return s.perform(ctx, jobID, data)
}

func (s *JobService) Finish(ctx context.Context, jobID string) (*models.Job, error) {
	return s.perform(ctx, jobID, models.FinishData{})
}

// Current returns the cached job and the step the driver can take next.
func (s *JobService) Current(ctx context.Context) (*models.Job, workflow.Step, error) {
	job, err := s.store.Get(ctx)
	if err != nil {
		return nil, workflow.StepNone, err
	}
	return job, workflow.NextStep(job), nil
}

func (s *JobService) perform(ctx context.Context, jobID string, data models.ActionData) (*models.Job, error) {
	logger := s.logger.With().Str("job_id", jobID).Str("action_type", string(data.ActionType())).Logger()

	// Older queued actions must reach the server first, so a non-empty queue keeps
	// new actions on the offline path even while online.
	if n := s.queue.Count(ctx); n > 0 {
		logger.Debug().Int("pending", n).Msg("actions pending, queueing behind them")
	} else if s.online() {
		job, err := s.performOnline(ctx, jobID, data)
		if err == nil {
			return job, nil
		}
		if !api.IsTransient(err) {
			return nil, err
		}
		logger.Warn().Err(err).Msg("remote call failed, queueing action")
	}
	return s.performOffline(ctx, jobID, data)
}

func (s *JobService) performOnline(ctx context.Context, jobID string, data models.ActionData) (*models.Job, error) {
	job, err := Dispatch(ctx, s.remote, jobID, data)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) && s.session != nil {
			s.session.SessionExpired(ctx)
		}
		return nil, err
	}
	if job != nil {
		return s.store.Reconcile(ctx, job)
	}
	return s.store.Apply(ctx, jobID, data)
}

func (s *JobService) performOffline(ctx context.Context, jobID string, data models.ActionData) (*models.Job, error) {
	current, err := s.store.Get(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil || current.ID != jobID {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err := s.queue.Enqueue(ctx, &models.PendingAction{JobID: jobID, Data: data, Applied: true}); err != nil {
		return nil, err
	}
	job, err := s.store.Apply(ctx, jobID, data)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("action queued but local update failed")
		return nil, err
	}
	return job, nil
}

// Refresh pulls the assigned job from the server. It is skipped while actions are
// pending so a server snapshot never overwrites optimistic local state.
func (s *JobService) Refresh(ctx context.Context) error {
	if n := s.queue.Count(ctx); n > 0 {
		s.logger.Debug().Int("pending", n).Msg("refresh skipped, actions pending")
		return nil
	}

	remote, err := s.remote.CurrentJob(ctx)
	if err != nil {
		if errors.Is(err, api.ErrUnauthorized) && s.session != nil {
			s.session.SessionExpired(ctx)
		}
		return fmt.Errorf("fetch current job: %w", err)
	}

	cached, err := s.store.Get(ctx)
	if err != nil {
		return err
	}

	if remote == nil {
		if cached == nil {
			return nil
		}
		if err := s.store.Clear(ctx); err != nil {
			return err
		}
		s.logger.Info().Str("job_id", cached.ID).Msg("job no longer assigned")
		s.publish(events.EventJobDeleted, events.JobDeletedPayload{JobID: cached.ID})
		return nil
	}

	if err := s.store.Replace(ctx, remote); err != nil {
		return err
	}
	stored, err := s.store.Get(ctx)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("%w: %s", ErrJobNotFound, remote.ID)
	}
	if cached == nil || cached.ID != stored.ID {
		s.logger.Info().Str("job_id", stored.ID).Msg("new job assigned")
		s.publish(events.EventJobCreated, events.JobEventPayload{Job: stored})
		return nil
	}
	s.publish(events.EventJobUpdated, events.JobEventPayload{Job: stored})
	return nil
}

// Logout drops the queue and the cached job.
func (s *JobService) Logout(ctx context.Context) error {
	if err := s.queue.RemoveAll(ctx); err != nil {
		return err
	}
	return s.store.Clear(ctx)
}

func (s *JobService) online() bool {
	return s.monitor == nil || s.monitor.IsOnline()
}

func (s *JobService) publish(eventType string, payload interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
