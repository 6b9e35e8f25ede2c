package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"jobsync/internal/domain"
	"jobsync/internal/events"
	"jobsync/internal/models"
	"jobsync/internal/workflow"

	"github.com/rs/zerolog"
)

var ErrJobNotFound = errors.New("job not found in local store")

// JobStore is the local cache of the single active job. Mutators are serialized so
// two read-modify-write cycles never interleave.
type JobStore struct {
	repo   domain.JobRepository
	bus    domain.EventPublisher
	clock  domain.Clock
	logger *zerolog.Logger

	mu sync.Mutex
}

func NewJobStore(repo domain.JobRepository, bus domain.EventPublisher, clock domain.Clock, logger *zerolog.Logger) *JobStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "job_store").Logger()
	return &JobStore{repo: repo, bus: bus, clock: clock, logger: &l}
}

func (s *JobStore) Replace(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.ReplaceJob(ctx, job); err != nil {
		return fmt.Errorf("replace job: %w", err)
	}
	return nil
}

// Reconcile stores the server's copy of the job and publishes JOB_UPDATED with the
// reloaded row.
func (s *JobStore) Reconcile(ctx context.Context, job *models.Job) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.ReplaceJob(ctx, job); err != nil {
		return nil, fmt.Errorf("reconcile job: %w", err)
	}
	reloaded, err := s.repo.GetJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload job: %w", err)
	}
	if reloaded == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, job.ID)
	}
	s.publish(events.EventJobUpdated, events.JobEventPayload{Job: reloaded})
	return reloaded, nil
}

// Get returns nil, nil when nothing is cached.
func (s *JobStore) Get(ctx context.Context) (*models.Job, error) {
	job, err := s.repo.GetJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *JobStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.DeleteJob(ctx); err != nil {
		return fmt.Errorf("clear job: %w", err)
	}
	return nil
}

func (s *JobStore) MarkReceived(ctx context.Context, jobID string) (*models.Job, error) {
	return s.Apply(ctx, jobID, models.ReceiveData{})
}

func (s *JobStore) MarkStarted(ctx context.Context, jobID string, data models.StartData) (*models.Job, error) {
	return s.Apply(ctx, jobID, data)
}

func (s *JobStore) IncrementSleep(ctx context.Context, jobID string, data models.SleepData) (*models.Job, error) {
	return s.Apply(ctx, jobID, data)
}

func (s *JobStore) MarkFinished(ctx context.Context, jobID string) (*models.Job, error) {
	return s.Apply(ctx, jobID, models.FinishData{})
}

// Apply runs the local transform for data against the cached job, writes the result
// and publishes JOB_UPDATED with the reloaded row.
func (s *JobStore) Apply(ctx context.Context, jobID string, data models.ActionData) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.GetJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	if current == nil || current.ID != jobID {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	next, err := workflow.Apply(current, data, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.ReplaceJob(ctx, next); err != nil {
		return nil, fmt.Errorf("write job %s: %w", jobID, err)
	}

	reloaded, err := s.repo.GetJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("reload job %s: %w", jobID, err)
	}
	if reloaded == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	s.publish(events.EventJobUpdated, events.JobEventPayload{Job: reloaded})
	s.logger.Debug().
		Str("job_id", jobID).
		Str("action_type", string(data.ActionType())).
		Msg("job mutated locally")
	return reloaded, nil
}

// NextStep derives the next workflow step from the cached job on every call.
func (s *JobStore) NextStep(ctx context.Context) (workflow.Step, error) {
	job, err := s.Get(ctx)
	if err != nil {
		return workflow.StepNone, err
	}
	return workflow.NextStep(job), nil
}

func (s *JobStore) publish(eventType string, payload interface{}) {
	if s.bus == nil {
		return
	}
	if err := s.bus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
