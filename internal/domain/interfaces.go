package domain

import (
	"context"
	"errors"
	"time"

	"jobsync/internal/models"
)

var (
	// ErrNoConnection is returned by a manual sync while offline.
	ErrNoConnection = errors.New("no connection")
	// ErrSyncInProgress is returned by a manual sync while another pass runs.
	ErrSyncInProgress = errors.New("sync already in progress")
)

// JobRepository is the durable single-row cache of the active job.
type JobRepository interface {
	// ReplaceJob removes any cached job and stores job in one step.
	ReplaceJob(ctx context.Context, job *models.Job) error
	// GetJob returns nil, nil when no job is cached.
	GetJob(ctx context.Context) (*models.Job, error)
	DeleteJob(ctx context.Context) error
}

// ActionRepository is the durable storage behind the pending action queue.
type ActionRepository interface {
	CreatePendingAction(ctx context.Context, action *models.PendingAction) error
	// GetPendingActions returns unsynced actions ordered by timestamp, then id.
	GetPendingActions(ctx context.Context) ([]models.PendingAction, error)
	CountPendingActions(ctx context.Context) (int, error)
	MarkActionSynced(ctx context.Context, id int64) error
	// ClearApplied resets the applied flag of every unsynced action of jobID.
	ClearApplied(ctx context.Context, jobID string) error
	PurgeSyncedActions(ctx context.Context) (int64, error)
	DeleteAllActions(ctx context.Context) error
}

// Storage is a backend that holds both tables.
type Storage interface {
	JobRepository
	ActionRepository
	Close() error
}

// JobAPI is the remote job endpoints. A nil job with a nil error means the server
// accepted the call but returned no body.
type JobAPI interface {
	Receive(ctx context.Context, jobID string) (*models.Job, error)
	Start(ctx context.Context, jobID string, data models.StartData) (*models.Job, error)
	StartFromLast(ctx context.Context, jobID string) (*models.Job, error)
	Sleep(ctx context.Context, jobID string, data models.SleepData) (*models.Job, error)
	Finish(ctx context.Context, jobID string) (*models.Job, error)
	// CurrentJob returns nil, nil when no job is assigned.
	CurrentJob(ctx context.Context) (*models.Job, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// ConnectivityMonitor supplies online/offline transitions.
type ConnectivityMonitor interface {
	IsOnline() bool
	// Subscribe registers fn for every change of state and returns an unsubscribe func.
	Subscribe(fn func(online bool)) func()
}

// SessionNotifier is told when the server rejects the session.
type SessionNotifier interface {
	SessionExpired(ctx context.Context)
}

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
