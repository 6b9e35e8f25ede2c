package repository

import (
	"context"
	"errors"
	"sort"
	"sync"

	"jobsync/internal/models"
)

// MemoryStorage keeps the job row and the action queue in process memory. It backs
// tests and devices configured without persistence.
type MemoryStorage struct {
	mu      sync.Mutex
	job     *models.Job
	actions []models.PendingAction
	nextID  int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (r *MemoryStorage) ReplaceJob(ctx context.Context, job *models.Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job = job.Clone()
	return nil
}

func (r *MemoryStorage) GetJob(ctx context.Context) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Clone(), nil
}

func (r *MemoryStorage) DeleteJob(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.job = nil
	return nil
}

func (r *MemoryStorage) CreatePendingAction(ctx context.Context, action *models.PendingAction) error {
	if action == nil {
		return errors.New("action is nil")
	}
	if _, err := models.EncodeActionData(action.Data); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	action.ID = r.nextID
	r.actions = append(r.actions, *action)
	return nil
}

func (r *MemoryStorage) GetPendingActions(ctx context.Context) ([]models.PendingAction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []models.PendingAction
	for _, a := range r.actions {
		if !a.Synced {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (r *MemoryStorage) CountPendingActions(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.actions {
		if !a.Synced {
			n++
		}
	}
	return n, nil
}

func (r *MemoryStorage) MarkActionSynced(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.actions {
		if r.actions[i].ID == id {
			r.actions[i].Synced = true
			return nil
		}
	}
	return nil
}

func (r *MemoryStorage) ClearApplied(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.actions {
		if !r.actions[i].Synced && r.actions[i].JobID == jobID {
			r.actions[i].Applied = false
		}
	}
	return nil
}

func (r *MemoryStorage) PurgeSyncedActions(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.actions[:0]
	var purged int64
	for _, a := range r.actions {
		if a.Synced {
			purged++
			continue
		}
		kept = append(kept, a)
	}
	r.actions = kept
	return purged, nil
}

func (r *MemoryStorage) DeleteAllActions(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = nil
	return nil
}

func (r *MemoryStorage) Close() error { return nil }
