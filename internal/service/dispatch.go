package service

import (
	"context"
	"fmt"

	"jobsync/internal/domain"
	"jobsync/internal/models"
)

// Dispatch sends one action to its remote endpoint. A nil job with a nil error means
// the server accepted the call without returning the job.
func Dispatch(ctx context.Context, remote domain.JobAPI, jobID string, data models.ActionData) (*models.Job, error) {
	switch d := data.(type) {
	case models.ReceiveData:
		return remote.Receive(ctx, jobID)
	case models.StartData:
		if d.FromLast {
			return remote.StartFromLast(ctx, jobID)
		}
		return remote.Start(ctx, jobID, d)
	case models.SleepData:
		return remote.Sleep(ctx, jobID, d)
	case models.FinishData:
		return remote.Finish(ctx, jobID)
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnknownActionType, data)
	}
}
