// Package workflow derives the next allowed step of a job and applies the local
// transforms that mirror each workflow action.
package workflow

import "jobsync/internal/models"

type Step string

const (
	StepNone    Step = ""
	StepReceive Step = "receive"
	StepStart   Step = "start"
	StepSleep   Step = "sleep"
	StepFinish  Step = "finish"
)

// NextStep maps a job snapshot to the next step the driver may take.
// It is pure and must be recomputed after every change to the job.
func NextStep(job *models.Job) Step {
	if job == nil {
		return StepNone
	}
	if !job.IsReceived {
		return StepReceive
	}
	if job.IsFinished {
		return StepNone
	}

	last, ok := lastDisabled(job.SleepTracking)
	if !ok {
		return StepStart
	}

	switch {
	case last.StartAt != nil && last.SleepAt == nil:
		return StepSleep
	case last.StartAt != nil && last.SleepAt != nil:
		return StepStart
	default:
		return StepStart
	}
}

// lastDisabled returns the most recently started stop, in list order.
func lastDisabled(entries []models.SleepTrackingEntry) (models.SleepTrackingEntry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].IsDisabled() {
			return entries[i], true
		}
	}
	return models.SleepTrackingEntry{}, false
}
