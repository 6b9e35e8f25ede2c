package workflow

import (
	"fmt"
	"time"

	"jobsync/internal/models"
)

// Apply runs the local transform for the given action payload on a copy of job.
// The input is never modified.
func Apply(job *models.Job, data models.ActionData, now time.Time) (*models.Job, error) {
	if job == nil {
		return nil, fmt.Errorf("apply %T: nil job", data)
	}
	switch d := data.(type) {
	case models.ReceiveData:
		return ApplyReceive(job, now), nil
	case models.StartData:
		return ApplyStart(job, d, now), nil
	case models.SleepData:
		if err := d.Validate(); err != nil {
			return nil, err
		}
		return ApplySleep(job, d, now), nil
	case models.FinishData:
		return ApplyFinish(job, now), nil
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnknownActionType, data)
	}
}

func ApplyReceive(job *models.Job, now time.Time) *models.Job {
	out := job.Clone()
	out.IsReceived = true
	out.UpdatedAt = now
	return out
}

// ApplyStart begins the next leg. The started stop becomes disabled and is never
// toggled back.
func ApplyStart(job *models.Job, data models.StartData, now time.Time) *models.Job {
	out := job.Clone()
	out.UpdatedAt = now
	if out.StartDatetime == nil {
		out.StartDatetime = models.TimePtr(now)
	}

	switch {
	case data.NewCity != nil:
		entry := *data.NewCity
		entry.Index = out.NextIndex()
		entry.IsNew = true
		out.SleepTracking = append(out.SleepTracking, startedEntry(entry, now))
	case data.FromLast:
		last, ok := lastDisabled(out.SleepTracking)
		if !ok {
			break
		}
		entry := models.SleepTrackingEntry{
			Index:   out.NextIndex(),
			City:    last.City,
			Country: last.Country,
			IsNew:   true,
		}
		out.SleepTracking = append(out.SleepTracking, startedEntry(entry, now))
	default:
		for i := range out.SleepTracking {
			if !out.SleepTracking[i].IsDisabled() {
				out.SleepTracking[i] = startedEntry(out.SleepTracking[i], now)
				break
			}
		}
	}
	return out
}

func startedEntry(e models.SleepTrackingEntry, now time.Time) models.SleepTrackingEntry {
	e.StartAt = models.TimePtr(now)
	e.SleepAt = nil
	e.Disabled = models.Bool(true)
	return e
}

// ApplySleep logs rest at the stops listed in data.Indices and increments the
// country counter exactly once.
func ApplySleep(job *models.Job, data models.SleepData, now time.Time) *models.Job {
	out := job.Clone()
	out.UpdatedAt = now

	if len(data.NewCities) > 0 {
		out.SleepTracking = mergeCities(out.SleepTracking, data.NewCities)
	}

	for _, idx := range data.Indices {
		pos := out.EntryByIndex(idx)
		if pos < 0 {
			continue
		}
		out.SleepTracking[pos].SleepAt = models.TimePtr(now)
		out.SleepTracking[pos].SleepCount++
	}

	switch data.Country {
	case models.CountrySweden:
		out.SleepSweden++
	case models.CountryNorway:
		out.SleepNorway++
	}
	return out
}

// mergeCities adopts the submitted tracking list. Stops already started locally keep
// their local state; submitted stops whose index collides with a different city get a
// fresh index.
func mergeCities(current, submitted []models.SleepTrackingEntry) []models.SleepTrackingEntry {
	byIndex := make(map[int]models.SleepTrackingEntry, len(current))
	next := 0
	for _, e := range current {
		byIndex[e.Index] = e
		if e.Index >= next {
			next = e.Index + 1
		}
	}

	out := make([]models.SleepTrackingEntry, 0, len(submitted))
	seen := make(map[int]bool, len(submitted))
	for _, e := range submitted {
		if existing, ok := byIndex[e.Index]; ok {
			if existing.City == e.City && !seen[e.Index] {
				if existing.IsDisabled() {
					e = existing
				}
				seen[e.Index] = true
				out = append(out, e)
				continue
			}
			e.Index = next
			next++
		} else if seen[e.Index] {
			e.Index = next
			next++
		} else if e.Index >= next {
			next = e.Index + 1
		}
		seen[e.Index] = true
		out = append(out, e)
	}

	// Started stops are never dropped by a submission that omits them.
	for _, e := range current {
		if e.IsDisabled() && !seen[e.Index] {
			out = append(out, e)
			seen[e.Index] = true
		}
	}
	return out
}

func ApplyFinish(job *models.Job, now time.Time) *models.Job {
	out := job.Clone()
	out.IsFinished = true
	out.EndDatetime = models.TimePtr(now)
	out.UpdatedAt = now
	return out
}
