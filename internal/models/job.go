package models

import "time"

type Country string

const (
	CountrySweden Country = "sweden"
	CountryNorway Country = "norway"
)

func (c Country) Valid() bool {
	return c == CountrySweden || c == CountryNorway
}

// Job is the single unit of work assigned to a driver.
type Job struct {
	ID              string               `json:"id"`
	AssigneeID      string               `json:"assigneeId"`
	Description     string               `json:"description"`
	StartCountry    string               `json:"startCountry"`
	DeliveryCountry string               `json:"deliveryCountry"`
	IsReceived      bool                 `json:"isReceived"`
	IsFinished      bool                 `json:"isFinished"`
	StartDatetime   *time.Time           `json:"startDatetime,omitempty"`
	EndDatetime     *time.Time           `json:"endDatetime,omitempty"`
	SleepSweden     int                  `json:"sleepSweden"`
	SleepNorway     int                  `json:"sleepNorway"`
	SleepTracking   []SleepTrackingEntry `json:"sleepTracking"`
	CreatedAt       time.Time            `json:"createdAt"`
	UpdatedAt       time.Time            `json:"updatedAt"`
}

// SleepTrackingEntry is one stop on the route.
type SleepTrackingEntry struct {
	Index      int        `json:"index"`
	City       string     `json:"city"`
	Country    *Country   `json:"country"`
	StartAt    *time.Time `json:"startAt"`
	SleepAt    *time.Time `json:"sleepAt"`
	SleepCount int        `json:"sleepCount"`
	IsNew      bool       `json:"isNew"`
	Disabled   *bool      `json:"disabled"`
}

// IsDisabled reports whether the stop was explicitly started. A nil flag is not disabled.
func (e SleepTrackingEntry) IsDisabled() bool {
	return e.Disabled != nil && *e.Disabled
}

func (e SleepTrackingEntry) clone() SleepTrackingEntry {
	out := e
	if e.Country != nil {
		c := *e.Country
		out.Country = &c
	}
	out.StartAt = cloneTime(e.StartAt)
	out.SleepAt = cloneTime(e.SleepAt)
	if e.Disabled != nil {
		d := *e.Disabled
		out.Disabled = &d
	}
	return out
}

// Clone returns a deep copy, so callers can transform a job without aliasing the original.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.StartDatetime = cloneTime(j.StartDatetime)
	out.EndDatetime = cloneTime(j.EndDatetime)
	if j.SleepTracking != nil {
		out.SleepTracking = make([]SleepTrackingEntry, len(j.SleepTracking))
		for i := range j.SleepTracking {
			out.SleepTracking[i] = j.SleepTracking[i].clone()
		}
	}
	return &out
}

// NextIndex returns the index the next appended stop must use. Indices are never reused.
func (j *Job) NextIndex() int {
	next := 0
	for _, e := range j.SleepTracking {
		if e.Index >= next {
			next = e.Index + 1
		}
	}
	return next
}

// EntryByIndex returns the position in SleepTracking of the stop with the given index, or -1.
func (j *Job) EntryByIndex(index int) int {
	for i := range j.SleepTracking {
		if j.SleepTracking[i].Index == index {
			return i
		}
	}
	return -1
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Bool and TimePtr are small helpers for building optional fields.
func Bool(v bool) *bool { return &v }

func TimePtr(t time.Time) *time.Time { return &t }

func CountryPtr(c Country) *Country { return &c }
