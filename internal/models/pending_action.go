package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type ActionType string

const (
	ActionReceive ActionType = "receive"
	ActionStart   ActionType = "start"
	ActionSleep   ActionType = "sleep"
	ActionFinish  ActionType = "finish"
)

var (
	ErrUnknownActionType = errors.New("unknown action type")
	ErrInvalidCountry    = errors.New("invalid country")
)

// ActionData is the payload of a pending action. The set of implementations is closed:
// ReceiveData, StartData, SleepData and FinishData.
type ActionData interface {
	ActionType() ActionType
	isActionData()
}

type ReceiveData struct{}

// StartData starts the next leg. FromLast restarts from the last visited stop,
// NewCity appends a user-added stop and starts it.
type StartData struct {
	FromLast bool                `json:"fromLast,omitempty"`
	NewCity  *SleepTrackingEntry `json:"newCity,omitempty"`
}

// SleepData logs rest. Indices lists the stops newly checked in this submission;
// NewCities carries the full tracking list when the user appended stops.
type SleepData struct {
	Country    Country              `json:"country"`
	Indices    []int                `json:"indices"`
	SleepCount int                  `json:"sleepCount"`
	NewCities  []SleepTrackingEntry `json:"newCities,omitempty"`
}

type FinishData struct{}

func (ReceiveData) ActionType() ActionType { return ActionReceive }
func (StartData) ActionType() ActionType   { return ActionStart }
func (SleepData) ActionType() ActionType   { return ActionSleep }
func (FinishData) ActionType() ActionType  { return ActionFinish }

func (ReceiveData) isActionData() {}
func (StartData) isActionData()   {}
func (SleepData) isActionData()   {}
func (FinishData) isActionData()  {}

func (d SleepData) Validate() error {
	if !d.Country.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidCountry, d.Country)
	}
	return nil
}

// PendingAction is a durable intent recorded while offline and replayed later.
type PendingAction struct {
	ID        int64      `json:"id"`
	JobID     string     `json:"jobId"`
	Data      ActionData `json:"-"`
	Timestamp time.Time  `json:"timestamp"`
	Synced    bool       `json:"synced"`
	// Applied is set when the local transform was already written to the cached job
	// at enqueue time.
	Applied bool `json:"applied"`
}

func (a PendingAction) Type() ActionType {
	if a.Data == nil {
		return ""
	}
	return a.Data.ActionType()
}

// EncodeActionData serializes the payload. Variants without fields encode to nil.
func EncodeActionData(data ActionData) (json.RawMessage, error) {
	switch d := data.(type) {
	case ReceiveData, FinishData:
		return nil, nil
	case StartData:
		if !d.FromLast && d.NewCity == nil {
			return nil, nil
		}
		return json.Marshal(d)
	case SleepData:
		return json.Marshal(d)
	case nil:
		return nil, fmt.Errorf("%w: nil payload", ErrUnknownActionType)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownActionType, data)
	}
}

// DecodeActionData rebuilds the typed payload for the given action type.
func DecodeActionData(t ActionType, raw json.RawMessage) (ActionData, error) {
	empty := len(raw) == 0 || string(raw) == "null"
	switch t {
	case ActionReceive:
		return ReceiveData{}, nil
	case ActionFinish:
		return FinishData{}, nil
	case ActionStart:
		var d StartData
		if !empty {
			if err := json.Unmarshal(raw, &d); err != nil {
				return nil, fmt.Errorf("decode start data: %w", err)
			}
		}
		return d, nil
	case ActionSleep:
		if empty {
			return nil, errors.New("sleep action requires data")
		}
		var d SleepData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode sleep data: %w", err)
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, t)
	}
}

// pendingActionWire is the JSON form used by key-value backends.
type pendingActionWire struct {
	ID         int64           `json:"id"`
	JobID      string          `json:"jobId"`
	ActionType ActionType      `json:"actionType"`
	ActionData json.RawMessage `json:"actionData,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Synced     bool            `json:"synced"`
	Applied    bool            `json:"applied,omitempty"`
}

func (a PendingAction) MarshalJSON() ([]byte, error) {
	raw, err := EncodeActionData(a.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(pendingActionWire{
		ID:         a.ID,
		JobID:      a.JobID,
		ActionType: a.Type(),
		ActionData: raw,
		Timestamp:  a.Timestamp,
		Synced:     a.Synced,
		Applied:    a.Applied,
	})
}

func (a *PendingAction) UnmarshalJSON(b []byte) error {
	var w pendingActionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	data, err := DecodeActionData(w.ActionType, w.ActionData)
	if err != nil {
		return err
	}
	*a = PendingAction{
		ID:        w.ID,
		JobID:     w.JobID,
		Data:      data,
		Timestamp: w.Timestamp,
		Synced:    w.Synced,
		Applied:   w.Applied,
	}
	return nil
}
