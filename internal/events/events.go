package events

import (
	"encoding/json"
	"sync"
	"time"

	"jobsync/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventJobUpdated           = "JOB_UPDATED"
	EventJobDeleted           = "JOB_DELETED"
	EventJobCreated           = "JOB_CREATED"
	EventSyncCompleted        = "SYNC_COMPLETED"
	EventNetworkStatusChanged = "NETWORK_STATUS_CHANGED"
)

// JobEventPayload carries the full reloaded job, never a partial diff.
type JobEventPayload struct {
	Job *models.Job `json:"job"`
}

type JobDeletedPayload struct {
	JobID string `json:"jobId"`
}

type SyncCompletedPayload struct {
	Success     bool `json:"success"`
	SyncedCount int  `json:"syncedCount"`
	FailedCount int  `json:"failedCount"`
}

type NetworkStatusPayload struct {
	IsOnline bool `json:"isOnline"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into out.
func (e *Event) Decode(out interface{}) error {
	return json.Unmarshal(e.Payload, out)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]subscription
	nextID      uint64
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. logger may be nil.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &EventBus{subscribers: make(map[string][]subscription), logger: logger}
}

// Subscribe registers a handler for a given event type and returns a func that removes it.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subscribers[eventType] = append(b.subscribers[eventType], subscription{id: id, handler: handler})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i := range subs {
			if subs[i].id == id {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish notifies subscribers of the event type. Handlers run synchronously in
// registration order; a failing handler does not stop the others.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, sub := range subs {
		if err := sub.handler(event); err != nil {
			b.logger.Warn().Err(err).Str("event", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
