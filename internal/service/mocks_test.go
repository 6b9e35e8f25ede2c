package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"jobsync/internal/events"
	"jobsync/internal/models"

	"github.com/stretchr/testify/mock"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) job(args mock.Arguments) (*models.Job, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *mockAPI) Receive(ctx context.Context, jobID string) (*models.Job, error) {
	return m.job(m.Called(ctx, jobID))
}
func (m *mockAPI) Start(ctx context.Context, jobID string, data models.StartData) (*models.Job, error) {
	return m.job(m.Called(ctx, jobID, data))
}
func (m *mockAPI) StartFromLast(ctx context.Context, jobID string) (*models.Job, error) {
	return m.job(m.Called(ctx, jobID))
}
func (m *mockAPI) Sleep(ctx context.Context, jobID string, data models.SleepData) (*models.Job, error) {
	return m.job(m.Called(ctx, jobID, data))
}
func (m *mockAPI) Finish(ctx context.Context, jobID string) (*models.Job, error) {
	return m.job(m.Called(ctx, jobID))
}
func (m *mockAPI) CurrentJob(ctx context.Context) (*models.Job, error) {
	return m.job(m.Called(ctx))
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type staticMonitor struct{ online atomic.Bool }

func (m *staticMonitor) IsOnline() bool { return m.online.Load() }
func (m *staticMonitor) Subscribe(func(online bool)) func() { return func() {} }

type sessionRecorder struct{ calls atomic.Int32 }

func (s *sessionRecorder) SessionExpired(context.Context) { s.calls.Add(1) }

// recorder collects events published on a bus.
type recorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recorder) attach(bus *events.EventBus, types ...string) {
	for _, t := range types {
		bus.Subscribe(t, func(e *events.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e)
			return nil
		})
	}
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recorder) last() *events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}
