package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"jobsync/internal/events"
	"jobsync/internal/models"
	"jobsync/internal/repository"
	"jobsync/internal/service"

	"github.com/stretchr/testify/mock"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

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

// fakeMonitor pushes transitions to its subscribers synchronously.
type fakeMonitor struct {
	mu     sync.Mutex
	online bool
	subs   map[int]func(bool)
	next   int
}

func newFakeMonitor(online bool) *fakeMonitor {
	return &fakeMonitor{online: online, subs: make(map[int]func(bool))}
}

func (m *fakeMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *fakeMonitor) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.next
	m.next++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

func (m *fakeMonitor) set(online bool) {
	m.mu.Lock()
	m.online = online
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

func (m *fakeMonitor) subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

type sessionRecorder struct{ calls atomic.Int32 }

func (s *sessionRecorder) SessionExpired(context.Context) { s.calls.Add(1) }

type harness struct {
	bus      *events.EventBus
	store    *service.JobStore
	queue    *service.ActionQueue
	remote   *mockAPI
	session  *sessionRecorder
	replayer *Replayer
}

func newHarness() *harness {
	repo := repository.NewMemoryStorage()
	bus := events.NewEventBus(nil)
	clock := fixedClock{now: testNow}
	h := &harness{
		bus:     bus,
		store:   service.NewJobStore(repo, bus, clock, nil),
		queue:   service.NewActionQueue(repo, clock, nil),
		remote:  &mockAPI{},
		session: &sessionRecorder{},
	}
	h.replayer = NewReplayer(h.store, h.queue, h.remote, h.session, nil)
	return h
}

func seededJob() *models.Job {
	return &models.Job{
		ID: "J1",
		SleepTracking: []models.SleepTrackingEntry{
			{Index: 0, City: "Oslo", Country: models.CountryPtr(models.CountryNorway)},
		},
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}
