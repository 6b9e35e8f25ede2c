package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"jobsync/internal/api"
	"jobsync/internal/database"
	"jobsync/internal/events"
	"jobsync/internal/models"
	"jobsync/internal/repository"
	"jobsync/internal/workflow"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc     *JobService
	store   *JobStore
	queue   *ActionQueue
	remote  *mockAPI
	monitor *staticMonitor
	session *sessionRecorder
	events  *recorder
}

func newServiceFixture(t *testing.T, online bool) *serviceFixture {
	t.Helper()
	repo := repository.NewMemoryStorage()
	bus := events.NewEventBus(nil)
	clock := fixedClock{now: testNow}

	f := &serviceFixture{
		store:   NewJobStore(repo, bus, clock, nil),
		queue:   NewActionQueue(repo, clock, nil),
		remote:  &mockAPI{},
		monitor: &staticMonitor{},
		session: &sessionRecorder{},
		events:  &recorder{},
	}
	f.monitor.online.Store(online)
	f.events.attach(bus, events.EventJobUpdated, events.EventJobCreated, events.EventJobDeleted)
	f.svc = NewJobService(f.store, f.queue, f.remote, f.monitor, f.session, bus, nil)

	require.NoError(t, f.store.Replace(context.Background(), seededJob()))
	return f
}

func TestJobService_OnlineUsesServerJob(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()

	serverJob := seededJob()
	serverJob.IsReceived = true
	serverJob.Description = "from server"
	f.remote.On("Receive", mock.Anything, "J1").Return(serverJob, nil).Once()

	job, err := f.svc.Receive(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, "from server", job.Description)
	assert.Zero(t, f.queue.Count(ctx))
	assert.Equal(t, []string{events.EventJobUpdated}, f.events.types())

	cached, _, err := f.svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from server", cached.Description)
	f.remote.AssertExpectations(t)
}

func TestJobService_OnlineEmptyBodyAppliesLocally(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()

	data := models.SleepData{Country: models.CountrySweden, Indices: []int{0}, SleepCount: 1}
	f.remote.On("Sleep", mock.Anything, "J1", data).Return(nil, nil).Once()

	job, err := f.svc.Sleep(ctx, "J1", data)
	require.NoError(t, err)
	assert.Equal(t, 1, job.SleepSweden, "empty body increments exactly once")
	require.NotNil(t, job.SleepTracking[0].SleepAt)
	assert.Zero(t, f.queue.Count(ctx))
}

func TestJobService_OfflineQueuesAndMutates(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()

	job, err := f.svc.Receive(ctx, "J1")
	require.NoError(t, err)
	assert.True(t, job.IsReceived)

	job, err = f.svc.Start(ctx, "J1", models.StartData{})
	require.NoError(t, err)
	assert.True(t, job.SleepTracking[0].IsDisabled())

	pending := f.queue.ListPending(ctx)
	require.Len(t, pending, 2)
	assert.Equal(t, models.ActionReceive, pending[0].Type())
	assert.Equal(t, models.ActionStart, pending[1].Type())

	_, step, err := f.svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, workflow.StepSleep, step)
	f.remote.AssertNotCalled(t, "Receive", mock.Anything, mock.Anything)
}

func TestJobService_TransientFailureFallsBackToQueue(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()
	f.remote.On("Finish", mock.Anything, "J1").Return(nil, &api.HTTPError{Status: http.StatusBadGateway}).Once()

	job, err := f.svc.Finish(ctx, "J1")
	require.NoError(t, err)
	assert.True(t, job.IsFinished)
	assert.Equal(t, 1, f.queue.Count(ctx))
}

func TestJobService_OnlineActionQueuesBehindPending(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()
	data := models.SleepData{Country: models.CountrySweden, Indices: []int{0}, SleepCount: 1}

	_, err := f.svc.Sleep(ctx, "J1", data)
	require.NoError(t, err)

	f.monitor.online.Store(true)
	job, err := f.svc.Finish(ctx, "J1")
	require.NoError(t, err)
	assert.True(t, job.IsFinished)

	pending := f.queue.ListPending(ctx)
	require.Len(t, pending, 2)
	assert.Equal(t, models.ActionSleep, pending[0].Type())
	assert.Equal(t, models.ActionFinish, pending[1].Type())
	assert.True(t, pending[1].Applied)
	f.remote.AssertNotCalled(t, "Finish", mock.Anything, mock.Anything)
}

func TestJobService_RejectionIsReturned(t *testing.T) {
	f := newServiceFixture(t, true)
	ctx := context.Background()
	f.remote.On("Finish", mock.Anything, "J1").Return(nil, &api.HTTPError{Status: http.StatusConflict}).Once()

	_, err := f.svc.Finish(ctx, "J1")
	var httpErr *api.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Zero(t, f.queue.Count(ctx))

	cached, _, _ := f.svc.Current(ctx)
	assert.False(t, cached.IsFinished)
}

func TestJobService_UnauthorizedNotifiesSession(t *testing.T) {
	f := newServiceFixture(t, true)
	f.remote.On("Receive", mock.Anything, "J1").Return(nil, api.ErrUnauthorized).Once()

	_, err := f.svc.Receive(context.Background(), "J1")
	assert.ErrorIs(t, err, api.ErrUnauthorized)
	assert.Equal(t, int32(1), f.session.calls.Load())
}

func TestJobService_StartFromLastUsesDedicatedEndpoint(t *testing.T) {
	f := newServiceFixture(t, true)
	f.remote.On("StartFromLast", mock.Anything, "J1").Return(nil, nil).Once()

	_, err := f.svc.Start(context.Background(), "J1", models.StartData{FromLast: true})
	require.NoError(t, err)
	f.remote.AssertExpectations(t)
	f.remote.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything)
}

func TestJobService_OfflineUnknownJob(t *testing.T) {
	f := newServiceFixture(t, false)
	_, err := f.svc.Receive(context.Background(), "other")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.Zero(t, f.queue.Count(context.Background()))
}

func TestJobService_InvalidSleep(t *testing.T) {
	f := newServiceFixture(t, false)
	_, err := f.svc.Sleep(context.Background(), "J1", models.SleepData{Country: "denmark"})
	assert.ErrorIs(t, err, models.ErrInvalidCountry)
	assert.Zero(t, f.queue.Count(context.Background()))
}

func TestJobService_Refresh(t *testing.T) {
	t.Run("same job updates", func(t *testing.T) {
		f := newServiceFixture(t, true)
		updated := seededJob()
		updated.Description = "new notes"
		f.remote.On("CurrentJob", mock.Anything).Return(updated, nil).Once()

		require.NoError(t, f.svc.Refresh(context.Background()))
		assert.Equal(t, []string{events.EventJobUpdated}, f.events.types())
	})

	t.Run("new job created", func(t *testing.T) {
		f := newServiceFixture(t, true)
		f.remote.On("CurrentJob", mock.Anything).Return(&models.Job{ID: "J2"}, nil).Once()

		require.NoError(t, f.svc.Refresh(context.Background()))
		assert.Equal(t, []string{events.EventJobCreated}, f.events.types())
		cached, _, _ := f.svc.Current(context.Background())
		assert.Equal(t, "J2", cached.ID)
	})

	t.Run("publishes stored row", func(t *testing.T) {
		logger := zerolog.Nop()
		db, err := database.NewDB(filepath.Join(t.TempDir(), "jobsync.db"), &logger)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		bus := events.NewEventBus(nil)
		rec := &recorder{}
		rec.attach(bus, events.EventJobCreated)
		clock := fixedClock{now: testNow}
		remote := &mockAPI{}
		store := NewJobStore(db, bus, clock, nil)
		svc := NewJobService(store, NewActionQueue(db, clock, nil), remote, nil, nil, bus, nil)

		oslo := time.FixedZone("CEST", 2*60*60)
		serverJob := &models.Job{ID: "J9", CreatedAt: testNow.In(oslo), UpdatedAt: testNow.In(oslo)}
		remote.On("CurrentJob", mock.Anything).Return(serverJob, nil).Once()

		require.NoError(t, svc.Refresh(context.Background()))

		stored, err := store.Get(context.Background())
		require.NoError(t, err)
		want, err := json.Marshal(events.JobEventPayload{Job: stored})
		require.NoError(t, err)
		sent, err := json.Marshal(events.JobEventPayload{Job: serverJob})
		require.NoError(t, err)

		got := rec.last()
		require.NotNil(t, got)
		assert.JSONEq(t, string(want), string(got.Payload))
		assert.NotEqual(t, string(sent), string(got.Payload))
	})

	t.Run("no job deletes", func(t *testing.T) {
		f := newServiceFixture(t, true)
		f.remote.On("CurrentJob", mock.Anything).Return(nil, nil).Once()

		require.NoError(t, f.svc.Refresh(context.Background()))
		assert.Equal(t, []string{events.EventJobDeleted}, f.events.types())
		var payload events.JobDeletedPayload
		require.NoError(t, f.events.last().Decode(&payload))
		assert.Equal(t, "J1", payload.JobID)

		cached, step, _ := f.svc.Current(context.Background())
		assert.Nil(t, cached)
		assert.Equal(t, workflow.StepNone, step)
	})

	t.Run("skipped while pending", func(t *testing.T) {
		f := newServiceFixture(t, false)
		_, err := f.svc.Receive(context.Background(), "J1")
		require.NoError(t, err)

		require.NoError(t, f.svc.Refresh(context.Background()))
		f.remote.AssertNotCalled(t, "CurrentJob", mock.Anything)
	})

	t.Run("unauthorized", func(t *testing.T) {
		f := newServiceFixture(t, true)
		f.remote.On("CurrentJob", mock.Anything).Return(nil, api.ErrUnauthorized).Once()

		assert.ErrorIs(t, f.svc.Refresh(context.Background()), api.ErrUnauthorized)
		assert.Equal(t, int32(1), f.session.calls.Load())
	})
}

func TestJobService_Logout(t *testing.T) {
	f := newServiceFixture(t, false)
	ctx := context.Background()
	_, err := f.svc.Receive(ctx, "J1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx))
	assert.Zero(t, f.queue.Count(ctx))
	cached, _, err := f.svc.Current(ctx)
	require.NoError(t, err)
	assert.Nil(t, cached)
}
