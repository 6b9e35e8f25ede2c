package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobsync/internal/events"
	"jobsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(h *harness, monitor *fakeMonitor) *Coordinator {
	return NewCoordinator(h.queue, h.replayer, monitor, h.bus, time.Hour, nil)
}

func TestCoordinator_RequestSyncOffline(t *testing.T) {
	h := newHarness()
	c := newTestCoordinator(h, newFakeMonitor(false))

	_, err := c.RequestSync(context.Background())
	assert.ErrorIs(t, err, ErrNoConnection)
}

func TestCoordinator_RequestSync(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.store.Replace(ctx, seededJob()))
	enqueue(t, h, &models.PendingAction{JobID: "J1", Data: models.ReceiveData{}})
	h.remote.On("Receive", mock.Anything, "J1").Return(nil, nil).Once()

	c := newTestCoordinator(h, newFakeMonitor(true))
	res, err := c.RequestSync(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{Success: 1}, res)
	assert.Zero(t, h.queue.Count(ctx))
	assert.False(t, c.IsSyncing())
}

func TestCoordinator_ConcurrentTriggerIsNoop(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.store.Replace(ctx, seededJob()))
	enqueue(t, h, &models.PendingAction{JobID: "J1", Data: models.ReceiveData{}})

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	h.remote.On("Receive", mock.Anything, "J1").Run(func(mock.Arguments) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
	}).Return(nil, nil)

	c := newTestCoordinator(h, newFakeMonitor(true))
	require.True(t, c.TriggerSync(ctx, TriggerManual))
	<-entered
	assert.True(t, c.IsSyncing())

	assert.False(t, c.TriggerSync(ctx, TriggerTick))
	_, err := c.RequestSync(ctx)
	assert.ErrorIs(t, err, ErrSyncInProgress)
	c.Tick(ctx)

	close(release)
	c.Wait()
	assert.Equal(t, int32(1), calls.Load(), "exactly one replay pass")
	assert.False(t, c.IsSyncing())
}

func TestCoordinator_ParallelTriggersStartOnePass(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.store.Replace(ctx, seededJob()))
	enqueue(t, h, &models.PendingAction{JobID: "J1", Data: models.FinishData{}})

	release := make(chan struct{})
	h.remote.On("Finish", mock.Anything, "J1").Run(func(mock.Arguments) { <-release }).Return(nil, nil)

	c := newTestCoordinator(h, newFakeMonitor(true))
	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TriggerSync(ctx, TriggerReconnect) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)
	c.Wait()

	assert.Equal(t, int32(1), started.Load())
	h.remote.AssertNumberOfCalls(t, "Finish", 1)
}

func TestCoordinator_ReconnectScenario(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.store.Replace(ctx, seededJob()))

	sleep := models.SleepData{Country: models.CountrySweden, Indices: []int{0}}
	enqueue(t, h,
		&models.PendingAction{JobID: "J1", Data: models.ReceiveData{}, Timestamp: testNow},
		&models.PendingAction{JobID: "J1", Data: sleep, Timestamp: testNow.Add(time.Minute)},
	)
	h.remote.On("Receive", mock.Anything, "J1").Return(nil, nil).Once()
	h.remote.On("Sleep", mock.Anything, "J1", sleep).Return(nil, nil).Once()

	var statuses []bool
	var mu sync.Mutex
	h.bus.Subscribe(events.EventNetworkStatusChanged, func(e *events.Event) error {
		var p events.NetworkStatusPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		mu.Lock()
		statuses = append(statuses, p.IsOnline)
		mu.Unlock()
		return nil
	})
	completed := make(chan events.SyncCompletedPayload, 1)
	h.bus.Subscribe(events.EventSyncCompleted, func(e *events.Event) error {
		var p events.SyncCompletedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		completed <- p
		return nil
	})

	monitor := newFakeMonitor(false)
	c := newTestCoordinator(h, monitor)
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return monitor.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	monitor.set(true)

	select {
	case p := <-completed:
		assert.True(t, p.Success)
		assert.Equal(t, 2, p.SyncedCount)
		assert.Zero(t, p.FailedCount)
	case <-time.After(2 * time.Second):
		t.Fatal("sync did not complete")
	}
	c.Wait()

	assert.Zero(t, h.queue.Count(ctx))
	job, err := h.store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, job.IsReceived)
	require.NotNil(t, job.SleepTracking[0].SleepAt)
	assert.Equal(t, 1, job.SleepSweden)

	mu.Lock()
	assert.Equal(t, []bool{true}, statuses)
	mu.Unlock()

	cancel()
	<-done
	assert.Zero(t, monitor.subscribers(), "unsubscribed on stop")
}

func TestCoordinator_StartDrainsWhenAlreadyOnline(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.store.Replace(ctx, seededJob()))
	enqueue(t, h, &models.PendingAction{JobID: "J1", Data: models.ReceiveData{}, Timestamp: testNow})
	h.remote.On("Receive", mock.Anything, "J1").Return(nil, nil).Once()

	completed := make(chan events.SyncCompletedPayload, 1)
	h.bus.Subscribe(events.EventSyncCompleted, func(e *events.Event) error {
		var p events.SyncCompletedPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		completed <- p
		return nil
	})

	monitor := newFakeMonitor(true)
	c := newTestCoordinator(h, monitor)
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	select {
	case p := <-completed:
		assert.True(t, p.Success)
		assert.Equal(t, 1, p.SyncedCount)
	case <-time.After(2 * time.Second):
		t.Fatal("queued action was not drained on start")
	}
	c.Wait()
	assert.Zero(t, h.queue.Count(ctx))

	cancel()
	<-done
}

func TestCoordinator_Tick(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.store.Replace(ctx, seededJob()))
	h.remote.On("Receive", mock.Anything, "J1").Return(nil, nil)

	monitor := newFakeMonitor(false)
	c := newTestCoordinator(h, monitor)

	var passes atomic.Int32
	c.OnSyncComplete(func(bool, int, int) { passes.Add(1) })

	c.Tick(ctx)
	c.Wait()
	assert.Zero(t, passes.Load(), "offline tick does nothing")

	c.HandleConnectivity(ctx, true)
	c.Wait()
	passes.Store(0)

	c.Tick(ctx)
	c.Wait()
	assert.Zero(t, passes.Load(), "empty queue tick does nothing")

	enqueue(t, h, &models.PendingAction{JobID: "J1", Data: models.ReceiveData{}})
	c.Tick(ctx)
	c.Wait()
	assert.Equal(t, int32(1), passes.Load())
	assert.Zero(t, h.queue.Count(ctx))
}

func TestCoordinator_Callbacks(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	require.NoError(t, h.store.Replace(ctx, seededJob()))
	enqueue(t, h, &models.PendingAction{JobID: "J1", Data: models.ReceiveData{}})
	h.remote.On("Receive", mock.Anything, "J1").Return(nil, nil)

	c := newTestCoordinator(h, newFakeMonitor(true))

	type outcome struct {
		ok             bool
		synced, failed int
	}
	var got []outcome
	unregister := c.OnSyncComplete(func(ok bool, synced, failed int) {
		got = append(got, outcome{ok, synced, failed})
	})

	_, err := c.RequestSync(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, outcome{true, 1, 0}, got[0])

	unregister()
	_, err = c.RequestSync(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestCoordinator_OfflineTransitionDoesNotSync(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	c := newTestCoordinator(h, newFakeMonitor(true))

	var passes atomic.Int32
	c.OnSyncComplete(func(bool, int, int) { passes.Add(1) })

	c.HandleConnectivity(ctx, true)
	c.HandleConnectivity(ctx, false)
	c.Wait()
	assert.False(t, c.IsOnline())
	assert.Zero(t, passes.Load())
}
