package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"jobsync/internal/domain"
	"jobsync/internal/events"
	"jobsync/internal/metrics"
	"jobsync/internal/models"
	"jobsync/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoConnection   = domain.ErrNoConnection
	ErrSyncInProgress = domain.ErrSyncInProgress
)

// Trigger names the cause of a sync pass.
type Trigger string

const (
	TriggerReconnect Trigger = "reconnect"
	TriggerTick      Trigger = "tick"
	TriggerManual    Trigger = "manual"
)

// CompletionFunc receives the outcome of every finished pass.
type CompletionFunc func(allSucceeded bool, synced, failed int)

type completionSub struct {
	id uint64
	fn CompletionFunc
}

// Coordinator decides when the queue is replayed and guarantees that at most one
// pass runs at a time.
type Coordinator struct {
	queue    *service.ActionQueue
	replayer *Replayer
	monitor  domain.ConnectivityMonitor
	bus      domain.EventPublisher
	interval time.Duration
	logger   *zerolog.Logger

	syncing atomic.Bool
	online  atomic.Bool
	wg      sync.WaitGroup

	mu        sync.Mutex
	callbacks []completionSub
	nextID    uint64
}

func NewCoordinator(
	queue *service.ActionQueue,
	replayer *Replayer,
	monitor domain.ConnectivityMonitor,
	bus domain.EventPublisher,
	interval time.Duration,
	logger *zerolog.Logger,
) *Coordinator {
	if interval <= 0 {
		interval = models.DefaultSyncInterval
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "sync_coordinator").Logger()
	c := &Coordinator{
		queue:    queue,
		replayer: replayer,
		monitor:  monitor,
		bus:      bus,
		interval: interval,
		logger:   &l,
	}
	if monitor != nil {
		c.online.Store(monitor.IsOnline())
	}
	metrics.SetOnline(c.online.Load())
	return c
}

// OnSyncComplete registers fn for every finished pass and returns a func that
// removes it.
func (c *Coordinator) OnSyncComplete(fn CompletionFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.callbacks = append(c.callbacks, completionSub{id: id, fn: fn})
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i := range c.callbacks {
			if c.callbacks[i].id == id {
				c.callbacks = append(c.callbacks[:i:i], c.callbacks[i+1:]...)
				return
			}
		}
	}
}

func (c *Coordinator) IsSyncing() bool { return c.syncing.Load() }

func (c *Coordinator) IsOnline() bool { return c.online.Load() }

// Start subscribes to connectivity changes and runs the periodic tick until ctx is
// done. The ticker is stopped and the subscription removed on return.
func (c *Coordinator) Start(ctx context.Context) {
	c.logger.Info().Dur("interval", c.interval).Msg("sync coordinator started")
	defer c.logger.Info().Msg("sync coordinator stopped")

	if c.monitor != nil {
		unsubscribe := c.monitor.Subscribe(func(online bool) {
			c.HandleConnectivity(ctx, online)
		})
		defer unsubscribe()
		// Catch a transition that happened before the subscription.
		c.HandleConnectivity(ctx, c.monitor.IsOnline())
	}
	// Already online at construction: drain what is queued without waiting a tick.
	c.Tick(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Wait blocks until background passes have finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// HandleConnectivity records the new state, publishes it, and starts a pass on an
// offline to online transition.
func (c *Coordinator) HandleConnectivity(ctx context.Context, online bool) {
	was := c.online.Swap(online)
	if was == online {
		return
	}
	metrics.SetOnline(online)
	c.publish(events.EventNetworkStatusChanged, events.NetworkStatusPayload{IsOnline: online})

	c.logger.Info().Bool("online", online).Msg("connectivity changed")
	if online {
		c.TriggerSync(ctx, TriggerReconnect)
	}
}

// Tick starts a pass when online and something is queued.
func (c *Coordinator) Tick(ctx context.Context) {
	if !c.online.Load() {
		return
	}
	if c.queue.Count(ctx) == 0 {
		return
	}
	c.TriggerSync(ctx, TriggerTick)
}

// TriggerSync starts a background pass. It reports false when a pass is already
// running; the trigger is dropped in that case.
func (c *Coordinator) TriggerSync(ctx context.Context, trigger Trigger) bool {
	if !c.syncing.CompareAndSwap(false, true) {
		c.logger.Debug().Str("trigger", string(trigger)).Msg("sync already running, trigger dropped")
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.syncing.Store(false)
		c.run(ctx, trigger)
	}()
	return true
}

// RequestSync runs a pass in the caller's goroutine and returns its result.
func (c *Coordinator) RequestSync(ctx context.Context) (Result, error) {
	if !c.online.Load() {
		return Result{}, ErrNoConnection
	}
	if !c.syncing.CompareAndSwap(false, true) {
		return Result{}, ErrSyncInProgress
	}
	defer c.syncing.Store(false)
	return c.run(ctx, TriggerManual), nil
}

func (c *Coordinator) run(ctx context.Context, trigger Trigger) Result {
	syncID := uuid.NewString()
	logger := c.logger.With().Str("sync_id", syncID).Str("trigger", string(trigger)).Logger()
	ctx = logger.WithContext(ctx)
	start := time.Now()

	actions := c.queue.ListPending(ctx)
	if len(actions) == 0 {
		logger.Debug().Msg("nothing to sync")
		metrics.ObserveSyncPass(string(trigger), "empty", time.Since(start).Seconds())
		c.complete(Result{})
		return Result{}
	}

	logger.Info().Int("pending", len(actions)).Msg("sync started")
	res := c.replayer.Drain(ctx, actions)

	outcome := "success"
	if res.Failed > 0 {
		outcome = "partial"
		if res.Success == 0 {
			outcome = "failed"
		}
	}
	metrics.ObserveSyncPass(string(trigger), outcome, time.Since(start).Seconds())
	logger.Info().
		Int("synced", res.Success).
		Int("failed", res.Failed).
		Dur("duration", time.Since(start)).
		Msg("sync finished")

	c.complete(res)
	return res
}

func (c *Coordinator) complete(res Result) {
	allSucceeded := res.Failed == 0
	c.publish(events.EventSyncCompleted, events.SyncCompletedPayload{
		Success:     allSucceeded,
		SyncedCount: res.Success,
		FailedCount: res.Failed,
	})

	c.mu.Lock()
	subs := append([]completionSub(nil), c.callbacks...)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.fn(allSucceeded, res.Success, res.Failed)
	}
}

func (c *Coordinator) publish(eventType string, payload interface{}) {
	if c.bus == nil {
		return
	}
	if err := c.bus.PublishJSON(eventType, payload); err != nil {
		c.logger.Error().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}
