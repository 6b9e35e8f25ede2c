package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobsync/internal/api"
	"jobsync/internal/config"
	"jobsync/internal/connectivity"
	"jobsync/internal/database"
	"jobsync/internal/domain"
	"jobsync/internal/events"
	"jobsync/internal/logging"
	"jobsync/internal/metrics"
	"jobsync/internal/repository"
	"jobsync/internal/service"
	"jobsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, baseLogger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	logger := logging.Component(baseLogger, "agent-main")
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ready, err := initStorage(ctx, cfg, baseLogger)
	if err != nil {
		return err
	}
	defer store.Close()

	startMetrics(ctx, cfg, logger)

	bus := events.NewEventBus(logging.Component(baseLogger, "event_bus"))
	subscribeUIEvents(bus, baseLogger)

	probe := connectivity.NewProbe(cfg.Sync, baseLogger)
	remote := api.NewJobsClient(cfg.Remote, baseLogger)
	session := &sessionLogger{logger: logging.Component(baseLogger, "session")}

	jobStore := service.NewJobStore(store, bus, domain.SystemClock{}, baseLogger)
	queue := service.NewActionQueue(store, domain.SystemClock{}, baseLogger)
	jobService := service.NewJobService(jobStore, queue, remote, probe, session, bus, baseLogger)

	replayer := worker.NewReplayer(jobStore, queue, remote, session, baseLogger)
	coordinator := worker.NewCoordinator(queue, replayer, probe, bus, cfg.Sync.Interval, baseLogger)

	// A fully drained queue is the only moment the server copy can be taken as is.
	coordinator.OnSyncComplete(func(allSucceeded bool, _, _ int) {
		if !allSucceeded {
			return
		}
		if err := jobService.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("refresh after sync failed")
		}
	})

	go probe.Start(ctx)
	go coordinator.Start(ctx)

	if probe.Check(ctx) {
		if err := jobService.Refresh(ctx); err != nil {
			logger.Warn().Err(err).Msg("initial refresh failed")
		}
	}

	statusServer := startStatusServer(cfg, jobService, queue, coordinator, ready, baseLogger)

	logger.Info().
		Str("backend", cfg.Database.Backend).
		Dur("sync_interval", cfg.Sync.Interval).
		Int("pending", queue.Count(ctx)).
		Msg("agent started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if statusServer != nil {
		_ = statusServer.Shutdown(shutdownCtx)
	}
	coordinator.Wait()

	logger.Info().Msg("agent stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, baseLogger, closer, nil
}

// initStorage opens the configured backend. A failed schema init is fatal.
func initStorage(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (domain.Storage, func(context.Context) error, error) {
	switch cfg.Database.Backend {
	case config.BackendRedis:
		client := repository.NewRedisClient(cfg.Redis)
		if err := repository.Ping(ctx, client); err != nil {
			_ = client.Close()
			logger.Error().Err(err).Str("addr", cfg.Redis.Address).Msg("redis connection failed")
			return nil, nil, err
		}
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
		store := repository.NewRedisStorage(client, cfg.Redis.KeyPrefix, logging.Component(logger, "redis_storage"))
		ready := func(ctx context.Context) error { return repository.Ping(ctx, client) }
		return store, ready, nil

	case config.BackendMemory:
		logger.Warn().Msg("in-memory storage: queued actions do not survive a restart")
		return repository.NewMemoryStorage(), nil, nil

	default:
		db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
		if err != nil {
			logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
			return nil, nil, err
		}
		if cfg.Backup.Enabled {
			backupService := database.NewBackupService(db, cfg.Backup, logging.Component(logger, "backup"))
			go backupService.Start(ctx)
		}
		return db, db.PingContext, nil
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

func startStatusServer(
	cfg *config.Config,
	jobs *service.JobService,
	queue *service.ActionQueue,
	coordinator *worker.Coordinator,
	ready func(context.Context) error,
	logger *zerolog.Logger,
) *api.StatusServer {
	if cfg.Monitoring.StatusPort < 0 {
		return nil
	}

	srv := api.NewStatusServer(cfg.Monitoring.StatusPort, api.StatusServerDeps{
		Status: func(ctx context.Context) (api.Status, error) {
			job, step, err := jobs.Current(ctx)
			if err != nil {
				return api.Status{}, err
			}
			st := api.Status{
				Online:   coordinator.IsOnline(),
				Syncing:  coordinator.IsSyncing(),
				Pending:  queue.Count(ctx),
				NextStep: string(step),
			}
			if job != nil {
				st.JobID = job.ID
			}
			return st, nil
		},
		Sync: func(ctx context.Context) (int, int, error) {
			res, err := coordinator.RequestSync(ctx)
			return res.Success, res.Failed, err
		},
		Ready: ready,
	}, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("status server stopped")
		}
	}()
	return srv
}

// subscribeUIEvents logs the events a UI layer would render.
func subscribeUIEvents(bus *events.EventBus, logger *zerolog.Logger) {
	l := logging.Component(logger, "ui_events")
	for _, eventType := range []string{
		events.EventJobCreated,
		events.EventJobUpdated,
		events.EventJobDeleted,
		events.EventSyncCompleted,
		events.EventNetworkStatusChanged,
	} {
		bus.Subscribe(eventType, func(e *events.Event) error {
			l.Debug().Str("event", e.Type).RawJSON("payload", e.Payload).Msg("event")
			return nil
		})
	}
}

// sessionLogger stands in for the host's auth flow: it reports the expiry so the
// operator can rotate the token.
type sessionLogger struct {
	logger *zerolog.Logger
}

func (s *sessionLogger) SessionExpired(context.Context) {
	s.logger.Error().Msg("session expired, remote token must be renewed")
}
