package main

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/medrex/healthon/internal/delivery"
	"github.com/medrex/healthon/internal/reminders"
	"github.com/medrex/healthon/internal/statestore"
	"github.com/medrex/healthon/pkg/config"
	"github.com/medrex/healthon/pkg/database"
	"github.com/medrex/healthon/pkg/interfaces"
	"github.com/medrex/healthon/pkg/logger"
	"github.com/medrex/healthon/pkg/monitoring"
	"github.com/medrex/healthon/pkg/types"
)

const (
	serviceName    = "reminder-agent"
	serviceVersion = "1.0.0"
)

// app owns every resource opened at startup
type app struct {
	cfg     *config.Config
	logger  *logger.Logger
	metrics *monitoring.MetricsCollector
	service *reminders.Service

	db        *database.DB
	store     *statestore.Store
	redis     *redis.Client
	tracing   *monitoring.TracingManager
	client    *asynq.Client
	inspector *asynq.Inspector

	sender delivery.MessageSender
}

// newApp wires the reminder engine for the host described by cfg
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  log,
		metrics: monitoring.NewMetricsCollector(serviceName, prometheus.DefaultRegisterer),
	}

	if err := a.open(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.cfg
	loc := cfg.Reminders.Location()
	deps := reminders.Dependencies{Logger: a.logger, Metrics: a.metrics, Now: time.Now}

	if cfg.Tracing.Enabled {
		tm, err := monitoring.NewTracingManager(&monitoring.TracingConfig{
			ServiceName:    serviceName,
			ServiceVersion: serviceVersion,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			Environment:    cfg.Tracing.Environment,
			SamplingRate:   cfg.Tracing.SamplingRate,
		})
		if err != nil {
			return err
		}
		a.tracing = tm
	}

	db, err := database.NewConnection(ctx, &cfg.Database, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	repo := reminders.NewRepository(db, a.logger)

	store, err := statestore.Open(ctx, cfg.State.Path)
	if err != nil {
		return err
	}
	a.store = store
	if pruned, err := store.PruneFired(ctx, time.Now().Add(-cfg.Reminders.FiredTTL)); err != nil {
		a.logger.WithError(err).Warn("Failed to prune fired alert log")
	} else if pruned > 0 {
		a.logger.WithField("pruned", pruned).Info("Pruned fired alert log")
	}

	if addr := cfg.Redis.Addr(); addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
	}

	var firedLog interfaces.FiredLog
	switch cfg.Reminders.FiredLog {
	case config.FiredLogMemory:
		firedLog = reminders.NewMemoryFiredLog(cfg.Reminders.FiredCacheSize, cfg.Reminders.FiredTTL)
	case config.FiredLogRedis:
		firedLog = reminders.NewRedisFiredLog(a.redis, cfg.Reminders.FiredTTL)
	default:
		firedLog = store
	}

	if cfg.Firebase.Enabled {
		client, err := delivery.NewMessagingClient(ctx, cfg.Firebase)
		if err != nil {
			return err
		}
		a.sender = client
	}

	webTokens := delivery.NewTokenRegistry(cfg.Firebase.WebPushToken)

	// the device token and daily reminders live in Redis next to the queue,
	// where the delivery worker reads them
	var (
		bridge       *delivery.QueueBridge
		deviceTokens interfaces.DeviceTokenRegistry
	)
	if cfg.Host.QueueBridge {
		redisOpt := delivery.RedisConnOpt(cfg.Redis)
		a.client = asynq.NewClient(redisOpt)
		a.inspector = asynq.NewInspector(redisOpt)
		deviceTokens = delivery.NewSharedTokenRegistry(a.redis, cfg.Host.Queue, cfg.Firebase.DeviceToken, a.logger)
		daily := delivery.NewDailyRegistry(a.redis, cfg.Host.Queue, loc, a.logger)
		bridge = delivery.NewQueueBridge(a.client, a.inspector, daily, cfg.Host.Queue, deviceTokens, a.logger)
	}

	probe := reminders.NewHostProbe(reminders.HostCapabilities{
		Platform:     cfg.Host.Platform,
		NativeBridge: bridge != nil,
	})
	host := probe.Kind()

	hub := delivery.NewSocketHub(a.logger, cfg.Reminders.PromptTimeout)
	inbox := delivery.NewToastInbox(0)

	components := reminders.Components{
		Repository: repo,
		Toasts:     inbox,
		InApp:      inbox,
	}

	var (
		prompter interfaces.PermissionPrompter
		opts     reminders.BackendOptions
	)
	if host == types.NativeHost {
		prompter = bridge
		opts.Bridge = bridge
		components.Tokens = deviceTokens
	} else {
		prompter = hub
		opts.Foreground = hub
		opts.Inbox = inbox
		if a.sender != nil {
			opts.Background = delivery.NewPushSurface(a.sender, webTokens, delivery.PushBrowser, cfg.Firebase.Icon, a.logger)
		}
		components.Tokens = webTokens
		components.Socket = hub
	}

	permission := reminders.NewPermissionManager(host, prompter, store, deps)
	backend := reminders.NewBackend(host, opts, deps)

	components.Permission = permission
	components.Backend = backend
	components.Health = a.healthManager(permission)
	components.Synchronizer = reminders.NewSynchronizer(repo, backend, permission, loc, deps).WithLedger(store)
	components.Proximity = reminders.NewProximityEngine(reminders.ProximityConfig{
		JoinWindow: cfg.Reminders.JoinWindow,
		Location:   loc,
	}, firedLog, deps)

	a.service = reminders.NewService(cfg, components, deps)

	a.logger.WithField("host", host).
		WithField("platform", cfg.Host.Platform).
		WithField("fired_log", cfg.Reminders.FiredLog).
		Info("Reminder engine wired")
	return nil
}

func (a *app) healthManager(permission *reminders.PermissionManager) *monitoring.HealthManager {
	hm := monitoring.NewHealthManager(serviceName, serviceVersion)
	hm.SetTimeout(5 * time.Second)
	// reminders cannot be delivered without permission, but the agent still serves
	hm.RegisterChecker("notifications", monitoring.CheckFunc(func(ctx context.Context) monitoring.HealthCheck {
		st := permission.State(ctx)
		check := monitoring.HealthCheck{
			Status:  monitoring.HealthStatusHealthy,
			Details: map[string]interface{}{"permission": st.Status},
		}
		if st.Status == types.PermissionDenied {
			check.Status = monitoring.HealthStatusDegraded
			check.Message = "notification permission denied"
		}
		return check
	}))
	if a.db != nil {
		hm.RegisterChecker("database", monitoring.NewDatabaseHealthChecker(a.db.DB))
	}
	if a.store != nil {
		hm.RegisterChecker("state_store", monitoring.NewPingHealthChecker(a.store.Ping, true))
	}
	if a.redis != nil {
		hm.RegisterChecker("redis", monitoring.NewPingHealthChecker(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}, false))
	}
	return hm
}

// close releases resources in reverse order of opening. Scheduled native
// reminders live in Redis and are not touched.
func (a *app) close(ctx context.Context) {
	if a.inspector != nil {
		a.inspector.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Warn("Failed to flush traces")
		}
	}
}
