package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api"
	"github.com/good-yellow-bee/blazealert/internal/api/health"
	"github.com/good-yellow-bee/blazealert/internal/dispatch"
	"github.com/good-yellow-bee/blazealert/internal/events"
	"github.com/good-yellow-bee/blazealert/internal/logging"
	"github.com/good-yellow-bee/blazealert/internal/metrics"
	"github.com/good-yellow-bee/blazealert/internal/queue"
	"github.com/good-yellow-bee/blazealert/internal/storage"
	"github.com/good-yellow-bee/blazealert/internal/templates"
	"github.com/good-yellow-bee/blazealert/internal/tracing"
	"github.com/good-yellow-bee/blazealert/pkg/config"
)

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Verbose = verbose
	if cfg.Verbose {
		cfg.Log.Level = "debug"
		cfg.API.Verbose = true
	}

	logger := logging.Init(cfg.Log)
	build := config.GetBuildInfo()
	metrics.SetBuildInfo(build.Version, build.Commit, build.BuildTime)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, build.Version, logging.WithComponent("tracing"))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	// Auto-create data directory
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info().Str("path", cfg.Database.Path).Msg("database initialized")

	q := queue.New(cfg.Queue.Capacity)

	registry, err := buildRegistry(ctx, cfg.Channels, logging.WithComponent("notifier"))
	if err != nil {
		return fmt.Errorf("configure channels: %w", err)
	}
	defer registry.Close()
	logger.Info().Interface("channels", registry.Channels()).Msg("notification channels ready")

	var exported events.Publisher = events.Nop{}
	if cfg.Events.Kafka.Enabled() {
		kp, err := events.NewKafkaPublisher(cfg.Events.Kafka, logging.WithComponent("events"))
		if err != nil {
			return fmt.Errorf("create kafka publisher: %w", err)
		}
		defer kp.Close()
		exported = kp
		logger.Info().Strs("brokers", cfg.Events.Kafka.Brokers).Str("topic", cfg.Events.Kafka.Topic).Msg("lifecycle events exported to kafka")
	}

	var engine *alerting.Engine
	disp, err := dispatch.New(cfg.Dispatch, dispatch.Options{
		Store:     store,
		Queue:     q,
		Registry:  registry,
		Directory: &cfg.Directory,
		Renderer:  templates.NewRenderer(logging.WithComponent("templates")),
		Expirer: dispatch.ExpirerFunc(func(ctx context.Context) (int, error) {
			return engine.ExpireAlerts(ctx)
		}),
		Events: exported,
		System: templates.SystemView{
			Name:        cfg.System.Name,
			BaseURL:     cfg.System.BaseURL,
			Environment: cfg.System.Environment,
		},
		Logger: logging.WithComponent("dispatch"),
	})
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	defer disp.Close()

	locker, lockCheck, closeLocker, err := buildLocker(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	engine = alerting.NewEngine(store, q, alerting.EngineOptions{
		Locker: locker,
		Events: events.Fanout{exported, disp},
		Logger: logging.WithComponent("alerting"),
	})

	var watcher *alerting.RuleWatcher
	if cfg.Rules.File != "" {
		watcher = alerting.NewRuleWatcher(engine, cfg.Rules.File, logging.WithComponent("rules"))
		res, err := watcher.Load(ctx)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		logger.Info().Str("file", cfg.Rules.File).Int("created", res.Created).Int("updated", res.Updated).Msg("rules loaded")
	}

	if n, err := disp.RequeuePending(ctx); err != nil {
		logger.Error().Err(err).Msg("requeue pending alerts failed")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("requeued pending alerts")
	}

	apiServer, err := api.New(&cfg.API, engine, store, logger)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	apiServer.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	apiServer.RegisterHealthChecker(health.NewQueueChecker(q))
	if lockCheck != nil {
		apiServer.RegisterHealthChecker(lockCheck)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error { return apiServer.Run(gctx) })
	if watcher != nil && cfg.Rules.Watch {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	if !cfg.Metrics.Disabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Address, logging.WithComponent("metrics"))
		g.Go(func() error { return metricsServer.Run(gctx) })
	}

	logger.Info().Str("version", build.Version).Str("commit", build.Commit).Msg("blazealert-server started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run server: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// buildLocker returns the Redis rule locker and its readiness check when
// configured, otherwise the in-process locker and a nil check.
func buildLocker(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (alerting.RuleLocker, health.Checker, func(), error) {
	if cfg.Address == "" {
		return alerting.NewLocalLocker(), nil, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Address, err)
	}
	logger.Info().Str("address", cfg.Address).Msg("distributed rule locking enabled")

	locker := alerting.NewRedisLocker(client, alerting.RedisLockerConfig{
		TTL:    cfg.LockTTL,
		Wait:   cfg.LockWait,
		Logger: logger,
	})
	check := health.CheckerFunc{CheckName: "redis", Fn: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
	return locker, check, func() { client.Close() }, nil
}
