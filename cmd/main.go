/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zerologr"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/supercheck-io/supercheck/internal/alerting"
	"github.com/supercheck-io/supercheck/internal/api"
	"github.com/supercheck-io/supercheck/internal/capacity"
	"github.com/supercheck-io/supercheck/internal/config"
	"github.com/supercheck-io/supercheck/internal/dispatch"
	"github.com/supercheck-io/supercheck/internal/queue"
	"github.com/supercheck-io/supercheck/internal/scheduler"
	"github.com/supercheck-io/supercheck/internal/store"
)

var setupLog logr.Logger

func main() {
	// Set up pflags
	flags := pflag.NewFlagSet("supercheck", pflag.ExitOnError)
	config.BindFlags(flags)

	// Parse flags
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(flags)
	if err != nil {
		zl := zerolog.New(os.Stderr)
		zerologr.New(&zl).Error(err, "failed to load configuration")
		os.Exit(1)
	}

	// Set up zerolog with configured log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()
	logger := zerologr.New(&zl)

	setupLog = logger.WithName("setup")
	if cfg.ConfigFileUsed() != "" {
		setupLog.Info("configuration loaded", "file", cfg.ConfigFileUsed(), "level", cfg.LogLevel)
	} else {
		setupLog.Info("no config file found, using defaults and flags", "level", cfg.LogLevel)
	}

	// Initialize the storage backend
	dialect, dsn, err := cfg.StorageDSN()
	if err != nil {
		setupLog.Error(err, "unsupported storage configuration")
		os.Exit(1)
	}
	dataStore, err := store.NewGormStoreWithPool(dialect, dsn, store.ConnectionPoolConfig{
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		setupLog.Error(err, "unable to create store")
		os.Exit(1)
	}
	if err := dataStore.Init(); err != nil {
		setupLog.Error(err, "unable to initialize store")
		os.Exit(1)
	}
	defer func() { _ = dataStore.Close() }()
	setupLog.Info("initialized store", "type", cfg.Storage.Type)

	// Queue service over Redis
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	queueService := queue.NewAsynqService(redisOpt)
	defer func() { _ = queueService.Close() }()

	// Capacity gate over the execution queues
	gate := capacity.NewGate(queueService,
		[]string{queue.QueueJobExecution, queue.QueueTestExecution},
		cfg.Capacity.Running, cfg.Capacity.Queued, logger)
	setupLog.Info("initialized capacity gate",
		"running", cfg.Capacity.Running, "queued", cfg.Capacity.Queued)

	// Alert engine
	alerts := alerting.NewEngine(dataStore, cfg.Alerting.DashboardURL, logger)

	// Dispatchers
	executor := dispatch.NewExecutor(cfg.Executor.Command, cfg.Executor.Timeout, logger)
	uploader := dispatch.NewFSUploader(cfg.Artifacts.Dir, cfg.Artifacts.BaseURL)
	jobDispatcher := dispatch.NewJobDispatcher(dataStore, gate, executor, uploader, alerts, cfg.Executor.WorkDir, logger)
	monitorDispatcher := dispatch.NewMonitorDispatcher(dataStore, alerts, logger)

	// Schedulers share one repeatable registry; each owns its key prefix
	registry := queue.NewRepeatableRegistry()
	jobScheduler := scheduler.NewJobScheduler(dataStore, queueService, registry, logger)
	jobScheduler.SetInterval(cfg.Scheduler.SyncInterval)
	monitorScheduler := scheduler.NewMonitorScheduler(dataStore, queueService, registry, logger)
	monitorScheduler.SetInterval(cfg.Scheduler.SyncInterval)

	// Janitor sweeps storage retention and orphaned queue keys
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = rdb.Close() }()
	janitor := scheduler.NewJanitor(dataStore, rdb,
		time.Duration(cfg.Scheduler.ResultRetentionDays)*24*time.Hour,
		time.Duration(cfg.Scheduler.HistoryRetentionDays)*24*time.Hour,
		logger)
	janitor.SetInterval(cfg.Scheduler.JanitorInterval)

	// Worker server routes task types to their handlers
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskTypeJobFire, jobScheduler.HandleFire)
	mux.HandleFunc(queue.TaskTypeMonitorFire, monitorScheduler.HandleFire)
	mux.HandleFunc(queue.TaskTypeJobExecute, jobDispatcher.HandleTask)
	mux.HandleFunc(queue.TaskTypeMonitorCheck, monitorDispatcher.HandleTask)

	worker := queue.NewServer(redisOpt, queue.ServerConfig{
		ExecutionConcurrency: 1,
		MonitorConcurrency:   cfg.Executor.MonitorConcurrency,
	}, logger)

	// Periodic manager fires the registry's repeatable entries
	periodic, err := queue.NewPeriodicTaskManager(redisOpt, registry, cfg.Scheduler.SyncInterval)
	if err != nil {
		setupLog.Error(err, "unable to create periodic task manager")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return jobScheduler.Start(ctx) })
	g.Go(func() error { return monitorScheduler.Start(ctx) })
	g.Go(func() error { return janitor.Start(ctx) })

	g.Go(func() error {
		if err := worker.Start(mux); err != nil {
			return err
		}
		<-ctx.Done()
		worker.Shutdown()
		return nil
	})

	g.Go(func() error {
		if err := periodic.Start(); err != nil {
			return err
		}
		<-ctx.Done()
		periodic.Shutdown()
		return nil
	})

	if cfg.API.Enabled {
		apiServer := api.NewServer(api.ServerOptions{
			Store:        dataStore,
			Queue:        queueService,
			Gate:         gate,
			Alerts:       alerts,
			Applier:      monitorDispatcher,
			ArtifactsDir: cfg.Artifacts.Dir,
			Port:         cfg.API.Port,
			Log:          logger,
		})
		g.Go(func() error { return apiServer.Start(ctx) })
	}

	setupLog.Info("supercheck started")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		setupLog.Error(err, "shutdown with error")
		os.Exit(1)
	}
	setupLog.Info("supercheck stopped")
}
