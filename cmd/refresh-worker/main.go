package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/storefrontlabs/billing-sync/internal/billing"
	"github.com/storefrontlabs/billing-sync/internal/gateways"
	"github.com/storefrontlabs/billing-sync/internal/profiles"
	"github.com/storefrontlabs/billing-sync/internal/refresh"
	"github.com/storefrontlabs/billing-sync/pkg/config"
	"github.com/storefrontlabs/billing-sync/pkg/db"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
	"github.com/storefrontlabs/billing-sync/pkg/metrics"
	"github.com/storefrontlabs/billing-sync/pkg/migrate"
	"github.com/storefrontlabs/billing-sync/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "refresh-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "refresh-worker"

	logg = logger.New(logger.Options{
		ServiceName: "refresh-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	maxJobs := cfg.Refresh.MaxJobs
	if len(os.Args) > 1 {
		parsed, err := strconv.Atoi(os.Args[1])
		if err != nil || parsed <= 0 {
			logg.Error(context.Background(), "invalid maxJobs argument: "+os.Args[1], err)
			os.Exit(1)
		}
		maxJobs = parsed
	}

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayList, err := gateways.FromConfig(context.Background(), cfg.PayPal)
	if err != nil {
		logg.Error(context.Background(), "failed to build payment gateways", err)
		os.Exit(1)
	}

	repo := billing.NewRepository(dbClient.DB())

	cache, err := profiles.NewCache(profiles.CacheParams{
		Store:  redisClient,
		TTL:    cfg.Refresh.CacheTTL,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create profile cache", err)
		os.Exit(1)
	}

	manager, err := profiles.NewManager(profiles.ManagerParams{
		Gateways:   gatewayList,
		Repository: repo,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create profile manager", err)
		os.Exit(1)
	}

	queue, err := refresh.NewQueue(refresh.QueueParams{
		DB:            dbClient.DB(),
		LockLease:     cfg.Refresh.LockLease,
		MaxAttempts:   cfg.Refresh.MaxAttempts,
		RetryInterval: cfg.Refresh.RetryInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refresh queue", err)
		os.Exit(1)
	}

	worker, err := refresh.NewWorker(refresh.WorkerParams{
		Queue:         queue,
		Manager:       manager,
		Cache:         cache,
		Subscriptions: repo,
		Metrics:       metrics.NewRefreshMetrics(prometheus.DefaultRegisterer),
		Logger:        logg,
		BatchCap:      cfg.Refresh.BatchCap,
		RetryInterval: cfg.Refresh.RetryInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refresh worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"max_jobs":    maxJobs,
	})

	if cfg.Refresh.SingletonLock {
		lock, err := refresh.NewRedisRunLock(redisClient, redisClient.LockKey("refresh-worker"), cfg.Refresh.SingletonExpiry)
		if err != nil {
			logg.Error(ctx, "failed to create run lock", err)
			os.Exit(1)
		}
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			logg.Error(ctx, "failed to acquire run lock", err)
			os.Exit(1)
		}
		if !acquired {
			logg.Info(ctx, "another refresh run holds the lock, skipping")
			return
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil {
				logg.Warn(ctx, "failed to release run lock: "+err.Error())
			}
		}()
	}

	logg.Info(ctx, "starting refresh run")

	if _, err := worker.Run(ctx, maxJobs); err != nil {
		logg.Error(ctx, "refresh run finished with errors", err)
		os.Exit(1)
	}
}
