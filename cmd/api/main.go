package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/storefrontlabs/billing-sync/api/routes"
	"github.com/storefrontlabs/billing-sync/internal/billing"
	"github.com/storefrontlabs/billing-sync/internal/gateways"
	"github.com/storefrontlabs/billing-sync/internal/lifecycle"
	"github.com/storefrontlabs/billing-sync/internal/profiles"
	"github.com/storefrontlabs/billing-sync/internal/refresh"
	"github.com/storefrontlabs/billing-sync/pkg/config"
	"github.com/storefrontlabs/billing-sync/pkg/db"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
	"github.com/storefrontlabs/billing-sync/pkg/migrate"
	"github.com/storefrontlabs/billing-sync/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

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

	lifecycleService, err := lifecycle.NewService(lifecycle.ServiceParams{
		Manager: manager,
		Store:   repo,
		Cache:   cache,
		Queue:   queue,
		Logger:  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lifecycle service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, lifecycleService, queue),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
