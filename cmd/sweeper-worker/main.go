package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/HaoranTong/inventory-engine/internal/inventory"
	"github.com/HaoranTong/inventory-engine/internal/ledger"
	"github.com/HaoranTong/inventory-engine/internal/reservation"
	"github.com/HaoranTong/inventory-engine/internal/stockcache"
	"github.com/HaoranTong/inventory-engine/internal/sweeper"
	"github.com/HaoranTong/inventory-engine/pkg/config"
	"github.com/HaoranTong/inventory-engine/pkg/db"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
	"github.com/HaoranTong/inventory-engine/pkg/metrics"
	"github.com/HaoranTong/inventory-engine/pkg/migrate"
	"github.com/HaoranTong/inventory-engine/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sweeper-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "sweeper-worker",
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

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	cache, err := stockcache.New(redisClient, cfg.Cache.StockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create stock cache", err)
		os.Exit(1)
	}

	stockRepo := inventory.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	reservationRepo := reservation.NewRepository(dbClient.DB())

	store, err := inventory.NewStore(stockRepo, ledgerRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory store", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledgerRepo, store)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	sweepMetrics := metrics.NewSweepMetrics(prometheus.DefaultRegisterer)

	expiryJob, err := sweeper.NewExpiryJob(sweeper.ExpiryJobParams{
		Repo:        reservationRepo,
		Store:       store,
		DB:          dbClient,
		Cache:       cache,
		Logger:      logg,
		Metrics:     sweepMetrics,
		BatchSize:   cfg.Sweeper.BatchSize,
		MaxAttempts: cfg.Sweeper.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create expiry job", err)
		os.Exit(1)
	}

	reconcileJob, err := sweeper.NewReconcileJob(sweeper.ReconcileJobParams{
		SKUs:    stockRepo,
		Ledger:  ledgerService,
		Logger:  logg,
		Metrics: sweepMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	lock, err := sweeper.NewRedisLock(
		redisClient, redisClient.SweepLockKey(cfg.App.Env), cfg.Sweeper.LockTTL,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	service, err := sweeper.NewService(sweeper.ServiceParams{
		Logger:   logg,
		Registry: sweeper.NewRegistry(expiryJob, reconcileJob),
		Lock:     lock,
		Metrics:  sweepMetrics,
		Interval: cfg.Sweeper.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting sweeper worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweeper worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweeper worker shutting down gracefully")
}
