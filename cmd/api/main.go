package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/HaoranTong/inventory-engine/api/routes"
	"github.com/HaoranTong/inventory-engine/internal/deduction"
	"github.com/HaoranTong/inventory-engine/internal/inventory"
	"github.com/HaoranTong/inventory-engine/internal/ledger"
	"github.com/HaoranTong/inventory-engine/internal/reservation"
	"github.com/HaoranTong/inventory-engine/internal/stockcache"
	"github.com/HaoranTong/inventory-engine/pkg/config"
	"github.com/HaoranTong/inventory-engine/pkg/db"
	"github.com/HaoranTong/inventory-engine/pkg/logger"
	"github.com/HaoranTong/inventory-engine/pkg/migrate"
	"github.com/HaoranTong/inventory-engine/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

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

	inventoryService, err := inventory.NewService(
		store, dbClient, cache, logg,
		cfg.Reservation.MaxAttempts, cfg.Reservation.RetryDelay,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledgerRepo, store)
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	reservationService, err := reservation.NewService(
		reservationRepo, store, dbClient, cache, logg, cfg.Reservation,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation service", err)
		os.Exit(1)
	}

	deductionService, err := deduction.NewService(
		reservationRepo, store, dbClient, cache, logg, cfg.Reservation,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create deduction service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:       cfg,
			Logger:       logg,
			DBPinger:     dbClient,
			RedisPinger:  redisClient,
			Inventory:    inventoryService,
			Ledger:       ledgerService,
			Reservations: reservationService,
			Deductions:   deductionService,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server shut down gracefully")
}
