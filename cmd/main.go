package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"stockledger/internal/caching"
	"stockledger/internal/config"
	"stockledger/internal/handlers"
	"stockledger/internal/jobs"
	"stockledger/internal/jobs/background"
	"stockledger/internal/logging"
	"stockledger/internal/repositories"
	"stockledger/internal/repositories/memstore"
	"stockledger/internal/retry"
	"stockledger/internal/services"
	"stockledger/internal/transaction"
	"stockledger/pkg/database"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Server.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	policy := retry.Policy{
		MaxRetries:   cfg.Retry.MaxRetries,
		InitialDelay: cfg.Retry.InitialDelay.Duration,
		MaxDelay:     cfg.Retry.MaxDelay.Duration,
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       true,
		Logger:       logger,
	}

	var store repositories.Store
	switch cfg.Database.Driver {
	case "memory":
		logger.Warn("using in-memory storage; data is lost on restart")
		store = memstore.New()
	default:
		pool, err := database.NewPool(ctx, cfg.Database.URL, database.PoolOptions{}, logger)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			return err
		}
		store = repositories.NewPostgresStore(pool, policy, logger)
	}

	var (
		redisClient redis.UniversalClient
		locker      *redislock.Client
		cache       = caching.NewNoopCacheService()
	)
	if cfg.Redis.Addr != "" {
		client := caching.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		defer client.Close()
		redisClient = client
		locker = redislock.New(client)
		cache = caching.NewRedisCacheService(client)
	}

	var idempotency caching.IdempotencyStore
	if cfg.Idempotency.Backend == "redis" {
		idempotency = caching.NewRedisIdempotencyStore(redisClient, cfg.Idempotency.TTL.Duration, cfg.Idempotency.InFlightTimeout.Duration)
	} else {
		mem, err := caching.NewMemoryIdempotencyStore(cfg.Idempotency.Capacity, cfg.Idempotency.TTL.Duration, cfg.Idempotency.InFlightTimeout.Duration)
		if err != nil {
			return err
		}
		idempotency = mem
	}

	ledgerService := services.NewLedgerService(store, cache, logger)
	reservationService := services.NewReservationService(store, cache, logger, cfg.Reservation.DefaultTTL.Duration)
	productService := services.NewProductService(store, ledgerService, cache, logger)
	inventoryService := services.NewInventoryService(store, cache, logger)
	checkoutService := services.NewCheckoutService(store, ledgerService, reservationService, transaction.NewExecutor(logger), logger)
	transformationService := services.NewTransformationService(store, ledgerService, cache, logger)

	alerts := jobs.NewInventoryAlertService(inventoryService, productService, logger)
	scheduler, err := background.NewJobScheduler(reservationService, idempotency, alerts, locker, background.Intervals{
		ReservationSweep: cfg.Reservation.SweepInterval.Duration,
		IdempotencySweep: cfg.Idempotency.SweepInterval.Duration,
		ReorderAlerts:    cfg.Reservation.ReorderAlertPeriod.Duration,
	}, logger)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			logger.WithError(err).Warn("scheduler shutdown failed")
		}
	}()

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; trusting X-Actor-ID for the acting user")
	}

	e := handlers.NewRouter(handlers.RouterConfig{
		Production:      cfg.IsProduction(),
		JWTSecret:       cfg.Auth.JWTSecret,
		Logger:          logger,
		Store:           store,
		Redis:           redisClient,
		Idempotency:     idempotency,
		Products:        productService,
		Inventory:       inventoryService,
		Ledger:          ledgerService,
		Reservations:    reservationService,
		Checkout:        checkoutService,
		Transformations: transformationService,
	})

	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		logger.WithFields(logrus.Fields{
			"addr":    addr,
			"env":     cfg.Server.Env,
			"storage": cfg.Database.Driver,
		}).Info("stockledger listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
