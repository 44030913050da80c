package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mini-oms/internal/cache"
	"mini-oms/internal/config"
	"mini-oms/internal/database"
	api "mini-oms/internal/http"
	"mini-oms/internal/infrastructure/kafka"
	"mini-oms/internal/lifecycle"
	"mini-oms/internal/logging"
	"mini-oms/internal/repo"
	"mini-oms/internal/security"
	"mini-oms/internal/service"
	"mini-oms/internal/worker"
)

func main() {
	env := os.Getenv("OMS_ENV") // development | production
	if env == "" {
		env = "development"
	}

	cfg, err := config.Load("configs", env)
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.Init(logging.Options{
		Component: cfg.App.Name,
		FilePath:  cfg.App.LogFile,
		Level:     cfg.App.LogLevel,
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbs, err := database.New(cfg)
	if err != nil {
		return err
	}
	defer dbs.Close()
	db := dbs.DB()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}
	if cfg.Seed.Enabled {
		err := database.Seed(ctx, db, database.SeedOptions{
			AdminEmail:    cfg.Seed.AdminEmail,
			AdminPassword: cfg.Seed.AdminPassword,
			Products:      database.DemoProducts,
		})
		if err != nil {
			return err
		}
	}

	// A nil interface, not a typed nil, when Redis is off.
	var idem service.IdempotencyCache
	if cfg.Redis.Addr != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, idempotency falls back to postgres", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer rdb.Close()
			idem = cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
		}
	}

	var publisher worker.Publisher = worker.LogPublisher{Log: logging.New("events")}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix)
		defer kp.Close()
		publisher = kp
	}

	stores := service.NewStores(db)
	engine := lifecycle.New()
	tokens := security.NewTokens(cfg.Security.JWTSecret, cfg.Security.Issuer, cfg.Security.TTL)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Services{
		Auth:     service.NewAuthService(stores.Users, tokens),
		Products: service.NewProductService(stores.Products),
		Orders:   service.NewOrderService(db, stores, engine, idem),
		Payments: service.NewPaymentService(db, stores, engine, idem),
		Health:   dbs,
	}, logger)

	var wg sync.WaitGroup
	startWorkers(ctx, &wg, cfg, stores.Outbox, stores.Keys, publisher)

	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("order api listening", "addr", cfg.App.HTTPAddr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stop()
	wg.Wait()
	return err
}

func startWorkers(ctx context.Context, wg *sync.WaitGroup, cfg config.Config, outbox repo.OutboxRepo, keys repo.IdempotencyRepo, publisher worker.Publisher) {
	relay := worker.NewOutboxRelay(outbox, publisher, cfg.Outbox.Interval, cfg.Outbox.Batch)
	sweeper := worker.NewIdempotencySweeper(keys, cfg.Idempotency.TTL, cfg.Idempotency.SweepInterval)

	wg.Add(2)
	go func() {
		defer wg.Done()
		relay.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()
}
