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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/circulation-backend/api/routes"
	"github.com/angelmondragon/circulation-backend/internal/assets"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/internal/locks"
	"github.com/angelmondragon/circulation-backend/internal/mutation"
	"github.com/angelmondragon/circulation-backend/internal/notices"
	"github.com/angelmondragon/circulation-backend/internal/queries"
	"github.com/angelmondragon/circulation-backend/internal/recovery"
	"github.com/angelmondragon/circulation-backend/internal/settlement"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	"github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/metrics"
	"github.com/angelmondragon/circulation-backend/pkg/migrate"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/redis"
	"github.com/angelmondragon/circulation-backend/pkg/retry"
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

	dbClient, err := db.Open(context.Background(), cfg, logg)
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

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
	} else if cfg.Concurrency.UseRedisLocks() {
		logg.Error(context.Background(), "redis lock backend selected without redis", errors.New("redis not configured"))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	httpMetrics := metrics.NewHTTPMetrics(registry)
	circulationMetrics := metrics.NewCirculationMetrics(registry)

	var locker locks.Locker
	if cfg.Concurrency.UseRedisLocks() {
		locker, err = locks.NewRedisLocker(locks.RedisLockerParams{
			Store:   redisClient,
			TTL:     cfg.Concurrency.LockTTL,
			Wait:    cfg.Concurrency.LockWait,
			Metrics: circulationMetrics,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create redis locker", err)
			os.Exit(1)
		}
	} else {
		locker = locks.NewLocalLocker(cfg.Concurrency.LockWait, circulationMetrics)
	}

	runner, err := mutation.NewRunner(mutation.Params{
		Tx:     dbClient,
		Locker: locker,
		Retry: retry.Policy{
			MaxRetries:    cfg.Concurrency.RetryMaxRetries,
			BaseDelay:     cfg.Concurrency.RetryBaseDelay,
			JitterPercent: cfg.Concurrency.RetryJitterPercent,
		},
		LockWait: cfg.Concurrency.LockWait,
		Metrics:  circulationMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create mutation runner", err)
		os.Exit(1)
	}

	policy := fines.NewPolicy(cfg.Circulation)
	outboxRepo := outbox.NewRepository(dbClient.DB())
	events := outbox.NewService(outboxRepo, logg)
	loanRepo := loans.NewRepository(dbClient.DB())

	assetRegistry, err := assets.NewRegistry(assets.RegistryParams{
		Repo:   assets.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Outbox: events,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create asset registry", err)
		os.Exit(1)
	}

	loanService, err := loans.NewService(loans.ServiceParams{
		Repo:                    loanRepo,
		Assets:                  assetRegistry,
		Runner:                  runner,
		Outbox:                  events,
		Policy:                  policy,
		MaxActiveLoansPerPatron: cfg.Circulation.MaxActiveLoansPerPatron,
		Logger:                  logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create loan service", err)
		os.Exit(1)
	}

	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Repo:   loanRepo,
		Runner: runner,
		Outbox: events,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create settlement service", err)
		os.Exit(1)
	}

	recoveryService, err := recovery.NewService(recovery.ServiceParams{
		Assets:   assetRegistry,
		LoanRepo: loanRepo,
		Runner:   runner,
		Outbox:   events,
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create recovery service", err)
		os.Exit(1)
	}

	queryService, err := queries.NewService(queries.ServiceParams{
		Repo:    queries.NewRepository(dbClient.DB()),
		Changes: outboxRepo,
		Policy:  policy,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create query service", err)
		os.Exit(1)
	}

	noticeService, err := notices.NewService(notices.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create notices service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":          cfg.App.Env,
		"addr":         addr,
		"lock_backend": cfg.Concurrency.LockBackend,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			HTTPMetrics:    httpMetrics,
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Assets:         assetRegistry,
			Loans:          loanService,
			Settlement:     settlementService,
			Recovery:       recoveryService,
			Queries:        queryService,
			Notices:        noticeService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
