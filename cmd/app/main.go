// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"esim-reseller/internal/config"
	"esim-reseller/internal/domain/ports/adapter"
	"esim-reseller/internal/domain/ports/repository"
	carrierAdapters "esim-reseller/internal/infra/adapters/carrier"
	eventAdapters "esim-reseller/internal/infra/adapters/events"
	payAdapters "esim-reseller/internal/infra/adapters/payment"
	"esim-reseller/internal/infra/api"
	apiv1 "esim-reseller/internal/infra/api/apiv1"
	mydb "esim-reseller/internal/infra/db/mysql"
	pg "esim-reseller/internal/infra/db/postgres"
	"esim-reseller/internal/infra/logging"
	"esim-reseller/internal/infra/metrics"
	red "esim-reseller/internal/infra/redis"
	"esim-reseller/internal/infra/sched"
	"esim-reseller/internal/infra/worker"
	"esim-reseller/internal/usecase"
)

const poolStatsEvery = 15 * time.Second

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	orders, templates, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("database")
	}
	defer closeDB()

	// ---- Redis (optional) ----
	var (
		deduper adapter.EventDeduper = red.NoopDeduper{}
		limiter api.Limiter
	)
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		templates = pg.NewPackageTemplateRepoCacheDecorator(templates, redisClient, cfg.Redis.TTL, logger)
		deduper = red.NewEventDeduper(redisClient)
		limiter = red.NewRateLimiter(redisClient)
	} else {
		logger.Info().Msg("redis not configured: no catalog cache, webhook dedupe or rate limiting")
	}

	// ---- Adapters ----
	gateway, err := newPaymentGateway(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("payment gateway")
	}
	carrier, err := newCarrier(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("carrier client")
	}
	var publisher adapter.OrderEventPublisher = eventAdapters.NoopPublisher{}
	if eventAdapters.Enabled(cfg.Kafka) {
		publisher = eventAdapters.NewKafkaPublisher(cfg.Kafka)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("order events enabled")
	}
	defer publisher.Close()
	logger.Info().Str("payment", gateway.Name()).Str("carrier", cfg.Carrier.Provider).Msg("adapters ready")

	// ---- Use cases ----
	orderUC := usecase.NewOrderUseCase(orders, templates, gateway, carrier, publisher, usecase.OrderConfig{
		CarrierTimeout:       cfg.Carrier.Timeout,
		ProcessingStaleAfter: cfg.Orders.ProcessingStaleAfter,
		SimNamePrefix:        cfg.Carrier.SimNamePrefix,
		DefaultCurrency:      cfg.Orders.DefaultCurrency,
	}, logger)
	paymentUC := usecase.NewPaymentUseCase(orderUC, gateway, logger)
	webhookUC := usecase.NewWebhookUseCase(gateway, orderUC, deduper, logger)

	// ---- Workers ----
	// The pool outlives request contexts so queued webhooks finish during shutdown.
	pool := worker.NewPool(cfg.Worker.Size, logger)
	pool.Start(context.Background())

	reconciler := sched.NewOrderReconciler(orderUC, cfg.Reconciler.Interval, cfg.Reconciler.StaleAfter, logger)
	go func() { _ = reconciler.Run(ctx) }()

	// ---- HTTP ----
	router := api.NewRouter(logger, cfg.HTTP.RequestTimeout)
	apiv1.RegisterAPIV1(router, apiv1.NewServer(apiv1.Deps{
		Orders:     orderUC,
		Payments:   paymentUC,
		Webhooks:   webhookUC,
		Auth:       api.NewAuthenticator(cfg.Auth.JWTSecret, time.Hour),
		Pool:       pool,
		Limiter:    limiter,
		RatePerMin: cfg.HTTP.RateLimitPerMinute,
	}, logger))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	// ---- Graceful shutdown ----
	<-ctx.Done()
	logger.Info().Msg("shutdown requested")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	pool.Stop()
	logger.Info().Msg("bye")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.OrderRepository, repository.PackageTemplateRepository, func(), error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mydb.Open(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		go mydb.ReportPoolStats(ctx, db, poolStatsEvery)
		logger.Info().Msg("order store: mysql")
		return mydb.NewOrderRepo(db), mydb.NewPackageTemplateRepo(db), func() { _ = db.Close() }, nil
	default:
		pool, err := pg.NewPool(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, nil, err
		}
		go pg.ReportPoolStats(ctx, pool, poolStatsEvery)
		logger.Info().Msg("order store: postgres")
		return pg.NewOrderRepo(pool), pg.NewPackageTemplateRepo(pool), pool.Close, nil
	}
}

func newPaymentGateway(cfg *config.Config, logger *zerolog.Logger) (adapter.PaymentGateway, error) {
	if cfg.Payment.Provider == "noop" {
		return payAdapters.NewNoopPaymentGateway(cfg.Payment.Stripe.WebhookSecret, cfg.Runtime.Dev), nil
	}
	return payAdapters.NewStripeGateway(cfg.Payment.Stripe, logger)
}

func newCarrier(cfg *config.Config) (adapter.CarrierClient, error) {
	if cfg.Carrier.Provider == "noop" {
		return carrierAdapters.NewNoopCarrier(), nil
	}
	return carrierAdapters.NewOCSClient(cfg.Carrier)
}
