package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/kursadbilgin/workflow-engine/internal/config"
	"github.com/kursadbilgin/workflow-engine/internal/handler"
	"github.com/kursadbilgin/workflow-engine/internal/infra/postgresql"
	"github.com/kursadbilgin/workflow-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/workflow-engine/internal/infra/redis"
	"github.com/kursadbilgin/workflow-engine/internal/observability"
	"github.com/kursadbilgin/workflow-engine/internal/provider"
	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"github.com/kursadbilgin/workflow-engine/internal/render"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"github.com/kursadbilgin/workflow-engine/internal/service"
	"github.com/kursadbilgin/workflow-engine/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	publisher := queue.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()

	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	defer consumer.Close()

	rateLimiter, err := infraredis.NewSendRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	digestLock, err := infraredis.NewDigestLock(rdb)
	if err != nil {
		logger.Fatal("digest lock initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	jobRepo := repository.NewGormJobRepo(db)
	triggerRepo := repository.NewGormTriggerRepo(db)
	templateRepo := repository.NewGormTemplateRepo(db)
	subscriberRepo := repository.NewGormSubscriberRepo(db)
	messageRepo := repository.NewGormMessageRepo(db)
	attemptRepo := repository.NewGormAttemptRepo(db)
	credentialRepo := repository.NewGormCredentialRepo(db)

	scheduler, err := service.NewScheduler(jobRepo, digestLock, logger)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}
	scheduler.SetMetrics(metrics)

	resolver, err := service.NewResolver(triggerRepo, templateRepo, subscriberRepo, scheduler, consumer, logger)
	if err != nil {
		logger.Fatal("resolver initialization failed", zap.Error(err))
	}

	processor, err := service.NewProcessor(
		jobRepo,
		attemptRepo,
		messageRepo,
		subscriberRepo,
		credentialRepo,
		consumer,
		provider.DefaultRegistry(),
		render.NewRenderer(),
		rateLimiter,
		cfg.WorkerConcurrency,
		cfg.MaxAttempts,
		logger,
	)
	if err != nil {
		logger.Fatal("processor initialization failed", zap.Error(err))
	}
	processor.SetMetrics(metrics)

	scanInterval := time.Duration(cfg.ScanIntervalSec) * time.Second

	dueScanner, err := service.NewDueScanner(jobRepo, publisher, scanInterval, cfg.ScanLimit, logger)
	if err != nil {
		logger.Fatal("due scanner initialization failed", zap.Error(err))
	}

	digestCloser, err := service.NewDigestCloser(jobRepo, publisher, digestLock, scanInterval, cfg.ScanLimit, logger)
	if err != nil {
		logger.Fatal("digest closer initialization failed", zap.Error(err))
	}

	retryScanner, err := service.NewRetryScanner(jobRepo, publisher, scanInterval, cfg.ScanLimit, logger)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return resolver.Start(gctx) })
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error { return dueScanner.Start(gctx) })
	g.Go(func() error { return digestCloser.Start(gctx) })
	g.Go(func() error { return retryScanner.Start(gctx) })
	g.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", cfg.WorkerPort))
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	logger.Info("workflow-engine worker started",
		zap.Int("port", cfg.WorkerPort),
		zap.Int("concurrency", cfg.WorkerConcurrency),
	)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("worker failed", zap.Error(err))
	}

	logger.Info("workflow-engine worker stopped")
}
