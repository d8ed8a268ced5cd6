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
	"github.com/kursadbilgin/workflow-engine/internal/queue"
	"github.com/kursadbilgin/workflow-engine/internal/repository"
	"github.com/kursadbilgin/workflow-engine/internal/service"
	"github.com/kursadbilgin/workflow-engine/internal/transport"
	"go.uber.org/zap"
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

	metrics := observability.NewMetrics()

	triggerService, err := service.NewTriggerService(
		repository.NewGormTemplateRepo(db),
		repository.NewGormTriggerRepo(db),
		publisher,
		logger,
	)
	if err != nil {
		logger.Fatal("trigger service initialization failed", zap.Error(err))
	}
	triggerService.SetMetrics(metrics)

	messageService, err := service.NewMessageService(
		repository.NewGormMessageRepo(db),
		repository.NewGormJobRepo(db),
		logger,
	)
	if err != nil {
		logger.Fatal("message service initialization failed", zap.Error(err))
	}
	messageService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterTriggerRoutes(app, triggerService); err != nil {
		logger.Fatal("trigger routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterMessageRoutes(app, messageService); err != nil {
		logger.Fatal("message routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	}()

	logger.Info("workflow-engine api started", zap.Int("port", cfg.APIPort))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Fatal("api server failed", zap.Error(err))
		}
	}

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	logger.Info("workflow-engine api stopped")
}
