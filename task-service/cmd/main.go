package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "projectsync/contracts/mq"
	"projectsync/pkg/auth"
	pkgconfig "projectsync/pkg/config"
	"projectsync/pkg/circuitbreaker"
	"projectsync/pkg/db"
	"projectsync/pkg/logger"
	"projectsync/pkg/mq"
	appotel "projectsync/pkg/otel"
	"projectsync/pkg/outbox"
	"projectsync/task-service/internal/config"
	"projectsync/task-service/internal/handler"
	"projectsync/task-service/internal/httpserver"
	"projectsync/task-service/internal/publisher"
	"projectsync/task-service/internal/repository"
	"projectsync/task-service/internal/service"
)

const serviceName = "task-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting task-service...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("publish_mode", cfg.Publish.Mode),
		zap.Bool("auth_enabled", cfg.JWT.Secret != ""),
	)

	shutdownTracing, err := appotel.Init(appotel.Config{
		ServiceName: serviceName,
		Environment: pkgconfig.GetConfigEnv(),
		Endpoint:    cfg.Telemetry.Endpoint,
		Enabled:     cfg.Telemetry.Enabled,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	dbConn, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	taskRepo := repository.NewTaskRepository(dbConn, log)
	if err := taskRepo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to prepare schema", zap.Error(err))
	}

	// MQ：先声明 task-queue，保证消费者上线前发布的事件不会被交换机丢弃
	mqPublisher, err := mq.NewPublisher(cfg.MQ.URL, serviceName,
		mq.Binding{Queue: mqcontracts.QueueTaskCreated, RoutingKey: mqcontracts.RoutingKeyTaskCreated})
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer mqPublisher.Close()

	breakerCfg := cfg.Publish.Breaker
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		log.Warn("Publish circuit breaker changed state",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	taskPublisher := publisher.NewTaskPublisher(mqPublisher, circuitbreaker.NewCircuitBreaker(breakerCfg), log)

	var (
		outboxWriter  service.OutboxWriter
		outboxHandler *handler.OutboxHandler
	)
	if cfg.Publish.Mode == config.PublishModeOutbox {
		outboxRepo := outbox.NewRepository(dbConn)
		if err := outboxRepo.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to prepare outbox schema", zap.Error(err))
		}
		outboxWriter = service.NewTaskOutbox(outboxRepo)

		dispatcher := outbox.NewDispatcher(outboxRepo, mqPublisher, log).
			WithInterval(cfg.Outbox.Interval).
			WithBatchSize(cfg.Outbox.BatchSize).
			WithMaxRetries(cfg.Outbox.MaxRetries)
		go dispatcher.Start(ctx)

		replay := outbox.NewReplayService(outboxRepo, mqPublisher, log, cfg.Outbox.MaxRetries)
		outboxHandler = handler.NewOutboxHandler(replay, log)
	}

	taskService := service.NewTaskService(taskRepo, taskPublisher, outboxWriter, log)

	// HTTP Server
	router := httpserver.NewRouter(httpserver.Deps{
		Tasks:  handler.NewTaskHandler(taskService, log),
		Outbox: outboxHandler,
		Guard:  auth.NewGuard(cfg.JWT.Secret),
		Ready: []httpserver.ReadinessCheck{
			{Name: "db", Check: dbConn.Ping},
			{Name: "mq", Check: func(context.Context) error {
				if !mqPublisher.IsConnected() {
					return errors.New("publisher connection closed")
				}
				return nil
			}},
		},
		Logger: log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("task-service is fully initialized and running")

	// 优雅退出处理
	<-ctx.Done()
	log.Info("Shutting down task-service gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("task-service shutdown complete")
}
