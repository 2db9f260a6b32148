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
	"projectsync/pkg/db"
	"projectsync/pkg/logger"
	"projectsync/pkg/mq"
	appotel "projectsync/pkg/otel"
	appredis "projectsync/pkg/redis"
	"projectsync/pkg/util"
	"projectsync/project-service/internal/config"
	"projectsync/project-service/internal/fanout"
	"projectsync/project-service/internal/handler"
	"projectsync/project-service/internal/httpserver"
	"projectsync/project-service/internal/mqhandler"
	"projectsync/project-service/internal/relation"
	"projectsync/project-service/internal/repository"
	"projectsync/project-service/internal/service"
)

const serviceName = "project-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting project-service...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("queue", cfg.Fanout.Queue),
		zap.String("index", cfg.Fanout.Index),
		zap.Int("workers", cfg.Fanout.Workers),
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

	projectRepo := repository.NewProjectRepository(dbConn, log)
	if err := projectRepo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to prepare schema", zap.Error(err))
	}

	index, err := relation.New(cfg.Fanout.Index, projectRepo)
	if err != nil {
		log.Fatal("Failed to build relation index", zap.Error(err))
	}

	// Redis
	rdb, err := appredis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Failed to init Redis", zap.Error(err))
	}
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, cfg.Dedup.TTL, log)
	retryCounter := util.NewRetryCounter(rdb, cfg.Dedup.TTL)

	// MQ
	dlqPublisher, err := mq.NewPublisher(cfg.MQ.URL, serviceName)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer dlqPublisher.Close()

	consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.Fanout.Queue, mqcontracts.RoutingKeyTaskCreated,
		mq.ConsumerOptions{Prefetch: cfg.Fanout.Prefetch, Workers: cfg.Fanout.Workers}, log)
	if err != nil {
		log.Fatal("Failed to init MQ consumer", zap.Error(err))
	}
	defer consumer.Close()

	engine := fanout.NewEngine(projectRepo, index, log).
		WithMarker(deduper).
		WithCASAttempts(cfg.Fanout.CASAttempts).
		WithParallelism(cfg.Fanout.Parallelism)
	taskCreated := mqhandler.NewTaskCreatedHandler(engine, dlqPublisher, retryCounter, cfg.Fanout.MaxRetries, log)
	consumer.SetHandler(taskCreated.Handle)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := consumer.StartConsuming(); err != nil {
			log.Error("Consumer stopped with error", zap.Error(err))
			stop()
		}
	}()

	projectService := service.NewProjectService(projectRepo, index, log)

	// HTTP Server
	router := httpserver.NewRouter(httpserver.Deps{
		Projects: handler.NewProjectHandler(projectService, log),
		Guard:    auth.NewGuard(cfg.JWT.Secret),
		Ready: []httpserver.ReadinessCheck{
			{Name: "db", Check: dbConn.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
			{Name: "mq", Check: func(context.Context) error {
				if !consumer.IsConnected() {
					return errors.New("consumer connection closed")
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

	log.Info("project-service is fully initialized and running")

	<-ctx.Done()
	log.Info("Shutting down project-service gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// 先停止消费，等待在途消息 ack/nack
	if stopConsumer(shutdownCtx, consumer.Stop, consumerDone) {
		log.Info("Consumer stopped")
	} else {
		log.Warn("Consumer did not stop before deadline")
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("project-service shutdown complete")
}
