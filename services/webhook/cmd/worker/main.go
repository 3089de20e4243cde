package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/config"
	"github.com/kyungseok/payment-webhook-go/common/logger"
	"github.com/kyungseok/payment-webhook-go/common/messaging"
	"github.com/kyungseok/payment-webhook-go/common/metrics"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/bootstrap"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/handler"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/repository"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/service"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/worker"
)

func main() {
	// Config 로드
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// Logger 초기화
	log, err := logger.NewLogger("webhook-worker", cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL 연결
	db, err := bootstrap.OpenDB(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()
	log.Info("connected to database")

	// 작업 큐 (발행 + 소비)
	queue, err := bootstrap.OpenQueue(ctx, cfg, true, log)
	if err != nil {
		log.Fatal("failed to initialize work queue", zap.Error(err))
	}
	defer queue.Close()

	// Kafka Producer 초기화 (Outbox 발행용)
	publisher, err := messaging.NewKafkaPublisher(cfg.Kafka.Brokers, log)
	if err != nil {
		log.Fatal("failed to create kafka publisher", zap.Error(err))
	}
	defer publisher.Close()
	log.Info("kafka publisher initialized")

	// Repository 초기화
	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewOrderEventRepository(db)
	deliveryRepo := repository.NewWebhookDeliveryRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)
	transactor := repository.NewTransactor(db)

	// Service 초기화
	applier := service.NewApplier(orderRepo, eventRepo, deliveryRepo, outboxRepo, log)
	orchestrator := service.NewOrchestrator(transactor, deliveryRepo, applier, queue.Dispatcher, service.OrchestratorConfig{
		Schedule:           cfg.Webhook.Schedule(),
		AttemptTimeout:     cfg.Webhook.AttemptTimeout,
		RetryOrderNotFound: cfg.Webhook.RetryOrderNotFound,
	}, log)
	jobHandler := handler.NewJobHandler(orchestrator, log)

	var wg sync.WaitGroup

	// 작업 소비 시작
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := queue.Consumer.Run(ctx, jobHandler.Func()); err != nil && ctx.Err() == nil {
			log.Error("job consumer stopped", zap.Error(err))
			cancel()
		}
	}()
	log.Info("job consumer started", zap.String("driver", cfg.Queue.Driver))

	// Outbox Relay 시작
	relay := worker.NewOutboxRelay(outboxRepo, publisher, cfg.Kafka.EventTopic, cfg.Outbox.BatchSize, log, cfg.Outbox.PollInterval)
	wg.Add(1)
	go func() {
		defer wg.Done()
		relay.Start(ctx)
	}()

	// Pending Sweeper 시작
	sweeper := worker.NewPendingSweeper(deliveryRepo, queue.Dispatcher, cfg.Webhook.SweepInterval, cfg.Webhook.SweepAge, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	// 메트릭 서버
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: ":" + cfg.Server.HTTPPort, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info("shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("metrics server forced to shutdown", zap.Error(err))
	}

	cancel()
	wg.Wait()
	log.Info("worker stopped")
}
