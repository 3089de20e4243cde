package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/config"
	"github.com/kyungseok/payment-webhook-go/common/idempotency"
	"github.com/kyungseok/payment-webhook-go/common/logger"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/bootstrap"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/handler"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/middleware"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/repository"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/service"
)

func main() {
	// Config 로드
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// Logger 초기화
	log, err := logger.NewLogger("webhook-api", cfg.Logging.Development, cfg.Logging.Level)
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

	// Redis 연결
	redisClient, err := bootstrap.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("connected to redis")

	// 작업 큐 (발행 전용)
	queue, err := bootstrap.OpenQueue(ctx, cfg, false, log)
	if err != nil {
		log.Fatal("failed to initialize work queue", zap.Error(err))
	}
	defer queue.Close()

	// Repository 초기화
	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewOrderEventRepository(db)
	deliveryRepo := repository.NewWebhookDeliveryRepository(db)

	// Service 초기화
	dedup := idempotency.NewRedisStore(redisClient, "webhook:dedup")
	gate := service.NewIdempotencyGate(dedup, deliveryRepo, queue.Dispatcher, cfg.Webhook.DedupTTL, log)
	queries := service.NewOrderQueryService(orderRepo, eventRepo, deliveryRepo, log)

	// HTTP Server 시작
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	limiter := middleware.NewRateLimiter(redisClient, "webhook:ratelimit", cfg.Webhook.RateLimit, cfg.Webhook.RateWindow, log)
	httpHandler := handler.NewHTTPHandler(gate, queries, log)
	httpHandler.RegisterRoutes(router, limiter.Handler())

	server := &http.Server{
		Addr:        ":" + cfg.Server.HTTPPort,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		log.Info("http server starting", zap.String("port", cfg.Server.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	cancel()
	time.Sleep(100 * time.Millisecond)
	log.Info("server stopped")
}
