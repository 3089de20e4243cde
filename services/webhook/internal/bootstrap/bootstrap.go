package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/config"
	"github.com/kyungseok/payment-webhook-go/common/messaging"
)

// OpenDB PostgreSQL 연결 및 풀 설정
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// OpenRedis Redis 연결
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Queue 작업 큐 발행/소비 쌍
type Queue struct {
	Dispatcher messaging.Dispatcher
	Consumer   messaging.JobConsumer
}

// Close 큐 자원 해제
func (q *Queue) Close() {
	if q.Consumer != nil {
		q.Consumer.Close()
	}
	if q.Dispatcher != nil {
		q.Dispatcher.Close()
	}
}

// OpenQueue 설정된 드라이버로 작업 큐 생성 (consume=false 면 발행만)
func OpenQueue(ctx context.Context, cfg *config.Config, consume bool, logger *zap.Logger) (*Queue, error) {
	switch cfg.Queue.Driver {
	case "sqs":
		client, err := messaging.NewSQSClient(ctx, cfg.Queue.SQSRegion)
		if err != nil {
			return nil, err
		}
		queue := messaging.NewSQSQueue(client, cfg.Queue.SQSQueueURL, logger)
		q := &Queue{Dispatcher: queue}
		if consume {
			q.Consumer = queue
		}
		logger.Info("sqs work queue initialized", zap.String("queueUrl", cfg.Queue.SQSQueueURL))
		return q, nil

	case "kafka":
		kcfg := messaging.KafkaQueueConfig{
			Brokers:    cfg.Kafka.Brokers,
			JobTopic:   cfg.Kafka.JobTopic,
			RetryTopic: cfg.Kafka.RetryTopic,
			GroupID:    cfg.Kafka.ConsumerGroup,
		}
		dispatcher, err := messaging.NewKafkaDispatcher(kcfg, logger)
		if err != nil {
			return nil, err
		}
		q := &Queue{Dispatcher: dispatcher}
		if consume {
			consumer, err := messaging.NewKafkaJobConsumer(kcfg, logger)
			if err != nil {
				dispatcher.Close()
				return nil, err
			}
			q.Consumer = consumer
		}
		logger.Info("kafka work queue initialized",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("jobTopic", cfg.Kafka.JobTopic),
			zap.String("retryTopic", cfg.Kafka.RetryTopic))
		return q, nil
	}
	return nil, fmt.Errorf("unknown queue driver: %q", cfg.Queue.Driver)
}
