package worker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/messaging"
	"github.com/kyungseok/payment-webhook-go/common/metrics"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/repository"
)

// OutboxRelay Outbox 패턴 워커
type OutboxRelay struct {
	outboxRepo repository.OutboxRepository
	publisher  messaging.Publisher
	topic      string
	batchSize  int
	logger     *zap.Logger
	interval   time.Duration
}

// NewOutboxRelay Outbox 워커 생성
//
// topic 이 비어 있으면 이벤트 타입을 토픽으로 사용한다.
func NewOutboxRelay(
	outboxRepo repository.OutboxRepository,
	publisher messaging.Publisher,
	topic string,
	batchSize int,
	logger *zap.Logger,
	interval time.Duration,
) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{
		outboxRepo: outboxRepo,
		publisher:  publisher,
		topic:      topic,
		batchSize:  batchSize,
		logger:     logger,
		interval:   interval,
	}
}

// Start 워커 시작
func (w *OutboxRelay) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("outbox relay started", zap.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := w.RelayOnce(ctx); err != nil {
				w.logger.Error("failed to process outbox events", zap.Error(err))
			}
		}
	}
}

// RelayOnce pending 이벤트를 한 번 발행하고 전송 완료 건수를 반환
func (w *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	events, err := w.outboxRepo.FindPending(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}

	if len(events) == 0 {
		return 0, nil
	}

	w.logger.Debug("processing outbox events", zap.Int("count", len(events)))

	sent := 0
	for _, event := range events {
		if err := w.publishEvent(ctx, event); err != nil {
			metrics.OutboxPublished.WithLabelValues("failed").Inc()
			w.logger.Error("failed to publish event",
				zap.Int64("eventId", event.ID),
				zap.String("eventType", event.EventType),
				zap.Error(err))
			continue
		}

		// 전송 완료 표시 (실패하면 다음 주기에 중복 발행될 수 있음)
		if err := w.outboxRepo.MarkSent(ctx, event.ID); err != nil {
			w.logger.Error("failed to mark event as sent",
				zap.Int64("eventId", event.ID),
				zap.Error(err))
			continue
		}
		metrics.OutboxPublished.WithLabelValues("sent").Inc()
		sent++
	}

	return sent, nil
}

func (w *OutboxRelay) publishEvent(ctx context.Context, event *repository.OutboxEvent) error {
	topic := w.topic
	if topic == "" {
		topic = event.EventType
	}

	// 주문 ID 를 키로 사용 (같은 주문의 이벤트 순서 보장)
	return w.publisher.Publish(ctx, topic, event.AggregateID, json.RawMessage(event.Payload))
}
