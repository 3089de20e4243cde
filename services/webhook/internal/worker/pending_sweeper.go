package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/events"
	"github.com/kyungseok/payment-webhook-go/common/messaging"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/repository"
)

// PendingSweeper 큐 발행이 유실된 pending 처리 기록을 재발행
type PendingSweeper struct {
	deliveries repository.WebhookDeliveryRepository
	dispatcher messaging.Dispatcher
	interval   time.Duration
	age        time.Duration
	batchSize  int
	logger     *zap.Logger
	now        func() time.Time
}

// NewPendingSweeper sweeper 생성
//
// age 는 재시도 스케줄의 최대 지연보다 길어야 정상적으로 대기 중인 재시도와 겹치지 않는다.
func NewPendingSweeper(
	deliveries repository.WebhookDeliveryRepository,
	dispatcher messaging.Dispatcher,
	interval, age time.Duration,
	logger *zap.Logger,
) *PendingSweeper {
	return &PendingSweeper{
		deliveries: deliveries,
		dispatcher: dispatcher,
		interval:   interval,
		age:        age,
		batchSize:  100,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start 워커 시작
func (s *PendingSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("pending sweeper started",
		zap.Duration("interval", s.interval),
		zap.Duration("age", s.age))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("pending sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("failed to sweep pending deliveries", zap.Error(err))
			}
		}
	}
}

// SweepOnce 오래된 pending 기록을 한 번 재발행하고 재발행 건수를 반환
func (s *PendingSweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.deliveries.FindStalePending(ctx, now.Add(-s.age), s.batchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, d := range stale {
		attempt := d.Attempts
		if attempt < 1 {
			attempt = 1
		}

		job := events.DeliveryJob{DeliveryID: d.ID, Attempt: attempt, EnqueuedAt: now}
		if err := s.dispatcher.Enqueue(ctx, job, 0); err != nil {
			s.logger.Error("failed to requeue stale delivery",
				zap.Int64("deliveryId", d.ID),
				zap.Error(err))
			continue
		}

		// 다음 주기에 다시 잡히지 않도록 갱신 시각만 변경
		if err := s.deliveries.Touch(ctx, d.ID, now); err != nil {
			s.logger.Warn("failed to touch requeued delivery",
				zap.Int64("deliveryId", d.ID),
				zap.Error(err))
		}

		requeued++
		s.logger.Warn("stale pending delivery requeued",
			zap.Int64("deliveryId", d.ID),
			zap.Int("attempt", attempt),
			zap.Time("lastUpdated", d.UpdatedAt))
	}

	return requeued, nil
}
