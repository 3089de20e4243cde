package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/common/events"
	"github.com/kyungseok/payment-webhook-go/common/idempotency"
	"github.com/kyungseok/payment-webhook-go/common/messaging"
	"github.com/kyungseok/payment-webhook-go/common/metrics"
	"github.com/kyungseok/payment-webhook-go/common/retry"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/repository"
)

// Decision 인입 판정
type Decision string

const (
	DecisionNew       Decision = "new"
	DecisionDuplicate Decision = "duplicate"
)

// AcceptResult 인입 결과
type AcceptResult struct {
	Decision Decision
	Delivery *domain.WebhookDelivery
	// Queued false 면 큐 발행에 실패해 sweeper 가 재발행한다
	Queued bool
}

// IdempotencyGate 웹훅 인입 멱등성 게이트
//
// 캐시는 지연 최적화일 뿐이고, 최종 보장은 orders.external_txn_id 유니크 제약과
// 처리 시점의 재확인(Applier)이 담당한다. 캐시 장애 시에는 통과시킨다.
type IdempotencyGate struct {
	cache        idempotency.Store
	deliveries   repository.WebhookDeliveryRepository
	dispatcher   messaging.Dispatcher
	ttl          time.Duration
	enqueueRetry retry.Config
	logger       *zap.Logger
}

// NewIdempotencyGate 멱등성 게이트 생성
func NewIdempotencyGate(
	cache idempotency.Store,
	deliveries repository.WebhookDeliveryRepository,
	dispatcher messaging.Dispatcher,
	ttl time.Duration,
	logger *zap.Logger,
) *IdempotencyGate {
	return &IdempotencyGate{
		cache:        cache,
		deliveries:   deliveries,
		dispatcher:   dispatcher,
		ttl:          ttl,
		enqueueRetry: retry.DefaultConfig(),
		logger:       logger,
	}
}

// Accept 웹훅 1건 인입 (NEW 면 pending 기록 생성 후 큐 발행)
func (g *IdempotencyGate) Accept(ctx context.Context, p domain.Payload) (*AcceptResult, error) {
	if p.Source == "" {
		p.Source = domain.SourceUnknown
	}
	logger := g.logger.With(
		zap.String("txnId", p.ExternalTxnID),
		zap.String("orderId", p.OrderID.String()),
		zap.String("source", string(p.Source)))

	// Fast path: 캐시 확인
	exists, err := g.cache.Exists(ctx, p.ExternalTxnID)
	if err != nil {
		logger.Warn("dedup cache unavailable, continuing without it", zap.Error(err))
	} else if exists {
		return g.duplicate(p, logger), nil
	}

	// 캐시 키 선점 (레코드 생성보다 먼저)
	reserved := false
	if err == nil {
		reserved, err = g.cache.Reserve(ctx, p.ExternalTxnID, g.ttl)
		if err != nil {
			logger.Warn("failed to reserve dedup key, continuing without it", zap.Error(err))
		} else if !reserved {
			return g.duplicate(p, logger), nil
		}
	}

	delivery := domain.NewWebhookDelivery(p)
	if err := g.deliveries.Create(ctx, delivery); err != nil {
		if reserved {
			if releaseErr := g.cache.Release(ctx, p.ExternalTxnID); releaseErr != nil {
				logger.Warn("failed to release dedup key", zap.Error(releaseErr))
			}
		}
		return nil, err
	}

	result := &AcceptResult{Decision: DecisionNew, Delivery: delivery}
	metrics.DeliveriesReceived.WithLabelValues("accepted", string(p.Source)).Inc()

	job := events.DeliveryJob{DeliveryID: delivery.ID, Attempt: 1, EnqueuedAt: time.Now().UTC()}
	err = retry.Do(ctx, g.enqueueRetry, logger, func() error {
		return g.dispatcher.Enqueue(ctx, job, 0)
	})
	if err != nil {
		// 기록은 pending 으로 남아 있으므로 sweeper 가 재발행한다
		logger.Error("failed to enqueue delivery, left for sweeper",
			zap.Int64("deliveryId", delivery.ID),
			zap.Error(err))
		return result, nil
	}

	result.Queued = true
	logger.Info("webhook accepted", zap.Int64("deliveryId", delivery.ID))
	return result, nil
}

func (g *IdempotencyGate) duplicate(p domain.Payload, logger *zap.Logger) *AcceptResult {
	metrics.DeliveriesReceived.WithLabelValues("duplicate", string(p.Source)).Inc()
	logger.Info("duplicate webhook rejected by dedup cache")
	return &AcceptResult{Decision: DecisionDuplicate}
}

// Replay failed 기록을 pending 으로 되돌리고 다시 큐에 넣는다
func (g *IdempotencyGate) Replay(ctx context.Context, deliveryID int64) (*domain.WebhookDelivery, error) {
	delivery, err := g.deliveries.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery.Status != domain.DeliveryStatusFailed {
		return nil, errors.New(errors.ErrCodeInvalidState,
			fmt.Sprintf("only failed deliveries can be replayed (status %s)", delivery.Status))
	}

	ok, err := g.deliveries.ResetForReplay(ctx, deliveryID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.ErrCodeInvalidState, "delivery was modified concurrently")
	}

	job := events.DeliveryJob{DeliveryID: deliveryID, Attempt: 1, EnqueuedAt: time.Now().UTC()}
	if err := g.dispatcher.Enqueue(ctx, job, 0); err != nil {
		g.logger.Error("failed to enqueue replayed delivery, left for sweeper",
			zap.Int64("deliveryId", deliveryID),
			zap.Error(err))
	}

	delivery.Status = domain.DeliveryStatusPending
	delivery.Attempts = 1
	delivery.LastError = nil

	g.logger.Info("delivery replayed", zap.Int64("deliveryId", deliveryID))
	return delivery, nil
}
