package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/common/events"
	"github.com/kyungseok/payment-webhook-go/common/metrics"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/repository"
)

// ApplyKind 단일 변경 시도의 결과 종류
type ApplyKind string

const (
	ApplyApplied           ApplyKind = "applied"
	ApplyAlreadyApplied    ApplyKind = "already_applied"
	ApplyInvalidTransition ApplyKind = "invalid_transition"
	ApplyOrderNotFound     ApplyKind = "order_not_found"
)

// ApplyResult 변경 시도 결과
//
// 버전 충돌은 결과가 아니라 OPTIMISTIC_CONFLICT 에러로 반환되어 트랜잭션을 롤백시킨다.
type ApplyResult struct {
	Kind       ApplyKind
	FromStatus domain.OrderStatus
	ToStatus   domain.OrderStatus
	Reason     string
	Order      *domain.Order
	Event      *domain.OrderEvent
}

// Applier Optimistic Lock 기반 주문 변경기
type Applier struct {
	orders     repository.OrderRepository
	events     repository.OrderEventRepository
	deliveries repository.WebhookDeliveryRepository
	outbox     repository.OutboxRepository
	logger     *zap.Logger
	now        func() time.Time
}

// NewApplier 주문 변경기 생성
func NewApplier(
	orders repository.OrderRepository,
	events repository.OrderEventRepository,
	deliveries repository.WebhookDeliveryRepository,
	outbox repository.OutboxRepository,
	logger *zap.Logger,
) *Applier {
	return &Applier{
		orders:     orders,
		events:     events,
		deliveries: deliveries,
		outbox:     outbox,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Apply 웹훅 1건을 주문에 한 번 반영 시도
//
// 호출자는 트랜잭션 ctx 를 넘겨야 하며, 에러가 반환되면 해당 트랜잭션을 롤백해야 한다.
// 주문 행에는 잠금을 걸지 않고 version 비교로만 동시 변경을 판별한다.
func (a *Applier) Apply(ctx context.Context, delivery *domain.WebhookDelivery) (*ApplyResult, error) {
	p := delivery.Payload

	// 1. 잠금 없이 현재 상태와 version 조회
	order, err := a.orders.FindByID(ctx, delivery.OrderID)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeOrderNotFound {
			return &ApplyResult{Kind: ApplyOrderNotFound, ToStatus: p.ProposedStatus, Reason: domain.ReasonOrderNotFound}, nil
		}
		return nil, err
	}

	result := &ApplyResult{FromStatus: order.Status, ToStatus: p.ProposedStatus, Order: order}

	// 2. 이미 반영된 거래인지 확인 (캐시 만료 후 재전송 대비)
	applied, err := a.alreadyApplied(ctx, order, delivery)
	if err != nil {
		return nil, err
	}
	if applied {
		result.Kind = ApplyAlreadyApplied
		result.Reason = domain.ReasonAlreadyApplied
		return result, nil
	}

	// 3. 상태 전이 검증
	mutation, err := order.PlanTransition(p.ProposedStatus, p.ExternalTxnID, p.Amount, p.Metadata)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeInvalidTransition {
			result.Kind = ApplyInvalidTransition
			result.Reason = domain.InvalidTransitionReason(order.Status, p.ProposedStatus)
			return result, nil
		}
		return nil, err
	}

	// 4. version 조건부 업데이트
	now := a.now()
	ok, err := a.orders.UpdateWithVersion(ctx, mutation, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.OptimisticConflicts.Inc()
		return nil, errors.New(errors.ErrCodeOptimisticConflict,
			fmt.Sprintf("order %s was modified concurrently (expected version %d)", order.ID, mutation.ExpectedVersion))
	}

	// 5. 감사 이벤트 + Outbox (같은 트랜잭션)
	event := domain.NewWebhookOrderEvent(mutation, delivery, now)
	if err := a.events.Insert(ctx, event); err != nil {
		return nil, err
	}
	if err := a.publishStatusChanged(ctx, event, delivery); err != nil {
		return nil, err
	}

	order.Apply(mutation, now)

	result.Kind = ApplyApplied
	result.Event = event

	a.logger.Debug("order transition applied",
		zap.String("orderId", order.ID.String()),
		zap.String("from", string(mutation.FromStatus)),
		zap.String("to", string(mutation.ToStatus)),
		zap.Int64("version", order.Version))

	return result, nil
}

func (a *Applier) alreadyApplied(ctx context.Context, order *domain.Order, delivery *domain.WebhookDelivery) (bool, error) {
	txnID := delivery.ExternalTxnID
	if order.HasTxn(txnID) {
		return true, nil
	}

	exists, err := a.orders.ExistsByExternalTxnID(ctx, txnID)
	if err != nil || exists {
		return exists, err
	}

	return a.deliveries.ExistsProcessedByTxn(ctx, txnID, delivery.ID)
}

func (a *Applier) publishStatusChanged(ctx context.Context, event *domain.OrderEvent, delivery *domain.WebhookDelivery) error {
	integrationEvent := events.OrderStatusChangedEvent{
		BaseEvent: events.BaseEvent{
			EventID:       uuid.NewString(),
			EventType:     events.EventOrderStatusChanged,
			SchemaVersion: 1,
			OccurredAt:    event.CreatedAt,
			CorrelationID: delivery.Payload.CorrelationID,
		},
		OrderID:       event.OrderID.String(),
		OrderEventID:  event.ID,
		FromStatus:    string(event.FromStatus),
		ToStatus:      string(event.ToStatus),
		Reason:        string(event.Reason),
		ExternalTxnID: delivery.ExternalTxnID,
		Amount:        event.Metadata.Amount,
		DeliveryID:    delivery.ID,
	}

	payload, err := json.Marshal(integrationEvent)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal status changed event", err)
	}

	return a.outbox.Insert(ctx, &repository.OutboxEvent{
		AggregateType: "order",
		AggregateID:   event.OrderID.String(),
		EventType:     string(events.EventOrderStatusChanged),
		Payload:       payload,
		Status:        repository.OutboxStatusPending,
		CreatedAt:     event.CreatedAt,
	})
}
