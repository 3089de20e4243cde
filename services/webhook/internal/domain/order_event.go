package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventReason 주문 상태 전이 원인
type EventReason string

const (
	ReasonWebhookPayment EventReason = "webhook_payment"
	ReasonWebhookRefund  EventReason = "webhook_refund"
	ReasonManualUpdate   EventReason = "manual_update"
	ReasonSystemRetry    EventReason = "system_retry"
	ReasonAdminAction    EventReason = "admin_action"
)

// Valid 정의된 사유인지 확인
func (r EventReason) Valid() bool {
	switch r {
	case ReasonWebhookPayment, ReasonWebhookRefund, ReasonManualUpdate, ReasonSystemRetry, ReasonAdminAction:
		return true
	}
	return false
}

// WebhookReason 웹훅으로 인한 전이의 사유 (환불은 webhook_refund)
func WebhookReason(to OrderStatus) EventReason {
	if to == OrderStatusRefunded {
		return ReasonWebhookRefund
	}
	return ReasonWebhookPayment
}

// EventMetadata 전이 당시의 웹훅 정보 스냅샷
type EventMetadata struct {
	WebhookLogID  int64     `json:"webhook_log_id"`
	TxnID         string    `json:"txn_id"`
	Timestamp     time.Time `json:"timestamp"`
	Amount        string    `json:"amount"`
	WebhookSource Source    `json:"webhook_source"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// OrderEvent 주문 상태 전이 감사 로그 (불변)
type OrderEvent struct {
	ID         int64
	OrderID    uuid.UUID
	FromStatus OrderStatus
	ToStatus   OrderStatus
	Reason     EventReason
	Metadata   EventMetadata
	CreatedAt  time.Time
}

// NewWebhookOrderEvent 웹훅 처리로 생긴 전이에 대한 감사 이벤트 생성
func NewWebhookOrderEvent(m *Mutation, delivery *WebhookDelivery, at time.Time) *OrderEvent {
	return &OrderEvent{
		OrderID:    m.OrderID,
		FromStatus: m.FromStatus,
		ToStatus:   m.ToStatus,
		Reason:     WebhookReason(m.ToStatus),
		Metadata: EventMetadata{
			WebhookLogID:  delivery.ID,
			TxnID:         delivery.ExternalTxnID,
			Timestamp:     delivery.Payload.OccurredAt,
			Amount:        m.Amount.String(),
			WebhookSource: delivery.Source,
			CorrelationID: delivery.Payload.CorrelationID,
		},
		CreatedAt: at,
	}
}
