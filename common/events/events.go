package events

import "time"

// EventType 이벤트 타입 정의
type EventType string

const (
	EventOrderStatusChanged EventType = "order.status_changed.v1"
)

// BaseEvent 모든 이벤트의 기본 구조
type BaseEvent struct {
	EventID       string    `json:"eventId"`
	EventType     EventType `json:"eventType"`
	SchemaVersion int       `json:"schemaVersion"`
	OccurredAt    time.Time `json:"occurredAt"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// OrderStatusChangedEvent 주문 상태 변경 이벤트 (Outbox 를 통해 발행)
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID       string `json:"orderId"`
	OrderEventID  int64  `json:"orderEventId"`
	FromStatus    string `json:"fromStatus"`
	ToStatus      string `json:"toStatus"`
	Reason        string `json:"reason"`
	ExternalTxnID string `json:"externalTxnId"`
	Amount        string `json:"amount"`
	DeliveryID    int64  `json:"deliveryId"`
}

// DeliveryJob 작업 큐로 전달되는 웹훅 처리 단위
//
// 페이로드는 싣지 않고 WebhookDelivery ID 만 참조한다.
type DeliveryJob struct {
	DeliveryID int64     `json:"deliveryId"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}
