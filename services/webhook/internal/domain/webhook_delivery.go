package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
)

// DeliveryStatus 웹훅 처리 상태
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusProcessed DeliveryStatus = "processed"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusIgnored   DeliveryStatus = "ignored"
)

// IsTerminal processed / ignored 는 다시 다른 상태로 바뀌지 않는다
func (s DeliveryStatus) IsTerminal() bool {
	return s == DeliveryStatusProcessed || s == DeliveryStatusIgnored
}

// Source 웹훅 발신 결제사
type Source string

const (
	SourceStripe  Source = "stripe"
	SourcePayPal  Source = "paypal"
	SourceSquare  Source = "square"
	SourceUnknown Source = "unknown"
)

// ParseSource 알 수 없는 값은 unknown 으로 정규화
func ParseSource(s string) Source {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceStripe:
		return SourceStripe
	case SourcePayPal:
		return SourcePayPal
	case SourceSquare:
		return SourceSquare
	}
	return SourceUnknown
}

// 처리 결과 사유
const (
	ReasonOrderNotFound   = "order not found"
	ReasonAlreadyApplied  = "transaction already processed"
	ReasonDuplicateTxn    = "Duplicate transaction detected"
	ReasonRetriesExceeded = "Job failed after %d attempts: %s"
)

// Payload 정규화된 웹훅 페이로드
type Payload struct {
	ExternalTxnID  string                 `json:"txn_id"`
	OrderID        uuid.UUID              `json:"order_id"`
	ProposedStatus OrderStatus            `json:"status"`
	Amount         decimal.Decimal        `json:"amount"`
	OccurredAt     time.Time              `json:"timestamp"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Source         Source                 `json:"source,omitempty"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
}

// WebhookDelivery 수신한 웹훅 1건의 처리 기록
//
// 재시도는 같은 행을 갱신하며 새 행을 만들지 않는다.
type WebhookDelivery struct {
	ID               int64
	OrderID          uuid.UUID
	ExternalTxnID    string
	Payload          Payload
	Status           DeliveryStatus
	Attempts         int
	RetryCount       int
	LastError        *string
	ProcessingTimeMs *int64
	Source           Source
	CorrelationID    *string
	ProcessedAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewWebhookDelivery 신규 pending 처리 기록 생성
func NewWebhookDelivery(p Payload) *WebhookDelivery {
	now := time.Now().UTC()
	if p.Source == "" {
		p.Source = SourceUnknown
	}
	d := &WebhookDelivery{
		OrderID:       p.OrderID,
		ExternalTxnID: p.ExternalTxnID,
		Payload:       p,
		Status:        DeliveryStatusPending,
		Attempts:      1,
		Source:        p.Source,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if p.CorrelationID != "" {
		cid := p.CorrelationID
		d.CorrelationID = &cid
	}
	return d
}

// Outcome 한 번의 처리 시도 결과로 기록할 내용
type Outcome struct {
	Status           DeliveryStatus
	Reason           string
	Attempt          int
	ProcessingTimeMs int64
}
