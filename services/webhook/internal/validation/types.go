package validation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
)

// WebhookPaymentRequest POST /api/webhooks/payments 요청 본문
type WebhookPaymentRequest struct {
	TxnID         string                 `json:"txn_id" validate:"required,max=255,identifier"`
	OrderID       string                 `json:"order_id" validate:"required,uuid"`
	Status        string                 `json:"status" validate:"required,oneof=pending paid failed refunded"`
	Amount        json.Number            `json:"amount" validate:"required,amount"`
	Timestamp     time.Time              `json:"timestamp" validate:"required"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Source        string                 `json:"source,omitempty" validate:"omitempty,max=50,oneof=stripe paypal square unknown"`
	CorrelationID string                 `json:"correlation_id,omitempty" validate:"omitempty,max=255,identifier"`
}

// Normalize 검증 전 공백/대소문자 정리
func (r *WebhookPaymentRequest) Normalize() {
	r.TxnID = strings.TrimSpace(r.TxnID)
	r.OrderID = strings.ToLower(strings.TrimSpace(r.OrderID))
	r.Status = strings.ToLower(strings.TrimSpace(r.Status))
	r.Source = strings.ToLower(strings.TrimSpace(r.Source))
	r.CorrelationID = strings.TrimSpace(r.CorrelationID)
}

// ToPayload 검증된 요청을 도메인 페이로드로 변환
func (r *WebhookPaymentRequest) ToPayload() (domain.Payload, error) {
	orderID, err := uuid.Parse(r.OrderID)
	if err != nil {
		return domain.Payload{}, errors.Wrap(errors.ErrCodeInvalidPayload, "invalid order_id", err)
	}
	status, err := domain.ParseOrderStatus(r.Status)
	if err != nil {
		return domain.Payload{}, err
	}
	amount, err := decimal.Parse(r.Amount.String())
	if err != nil {
		return domain.Payload{}, errors.Wrap(errors.ErrCodeInvalidPayload, "invalid amount", err)
	}

	source := domain.SourceUnknown
	if r.Source != "" {
		source = domain.ParseSource(r.Source)
	}

	return domain.Payload{
		ExternalTxnID:  r.TxnID,
		OrderID:        orderID,
		ProposedStatus: status,
		Amount:         amount,
		OccurredAt:     r.Timestamp.UTC(),
		Metadata:       r.Metadata,
		Source:         source,
		CorrelationID:  r.CorrelationID,
	}, nil
}

// CreateOrderRequest POST /api/orders 요청 본문
type CreateOrderRequest struct {
	UserID   int64                  `json:"user_id" validate:"required,gt=0"`
	Amount   json.Number            `json:"amount" validate:"required,amount"`
	Metadata map[string]interface{} `json:"metadata,omitempty" validate:"omitempty,max=50"`
}

// Normalize 정리할 필드 없음
func (r *CreateOrderRequest) Normalize() {}

// DecimalAmount 금액을 decimal 로 변환
func (r *CreateOrderRequest) DecimalAmount() (decimal.Decimal, error) {
	amount, err := decimal.Parse(r.Amount.String())
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(errors.ErrCodeInvalidPayload, "invalid amount", err)
	}
	return amount, nil
}
