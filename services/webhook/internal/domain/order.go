package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"

	"github.com/kyungseok/payment-webhook-go/common/errors"
)

// OrderStatus 주문 상태
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusRefunded OrderStatus = "refunded"
)

// OrderStatuses 모든 주문 상태
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusFailed,
	OrderStatusRefunded,
}

// transitions 허용된 상태 전이 테이블
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:  {OrderStatusPaid, OrderStatusFailed},
	OrderStatusPaid:     {OrderStatusRefunded},
	OrderStatusFailed:   {OrderStatusPending},
	OrderStatusRefunded: {},
}

// ParseOrderStatus 문자열을 주문 상태로 변환
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.Valid() {
		return "", errors.New(errors.ErrCodeInvalidPayload, fmt.Sprintf("unknown order status %q", s))
	}
	return status, nil
}

// Valid 정의된 상태인지 확인
func (s OrderStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal 더 이상 전이가 불가능한 상태인지 확인
func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

func (s OrderStatus) String() string {
	return string(s)
}

// AllowedTransitions from 상태에서 허용되는 다음 상태 목록
func AllowedTransitions(from OrderStatus) []OrderStatus {
	allowed := transitions[from]
	out := make([]OrderStatus, len(allowed))
	copy(out, allowed)
	return out
}

// CanTransition 상태 전이 가능 여부 (I/O 없는 순수 함수)
//
// 같은 상태로의 전이는 항상 거부된다.
func CanTransition(from, to OrderStatus) bool {
	if from == to {
		return false
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition 허용되지 않은 전이면 INVALID_TRANSITION 에러 반환
func ValidateTransition(from, to OrderStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return errors.New(errors.ErrCodeInvalidTransition, InvalidTransitionReason(from, to))
}

// InvalidTransitionReason 거부된 전이의 사유 문자열
func InvalidTransitionReason(from, to OrderStatus) string {
	return fmt.Sprintf("invalid transition %s->%s", from, to)
}

// Order 주문 도메인 모델
type Order struct {
	ID            uuid.UUID
	UserID        int64
	Amount        decimal.Decimal
	Status        OrderStatus
	ExternalTxnID *string
	Metadata      map[string]interface{}
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder pending 상태의 신규 주문 생성
func NewOrder(userID int64, amount decimal.Decimal, metadata map[string]interface{}) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Status:    OrderStatusPending,
		Metadata:  metadata,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CanTransitionTo 상태 전이 가능 여부 확인
func (o *Order) CanTransitionTo(newStatus OrderStatus) bool {
	return CanTransition(o.Status, newStatus)
}

// HasTxn 이미 해당 외부 거래 ID 가 반영된 주문인지 확인
func (o *Order) HasTxn(txnID string) bool {
	return o.ExternalTxnID != nil && *o.ExternalTxnID == txnID
}

// Mutation CAS 업데이트로 반영될 변경 내용
type Mutation struct {
	OrderID         uuid.UUID
	ExpectedVersion int64
	FromStatus      OrderStatus
	ToStatus        OrderStatus
	ExternalTxnID   string
	Amount          decimal.Decimal
	Metadata        map[string]interface{}
}

// PlanTransition 현재 주문 스냅샷을 기준으로 Mutation 계산 (주문 자체는 변경하지 않음)
func (o *Order) PlanTransition(to OrderStatus, txnID string, amount decimal.Decimal, metadata map[string]interface{}) (*Mutation, error) {
	if err := ValidateTransition(o.Status, to); err != nil {
		return nil, err
	}
	return &Mutation{
		OrderID:         o.ID,
		ExpectedVersion: o.Version,
		FromStatus:      o.Status,
		ToStatus:        to,
		ExternalTxnID:   txnID,
		Amount:          amount,
		Metadata:        MergeMetadata(o.Metadata, metadata),
	}, nil
}

// Apply 커밋된 Mutation 을 메모리 상의 주문에 반영
func (o *Order) Apply(m *Mutation, updatedAt time.Time) {
	txn := m.ExternalTxnID
	o.Status = m.ToStatus
	o.ExternalTxnID = &txn
	o.Amount = m.Amount
	o.Metadata = m.Metadata
	o.Version = m.ExpectedVersion + 1
	o.UpdatedAt = updatedAt
}

// MergeMetadata base 위에 overlay 키를 덮어쓴 새 맵 반환
func MergeMetadata(base, overlay map[string]interface{}) map[string]interface{} {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	merged := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}
