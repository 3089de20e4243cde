package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
)

// OrderRepository 주문 레포지토리 인터페이스
type OrderRepository interface {
	Create(ctx context.Context, order *domain.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ExistsByExternalTxnID(ctx context.Context, txnID string) (bool, error)
	// UpdateWithVersion version 이 기대값과 같을 때만 반영 (false 면 충돌)
	UpdateWithVersion(ctx context.Context, m *domain.Mutation, updatedAt time.Time) (bool, error)
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository 주문 레포지토리 생성
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create 주문 생성
func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	metadata, err := marshalJSON(order.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (id, user_id, amount, status, external_txn_id, metadata, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = conn(ctx, r.db).ExecContext(
		ctx,
		query,
		order.ID,
		order.UserID,
		order.Amount.String(),
		order.Status,
		nullString(order.ExternalTxnID),
		metadata,
		order.Version,
		order.CreatedAt,
		order.UpdatedAt,
	)
	if err != nil {
		return classify(err, "failed to create order")
	}

	return nil
}

// FindByID ID로 주문 조회 (잠금 없이 읽음)
func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	query := `
		SELECT id, user_id, amount, status, external_txn_id, metadata, version, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var (
		order    domain.Order
		amount   string
		txnID    sql.NullString
		metadata []byte
	)
	err := conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&amount,
		&order.Status,
		&txnID,
		&metadata,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, errors.New(errors.ErrCodeOrderNotFound, fmt.Sprintf("order not found: %s", id))
	}
	if err != nil {
		return nil, classify(err, "failed to find order")
	}

	if order.Amount, err = decimal.Parse(amount); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "invalid order amount", err)
	}
	if txnID.Valid {
		order.ExternalTxnID = &txnID.String
	}
	if order.Metadata, err = unmarshalMap(metadata); err != nil {
		return nil, err
	}

	return &order, nil
}

// ExistsByExternalTxnID 외부 거래 ID 를 가진 주문 존재 여부
func (r *orderRepository) ExistsByExternalTxnID(ctx context.Context, txnID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM orders WHERE external_txn_id = $1)`

	var exists bool
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, txnID).Scan(&exists); err != nil {
		return false, classify(err, "failed to check external transaction")
	}
	return exists, nil
}

// UpdateWithVersion Optimistic Lock을 사용한 주문 갱신
func (r *orderRepository) UpdateWithVersion(ctx context.Context, m *domain.Mutation, updatedAt time.Time) (bool, error) {
	metadata, err := marshalJSON(m.Metadata)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE orders
		SET status = $1, external_txn_id = $2, amount = $3, metadata = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7
	`

	result, err := conn(ctx, r.db).ExecContext(
		ctx,
		query,
		m.ToStatus,
		m.ExternalTxnID,
		m.Amount.String(),
		metadata,
		updatedAt,
		m.OrderID,
		m.ExpectedVersion,
	)
	if err != nil {
		return false, classify(err, "failed to update order")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, classify(err, "failed to get rows affected")
	}

	return rowsAffected > 0, nil
}

// marshalJSON JSONB 컬럼 인자 (nil 맵은 NULL)
func marshalJSON(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]interface{}); ok && m == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal json column", err)
	}
	return string(data), nil
}

func unmarshalMap(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError, "failed to unmarshal json column", err)
	}
	return m, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
