package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
)

// OrderEventRepository 주문 감사 이벤트 레포지토리 인터페이스 (append-only)
type OrderEventRepository interface {
	Insert(ctx context.Context, event *domain.OrderEvent) error
	// ListByOrder 생성 순서대로 조회
	ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*domain.OrderEvent, error)
	CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error)
}

type orderEventRepository struct {
	db *sql.DB
}

// NewOrderEventRepository 주문 감사 이벤트 레포지토리 생성
func NewOrderEventRepository(db *sql.DB) OrderEventRepository {
	return &orderEventRepository{db: db}
}

// Insert 감사 이벤트 추가
func (r *orderEventRepository) Insert(ctx context.Context, event *domain.OrderEvent) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal event metadata", err)
	}

	query := `
		INSERT INTO order_events (order_id, from_status, to_status, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	err = conn(ctx, r.db).QueryRowContext(
		ctx,
		query,
		event.OrderID,
		event.FromStatus,
		event.ToStatus,
		event.Reason,
		string(metadata),
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		return classify(err, "failed to insert order event")
	}

	return nil
}

// ListByOrder 주문의 감사 이벤트 목록
func (r *orderEventRepository) ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*domain.OrderEvent, error) {
	query := `
		SELECT id, order_id, from_status, to_status, reason, metadata, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, orderID, limit, offset)
	if err != nil {
		return nil, classify(err, "failed to list order events")
	}
	defer rows.Close()

	var events []*domain.OrderEvent
	for rows.Next() {
		event := &domain.OrderEvent{}
		var metadata []byte
		if err := rows.Scan(
			&event.ID,
			&event.OrderID,
			&event.FromStatus,
			&event.ToStatus,
			&event.Reason,
			&metadata,
			&event.CreatedAt,
		); err != nil {
			return nil, classify(err, "failed to scan order event")
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, errors.Wrap(errors.ErrCodeSerializationError,
					fmt.Sprintf("invalid metadata on order event %d", event.ID), err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to iterate order events")
	}

	return events, nil
}

// CountByOrder 주문의 감사 이벤트 수
func (r *orderEventRepository) CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	var count int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_events WHERE order_id = $1`, orderID).Scan(&count)
	if err != nil {
		return 0, classify(err, "failed to count order events")
	}
	return count, nil
}
