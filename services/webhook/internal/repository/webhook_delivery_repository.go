package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
)

// WebhookDeliveryRepository 웹훅 처리 기록 레포지토리 인터페이스
//
// processed / ignored 로 확정된 행은 어떤 메서드로도 다시 바뀌지 않는다.
type WebhookDeliveryRepository interface {
	Create(ctx context.Context, delivery *domain.WebhookDelivery) error
	FindByID(ctx context.Context, id int64) (*domain.WebhookDelivery, error)
	// ExistsProcessedByTxn 같은 거래 ID 로 이미 processed 된 다른 기록이 있는지
	ExistsProcessedByTxn(ctx context.Context, txnID string, excludeID int64) (bool, error)
	// BeginAttempt pending 기록의 시도 횟수 갱신
	BeginAttempt(ctx context.Context, id int64, attempt int, at time.Time) (bool, error)
	// MarkOutcome 최종 결과 기록 (이미 확정된 행이면 false)
	MarkOutcome(ctx context.Context, id int64, outcome domain.Outcome, at time.Time) (bool, error)
	// RecordRetry 재시도 예정 기록 (pending 유지)
	RecordRetry(ctx context.Context, id int64, attempt int, lastError string, processingTimeMs int64, at time.Time) (bool, error)
	// ResetForReplay failed 기록을 pending 으로 되돌림
	ResetForReplay(ctx context.Context, id int64, at time.Time) (bool, error)
	// FindStalePending before 이후로 갱신되지 않은 pending 기록
	FindStalePending(ctx context.Context, before time.Time, limit int) ([]*domain.WebhookDelivery, error)
	Touch(ctx context.Context, id int64, at time.Time) error
}

type webhookDeliveryRepository struct {
	db *sql.DB
}

// NewWebhookDeliveryRepository 웹훅 처리 기록 레포지토리 생성
func NewWebhookDeliveryRepository(db *sql.DB) WebhookDeliveryRepository {
	return &webhookDeliveryRepository{db: db}
}

const deliveryColumns = `id, order_id, external_txn_id, payload, status, attempts, retry_count,
		last_error, processing_time_ms, source, correlation_id, processed_at, created_at, updated_at`

// Create 처리 기록 생성
func (r *webhookDeliveryRepository) Create(ctx context.Context, delivery *domain.WebhookDelivery) error {
	payload, err := json.Marshal(delivery.Payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSerializationError, "failed to marshal webhook payload", err)
	}

	query := `
		INSERT INTO webhook_deliveries
			(order_id, external_txn_id, payload, status, attempts, retry_count, source, correlation_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err = conn(ctx, r.db).QueryRowContext(
		ctx,
		query,
		delivery.OrderID,
		delivery.ExternalTxnID,
		string(payload),
		delivery.Status,
		delivery.Attempts,
		delivery.RetryCount,
		delivery.Source,
		nullString(delivery.CorrelationID),
		delivery.CreatedAt,
		delivery.UpdatedAt,
	).Scan(&delivery.ID)
	if err != nil {
		return classify(err, "failed to create webhook delivery")
	}

	return nil
}

// FindByID ID로 처리 기록 조회
func (r *webhookDeliveryRepository) FindByID(ctx context.Context, id int64) (*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE id = $1`

	delivery, err := scanDelivery(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if isNoRows(err) {
		return nil, errors.New(errors.ErrCodeDeliveryNotFound, fmt.Sprintf("webhook delivery not found: %d", id))
	}
	if err != nil {
		return nil, err
	}
	return delivery, nil
}

// ExistsProcessedByTxn 거래 ID 로 처리 완료된 다른 기록 존재 여부
func (r *webhookDeliveryRepository) ExistsProcessedByTxn(ctx context.Context, txnID string, excludeID int64) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM webhook_deliveries
			WHERE external_txn_id = $1 AND status = 'processed' AND id <> $2
		)
	`

	var exists bool
	if err := conn(ctx, r.db).QueryRowContext(ctx, query, txnID, excludeID).Scan(&exists); err != nil {
		return false, classify(err, "failed to check processed deliveries")
	}
	return exists, nil
}

// BeginAttempt 시도 시작 기록
func (r *webhookDeliveryRepository) BeginAttempt(ctx context.Context, id int64, attempt int, at time.Time) (bool, error) {
	query := `
		UPDATE webhook_deliveries
		SET attempts = GREATEST(attempts, $1), updated_at = $2
		WHERE id = $3 AND status = 'pending'
	`
	return r.execGuarded(ctx, "failed to begin delivery attempt", query, attempt, at, id)
}

// MarkOutcome 처리 결과 기록
func (r *webhookDeliveryRepository) MarkOutcome(ctx context.Context, id int64, outcome domain.Outcome, at time.Time) (bool, error) {
	var (
		lastError   sql.NullString
		processedAt sql.NullTime
	)
	if outcome.Reason != "" {
		lastError = sql.NullString{String: outcome.Reason, Valid: true}
	}
	if outcome.Status == domain.DeliveryStatusProcessed {
		processedAt = sql.NullTime{Time: at, Valid: true}
	}

	query := `
		UPDATE webhook_deliveries
		SET status = $1,
		    last_error = $2,
		    processing_time_ms = $3,
		    attempts = GREATEST(attempts, $4),
		    processed_at = COALESCE($5, processed_at),
		    updated_at = $6
		WHERE id = $7 AND status NOT IN ('processed', 'ignored')
	`
	return r.execGuarded(ctx, "failed to mark delivery outcome", query,
		outcome.Status, lastError, outcome.ProcessingTimeMs, outcome.Attempt, processedAt, at, id)
}

// RecordRetry 재시도 예정 기록
func (r *webhookDeliveryRepository) RecordRetry(ctx context.Context, id int64, attempt int, lastError string, processingTimeMs int64, at time.Time) (bool, error) {
	query := `
		UPDATE webhook_deliveries
		SET attempts = GREATEST(attempts, $1),
		    retry_count = retry_count + 1,
		    last_error = $2,
		    processing_time_ms = $3,
		    updated_at = $4
		WHERE id = $5 AND status = 'pending'
	`
	return r.execGuarded(ctx, "failed to record delivery retry", query, attempt, lastError, processingTimeMs, at, id)
}

// ResetForReplay 수동 재처리
func (r *webhookDeliveryRepository) ResetForReplay(ctx context.Context, id int64, at time.Time) (bool, error) {
	query := `
		UPDATE webhook_deliveries
		SET status = 'pending', attempts = 1, last_error = NULL, updated_at = $1
		WHERE id = $2 AND status = 'failed'
	`
	return r.execGuarded(ctx, "failed to reset delivery for replay", query, at, id)
}

// FindStalePending 유실된 pending 기록 조회
func (r *webhookDeliveryRepository) FindStalePending(ctx context.Context, before time.Time, limit int) ([]*domain.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE status = 'pending' AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, classify(err, "failed to find stale deliveries")
	}
	defer rows.Close()

	var deliveries []*domain.WebhookDelivery
	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, delivery)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "failed to iterate stale deliveries")
	}

	return deliveries, nil
}

// Touch pending 기록의 updated_at 갱신
func (r *webhookDeliveryRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	_, err := r.execGuarded(ctx, "failed to touch delivery",
		`UPDATE webhook_deliveries SET updated_at = $1 WHERE id = $2 AND status = 'pending'`, at, id)
	return err
}

func (r *webhookDeliveryRepository) execGuarded(ctx context.Context, message, query string, args ...interface{}) (bool, error) {
	result, err := conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return false, classify(err, message)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, classify(err, "failed to get rows affected")
	}
	return rowsAffected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDelivery(row rowScanner) (*domain.WebhookDelivery, error) {
	var (
		d                domain.WebhookDelivery
		payload          []byte
		lastError        sql.NullString
		processingTimeMs sql.NullInt64
		correlationID    sql.NullString
		processedAt      sql.NullTime
	)

	err := row.Scan(
		&d.ID,
		&d.OrderID,
		&d.ExternalTxnID,
		&payload,
		&d.Status,
		&d.Attempts,
		&d.RetryCount,
		&lastError,
		&processingTimeMs,
		&d.Source,
		&correlationID,
		&processedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if isNoRows(err) {
		return nil, err
	}
	if err != nil {
		return nil, classify(err, "failed to scan webhook delivery")
	}

	if err := json.Unmarshal(payload, &d.Payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeSerializationError,
			fmt.Sprintf("invalid payload on webhook delivery %d", d.ID), err)
	}
	if lastError.Valid {
		d.LastError = &lastError.String
	}
	if processingTimeMs.Valid {
		d.ProcessingTimeMs = &processingTimeMs.Int64
	}
	if correlationID.Valid {
		d.CorrelationID = &correlationID.String
	}
	if processedAt.Valid {
		d.ProcessedAt = &processedAt.Time
	}

	return &d, nil
}
