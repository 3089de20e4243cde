package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/service"
)

// OrderResponse 주문 응답
type OrderResponse struct {
	ID            string                 `json:"id"`
	UserID        int64                  `json:"user_id"`
	Amount        string                 `json:"amount"`
	Status        string                 `json:"status"`
	ExternalTxnID *string                `json:"external_txn_id"`
	Metadata      map[string]interface{} `json:"metadata"`
	Version       int64                  `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	return OrderResponse{
		ID:            o.ID.String(),
		UserID:        o.UserID,
		Amount:        o.Amount.String(),
		Status:        string(o.Status),
		ExternalTxnID: o.ExternalTxnID,
		Metadata:      o.Metadata,
		Version:       o.Version,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}

// OrderEventResponse 주문 이벤트 응답
type OrderEventResponse struct {
	ID         int64                `json:"id"`
	OrderID    string               `json:"order_id"`
	FromStatus string               `json:"from_status"`
	ToStatus   string               `json:"to_status"`
	Reason     string               `json:"reason"`
	Metadata   domain.EventMetadata `json:"metadata"`
	CreatedAt  time.Time            `json:"created_at"`
}

// Pagination 페이지 정보
type Pagination struct {
	CurrentPage  int  `json:"current_page"`
	LastPage     int  `json:"last_page"`
	PerPage      int  `json:"per_page"`
	Total        int  `json:"total"`
	From         *int `json:"from"`
	To           *int `json:"to"`
	HasMorePages bool `json:"has_more_pages"`
}

// OrderEventsResponse 주문 이벤트 목록 응답
type OrderEventsResponse struct {
	OrderID    string               `json:"order_id"`
	Events     []OrderEventResponse `json:"events"`
	Pagination Pagination           `json:"pagination"`
}

func toEventPageResponse(orderID uuid.UUID, page *service.EventPage) OrderEventsResponse {
	items := make([]OrderEventResponse, 0, len(page.Items))
	for _, e := range page.Items {
		items = append(items, OrderEventResponse{
			ID:         e.ID,
			OrderID:    e.OrderID.String(),
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			Reason:     string(e.Reason),
			Metadata:   e.Metadata,
			CreatedAt:  e.CreatedAt,
		})
	}

	pagination := Pagination{
		CurrentPage:  page.Page,
		LastPage:     page.LastPage,
		PerPage:      page.PerPage,
		Total:        page.Total,
		HasMorePages: page.Page < page.LastPage,
	}
	if len(items) > 0 {
		from := (page.Page-1)*page.PerPage + 1
		to := from + len(items) - 1
		pagination.From = &from
		pagination.To = &to
	}

	return OrderEventsResponse{
		OrderID:    orderID.String(),
		Events:     items,
		Pagination: pagination,
	}
}

// DeliveryResponse 처리 기록 응답
type DeliveryResponse struct {
	ID               int64          `json:"id"`
	OrderID          string         `json:"order_id"`
	TxnID            string         `json:"txn_id"`
	Status           string         `json:"status"`
	Attempts         int            `json:"attempts"`
	RetryCount       int            `json:"retry_count"`
	LastError        *string        `json:"last_error"`
	ProcessingTimeMs *int64         `json:"processing_time_ms"`
	Source           string         `json:"webhook_source"`
	CorrelationID    *string        `json:"correlation_id"`
	Payload          domain.Payload `json:"raw_payload"`
	ProcessedAt      *time.Time     `json:"processed_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func toDeliveryResponse(d *domain.WebhookDelivery) DeliveryResponse {
	return DeliveryResponse{
		ID:               d.ID,
		OrderID:          d.OrderID.String(),
		TxnID:            d.ExternalTxnID,
		Status:           string(d.Status),
		Attempts:         d.Attempts,
		RetryCount:       d.RetryCount,
		LastError:        d.LastError,
		ProcessingTimeMs: d.ProcessingTimeMs,
		Source:           string(d.Source),
		CorrelationID:    d.CorrelationID,
		Payload:          d.Payload,
		ProcessedAt:      d.ProcessedAt,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}
