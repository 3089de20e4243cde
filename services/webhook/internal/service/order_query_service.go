package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/repository"
)

const (
	DefaultPerPage = 50
	MaxPerPage     = 100
)

// EventPage 주문 이벤트 페이지
type EventPage struct {
	Items    []*domain.OrderEvent
	Page     int
	PerPage  int
	Total    int
	LastPage int
}

// OrderQueryService 주문/처리 기록 조회 및 주문 생성
type OrderQueryService struct {
	orders     repository.OrderRepository
	events     repository.OrderEventRepository
	deliveries repository.WebhookDeliveryRepository
	logger     *zap.Logger
}

// NewOrderQueryService 조회 서비스 생성
func NewOrderQueryService(
	orders repository.OrderRepository,
	events repository.OrderEventRepository,
	deliveries repository.WebhookDeliveryRepository,
	logger *zap.Logger,
) *OrderQueryService {
	return &OrderQueryService{
		orders:     orders,
		events:     events,
		deliveries: deliveries,
		logger:     logger,
	}
}

// CreateOrder pending 주문 생성
func (s *OrderQueryService) CreateOrder(ctx context.Context, userID int64, amount decimal.Decimal, metadata map[string]interface{}) (*domain.Order, error) {
	order := domain.NewOrder(userID, amount, metadata)
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	s.logger.Info("order created",
		zap.String("orderId", order.ID.String()),
		zap.Int64("userId", userID),
		zap.String("amount", amount.String()))

	return order, nil
}

// GetOrder 주문 조회
func (s *OrderQueryService) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.orders.FindByID(ctx, id)
}

// ListEvents 주문 이벤트를 생성 순서대로 페이지 조회
func (s *OrderQueryService) ListEvents(ctx context.Context, orderID uuid.UUID, page, perPage int) (*EventPage, error) {
	if _, err := s.orders.FindByID(ctx, orderID); err != nil {
		return nil, err
	}

	page, perPage = normalizePage(page, perPage)

	total, err := s.events.CountByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	items, err := s.events.ListByOrder(ctx, orderID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}

	lastPage := (total + perPage - 1) / perPage
	if lastPage == 0 {
		lastPage = 1
	}

	return &EventPage{
		Items:    items,
		Page:     page,
		PerPage:  perPage,
		Total:    total,
		LastPage: lastPage,
	}, nil
}

// GetDelivery 처리 기록 조회
func (s *OrderQueryService) GetDelivery(ctx context.Context, id int64) (*domain.WebhookDelivery, error) {
	return s.deliveries.FindByID(ctx, id)
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	if perPage > MaxPerPage {
		perPage = MaxPerPage
	}
	return page, perPage
}
