package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/common/metrics"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/service"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/validation"
)

// WebhookIntake 웹훅 인입/재처리
type WebhookIntake interface {
	Accept(ctx context.Context, p domain.Payload) (*service.AcceptResult, error)
	Replay(ctx context.Context, deliveryID int64) (*domain.WebhookDelivery, error)
}

// OrderReader 주문/처리 기록 조회
type OrderReader interface {
	CreateOrder(ctx context.Context, userID int64, amount decimal.Decimal, metadata map[string]interface{}) (*domain.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListEvents(ctx context.Context, orderID uuid.UUID, page, perPage int) (*service.EventPage, error)
	GetDelivery(ctx context.Context, id int64) (*domain.WebhookDelivery, error)
}

// HTTPHandler HTTP 핸들러
type HTTPHandler struct {
	intake    WebhookIntake
	orders    OrderReader
	validator *validatorv10.Validate
	logger    *zap.Logger
}

// NewHTTPHandler HTTP 핸들러 생성
func NewHTTPHandler(intake WebhookIntake, orders OrderReader, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{
		intake:    intake,
		orders:    orders,
		validator: validation.New(),
		logger:    logger,
	}
}

// ErrorResponse 에러 응답
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// RegisterRoutes 라우트 등록 (intake 미들웨어는 웹훅 수신 엔드포인트에만 적용)
func (h *HTTPHandler) RegisterRoutes(r *gin.Engine, intake ...gin.HandlerFunc) {
	r.GET("/health", h.HealthCheck)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	{
		api.POST("/webhooks/payments", append(intake, h.ReceivePayment)...)
		api.GET("/webhooks/deliveries/:id", h.GetDelivery)
		api.POST("/webhooks/deliveries/:id/replay", h.ReplayDelivery)

		api.POST("/orders", h.CreateOrder)
		api.GET("/orders/:id", h.GetOrder)
		api.GET("/orders/:id/events", h.ListOrderEvents)
	}
}

// ReceivePayment 결제 웹훅 수신 API
func (h *HTTPHandler) ReceivePayment(c *gin.Context) {
	start := time.Now()

	var req validation.WebhookPaymentRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		metrics.DeliveriesReceived.WithLabelValues("invalid", string(domain.ParseSource(req.Source))).Inc()
		return
	}

	payload, err := req.ToPayload()
	if err != nil {
		h.respondError(c, http.StatusUnprocessableEntity, err.Error(), string(errors.CodeOf(err)))
		return
	}

	result, err := h.intake.Accept(c.Request.Context(), payload)
	if err != nil {
		h.logger.Error("webhook intake failed",
			zap.String("txnId", payload.ExternalTxnID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"message": "Webhook processing failed",
			"error":   "Internal server error",
		})
		return
	}

	if result.Decision == service.DecisionDuplicate {
		c.JSON(http.StatusConflict, gin.H{
			"message": "Duplicate webhook detected",
			"status":  "ignored",
			"txn_id":  payload.ExternalTxnID,
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":            "Webhook received and queued for processing",
		"webhook_log_id":     result.Delivery.ID,
		"txn_id":             payload.ExternalTxnID,
		"status":             "queued",
		"processing_time_ms": float64(time.Since(start).Microseconds()) / 1000,
	})
}

// GetDelivery 처리 기록 조회 API
func (h *HTTPHandler) GetDelivery(c *gin.Context) {
	id, ok := h.deliveryID(c)
	if !ok {
		return
	}

	delivery, err := h.orders.GetDelivery(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toDeliveryResponse(delivery))
}

// ReplayDelivery failed 처리 기록 재처리 API
func (h *HTTPHandler) ReplayDelivery(c *gin.Context) {
	id, ok := h.deliveryID(c)
	if !ok {
		return
	}

	delivery, err := h.intake.Replay(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, toDeliveryResponse(delivery))
}

// CreateOrder 주문 생성 API
func (h *HTTPHandler) CreateOrder(c *gin.Context) {
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.validator); err != nil {
		return
	}

	amount, err := req.DecimalAmount()
	if err != nil {
		h.respondError(c, http.StatusUnprocessableEntity, err.Error(), string(errors.CodeOf(err)))
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), req.UserID, amount, req.Metadata)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toOrderResponse(order))
}

// GetOrder 주문 조회 API
func (h *HTTPHandler) GetOrder(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListOrderEvents 주문 이벤트 목록 API
func (h *HTTPHandler) ListOrderEvents(c *gin.Context) {
	id, ok := h.orderID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(service.DefaultPerPage)))

	result, err := h.orders.ListEvents(c.Request.Context(), id, page, perPage)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toEventPageResponse(id, result))
}

// HealthCheck 헬스 체크 API
func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *HTTPHandler) orderID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.respondError(c, http.StatusNotFound, "Order not found", string(errors.ErrCodeOrderNotFound))
		return uuid.Nil, false
	}
	return id, true
}

func (h *HTTPHandler) deliveryID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(c, http.StatusNotFound, "Delivery not found", string(errors.ErrCodeDeliveryNotFound))
		return 0, false
	}
	return id, true
}

// handleError 도메인 에러 코드를 HTTP 상태로 변환
func (h *HTTPHandler) handleError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	switch code {
	case errors.ErrCodeOrderNotFound:
		h.respondError(c, http.StatusNotFound, "Order not found", string(code))
	case errors.ErrCodeDeliveryNotFound:
		h.respondError(c, http.StatusNotFound, "Delivery not found", string(code))
	case errors.ErrCodeInvalidState:
		h.respondError(c, http.StatusConflict, err.Error(), string(code))
	case errors.ErrCodeInvalidPayload:
		h.respondError(c, http.StatusUnprocessableEntity, err.Error(), string(code))
	default:
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		h.respondError(c, http.StatusInternalServerError, "Internal server error", string(code))
	}
}

func (h *HTTPHandler) respondError(c *gin.Context, status int, message, code string) {
	c.JSON(status, ErrorResponse{Message: message, Code: code})
}
