package handler

import (
	"context"

	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/events"
	"github.com/kyungseok/payment-webhook-go/common/messaging"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/service"
)

// Processor 처리 작업 실행기
type Processor interface {
	Process(ctx context.Context, job events.DeliveryJob) (*service.ProcessResult, error)
}

// JobHandler 큐 메시지 핸들러
type JobHandler struct {
	processor Processor
	logger    *zap.Logger
}

// NewJobHandler 큐 메시지 핸들러 생성
func NewJobHandler(processor Processor, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		processor: processor,
		logger:    logger,
	}
}

// Handle 작업 1건 처리
//
// 에러를 반환하면 큐 구현에 따라 메시지가 재전달되며, 결과 기록이 남은 경우에는 nil 을 반환한다.
func (h *JobHandler) Handle(ctx context.Context, job events.DeliveryJob) error {
	result, err := h.processor.Process(ctx, job)
	if err != nil {
		h.logger.Error("delivery job failed before outcome was recorded",
			zap.Int64("deliveryId", job.DeliveryID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))
		return err
	}

	h.logger.Debug("delivery job handled",
		zap.Int64("deliveryId", result.DeliveryID),
		zap.String("outcome", string(result.Outcome)),
		zap.String("attempt", result.Attempt.String()))
	return nil
}

// Func messaging.JobHandler 로 변환
func (h *JobHandler) Func() messaging.JobHandler {
	return h.Handle
}
