package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/common/events"
	"github.com/kyungseok/payment-webhook-go/common/messaging"
	"github.com/kyungseok/payment-webhook-go/common/metrics"
	"github.com/kyungseok/payment-webhook-go/common/retry"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/repository"
)

// ProcessOutcome 처리 1회의 결과
type ProcessOutcome string

const (
	OutcomeProcessed      ProcessOutcome = "processed"
	OutcomeIgnored        ProcessOutcome = "ignored"
	OutcomeFailed         ProcessOutcome = "failed"
	OutcomeRetryScheduled ProcessOutcome = "retry_scheduled"
	OutcomeSkipped        ProcessOutcome = "skipped"
)

// ProcessResult 처리 결과 요약
type ProcessResult struct {
	DeliveryID int64
	Outcome    ProcessOutcome
	Reason     string
	Attempt    retry.Attempt
	RetryIn    time.Duration
}

// OrchestratorConfig 처리 정책
type OrchestratorConfig struct {
	Schedule           retry.Schedule
	AttemptTimeout     time.Duration
	RetryOrderNotFound bool
}

// Orchestrator 웹훅 1건 처리 단위
//
// 주문 조회, 조건부 업데이트, 감사 이벤트, 처리 기록 갱신을 하나의 트랜잭션으로 실행하고
// 충돌/일시 장애는 스케줄에 따라 큐에 지연 재발행한다. 같은 delivery 에 대해 여러 번
// 실행되어도 안전하다.
type Orchestrator struct {
	tx         repository.Transactor
	deliveries repository.WebhookDeliveryRepository
	applier    *Applier
	dispatcher messaging.Dispatcher
	cfg        OrchestratorConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewOrchestrator 처리 오케스트레이터 생성
func NewOrchestrator(
	tx repository.Transactor,
	deliveries repository.WebhookDeliveryRepository,
	applier *Applier,
	dispatcher messaging.Dispatcher,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		tx:         tx,
		deliveries: deliveries,
		applier:    applier,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// errDeliveryFinalized 다른 워커가 이미 확정한 기록
var errDeliveryFinalized = errors.Sentinel(errors.ErrCodeInvalidState)

// Process 작업 1건 처리
//
// 반환 에러는 처리 기록조차 남기지 못한 인프라 장애뿐이며, 이 경우 pending 기록은 sweeper 가 재발행한다.
func (o *Orchestrator) Process(ctx context.Context, job events.DeliveryJob) (*ProcessResult, error) {
	start := time.Now()
	attempt := o.cfg.Schedule.At(job.Attempt)
	result := &ProcessResult{DeliveryID: job.DeliveryID, Attempt: attempt}

	logger := o.logger.With(
		zap.Int64("deliveryId", job.DeliveryID),
		zap.String("attempt", attempt.String()))

	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	delivery, err := o.deliveries.FindByID(attemptCtx, job.DeliveryID)
	if err != nil {
		if errors.CodeOf(err) == errors.ErrCodeDeliveryNotFound {
			logger.Warn("delivery job references unknown delivery, dropping")
			result.Outcome = OutcomeSkipped
			return result, nil
		}
		return nil, err
	}

	if delivery.Status != domain.DeliveryStatusPending {
		logger.Info("delivery already finalized, skipping", zap.String("status", string(delivery.Status)))
		result.Outcome = OutcomeSkipped
		return result, nil
	}

	logger = logger.With(
		zap.String("txnId", delivery.ExternalTxnID),
		zap.String("orderId", delivery.OrderID.String()))

	if ok, err := o.deliveries.BeginAttempt(attemptCtx, delivery.ID, attempt.Number, o.now()); err != nil {
		logger.Warn("failed to record attempt start", zap.Error(err))
	} else if !ok {
		result.Outcome = OutcomeSkipped
		return result, nil
	}

	var outcome domain.Outcome
	err = o.tx.WithinTx(attemptCtx, func(txCtx context.Context) error {
		applied, err := o.applier.Apply(txCtx, delivery)
		if err != nil {
			return err
		}

		outcome, err = o.outcomeFor(applied, attempt)
		if err != nil {
			return err
		}
		outcome.Attempt = attempt.Number
		outcome.ProcessingTimeMs = time.Since(start).Milliseconds()

		ok, err := o.deliveries.MarkOutcome(txCtx, delivery.ID, outcome, o.now())
		if err != nil {
			return err
		}
		if !ok {
			return errDeliveryFinalized
		}
		return nil
	})

	if err == nil {
		result.Outcome = ProcessOutcome(outcome.Status)
		result.Reason = outcome.Reason
		o.observe(result.Outcome, start)

		switch outcome.Status {
		case domain.DeliveryStatusProcessed:
			logger.Info("webhook processed")
		case domain.DeliveryStatusFailed:
			logger.Error("webhook failed", zap.String("reason", outcome.Reason))
		default:
			logger.Info("webhook ignored", zap.String("reason", outcome.Reason))
		}
		return result, nil
	}

	// 트랜잭션 롤백 이후: 부모 ctx 로 결과 기록
	switch {
	case errors.Is(err, errDeliveryFinalized):
		result.Outcome = OutcomeSkipped
		return result, nil

	case errors.CodeOf(err) == errors.ErrCodeAlreadyApplied:
		// 다른 주문이 같은 거래 ID 를 먼저 커밋 (유니크 제약)
		logger.Warn("duplicate transaction detected by unique constraint", zap.Error(err))
		return o.finish(ctx, delivery, result, attempt, start, domain.DeliveryStatusIgnored, domain.ReasonDuplicateTxn)

	case errors.CodeOf(err) == errors.ErrCodeOrderNotFound, errors.IsRetryable(err):
		return o.scheduleRetry(ctx, delivery, result, attempt, start, err, logger)

	default:
		logger.Error("non-retryable processing error", zap.Error(err))
		return o.finish(ctx, delivery, result, attempt, start, domain.DeliveryStatusFailed, err.Error())
	}
}

// outcomeFor 반영 결과를 처리 기록 상태로 변환
func (o *Orchestrator) outcomeFor(applied *ApplyResult, attempt retry.Attempt) (domain.Outcome, error) {
	switch applied.Kind {
	case ApplyApplied:
		return domain.Outcome{Status: domain.DeliveryStatusProcessed}, nil
	case ApplyAlreadyApplied, ApplyInvalidTransition:
		return domain.Outcome{Status: domain.DeliveryStatusIgnored, Reason: applied.Reason}, nil
	case ApplyOrderNotFound:
		// 주문보다 웹훅이 먼저 도착한 경우를 위해 스케줄 동안 재시도
		if o.cfg.RetryOrderNotFound && !attempt.Exhausted() {
			return domain.Outcome{}, errors.New(errors.ErrCodeOrderNotFound, domain.ReasonOrderNotFound)
		}
		return domain.Outcome{Status: domain.DeliveryStatusFailed, Reason: domain.ReasonOrderNotFound}, nil
	}
	return domain.Outcome{}, errors.New(errors.ErrCodeUnknownError, fmt.Sprintf("unexpected apply result %q", applied.Kind))
}

func (o *Orchestrator) scheduleRetry(
	ctx context.Context,
	delivery *domain.WebhookDelivery,
	result *ProcessResult,
	attempt retry.Attempt,
	start time.Time,
	cause error,
	logger *zap.Logger,
) (*ProcessResult, error) {
	next, delay, ok := attempt.Next()
	if !ok {
		reason := fmt.Sprintf(domain.ReasonRetriesExceeded, attempt.Number, cause.Error())
		logger.Error("retries exhausted", zap.Error(cause))
		return o.finish(ctx, delivery, result, attempt, start, domain.DeliveryStatusFailed, reason)
	}

	elapsed := time.Since(start).Milliseconds()
	recorded, err := o.deliveries.RecordRetry(ctx, delivery.ID, attempt.Number, cause.Error(), elapsed, o.now())
	if err != nil {
		return nil, err
	}
	if !recorded {
		result.Outcome = OutcomeSkipped
		return result, nil
	}

	job := events.DeliveryJob{DeliveryID: delivery.ID, Attempt: next.Number, EnqueuedAt: o.now()}
	if err := o.dispatcher.Enqueue(ctx, job, delay); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueueError, "failed to schedule retry", err)
	}

	metrics.RetriesScheduled.WithLabelValues(string(errors.CodeOf(cause))).Inc()
	logger.Warn("transient failure, retry scheduled",
		zap.Error(cause),
		zap.String("nextAttempt", next.String()),
		zap.Duration("delay", delay))

	result.Outcome = OutcomeRetryScheduled
	result.Reason = cause.Error()
	result.RetryIn = delay
	o.observe(result.Outcome, start)
	return result, nil
}

func (o *Orchestrator) finish(
	ctx context.Context,
	delivery *domain.WebhookDelivery,
	result *ProcessResult,
	attempt retry.Attempt,
	start time.Time,
	status domain.DeliveryStatus,
	reason string,
) (*ProcessResult, error) {
	outcome := domain.Outcome{
		Status:           status,
		Reason:           reason,
		Attempt:          attempt.Number,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}

	ok, err := o.deliveries.MarkOutcome(ctx, delivery.ID, outcome, o.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		result.Outcome = OutcomeSkipped
		return result, nil
	}

	result.Outcome = ProcessOutcome(status)
	result.Reason = reason
	o.observe(result.Outcome, start)
	return result, nil
}

func (o *Orchestrator) observe(outcome ProcessOutcome, start time.Time) {
	metrics.DeliveryOutcomes.WithLabelValues(string(outcome)).Inc()
	metrics.ProcessingDuration.WithLabelValues(string(outcome)).Observe(time.Since(start).Seconds())
}
