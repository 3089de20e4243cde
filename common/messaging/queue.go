package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kyungseok/payment-webhook-go/common/events"
)

// JobHandler 작업 큐에서 꺼낸 DeliveryJob 처리 함수
//
// nil 이 아닌 에러는 큐 드라이버의 재전달 정책(SQS 가시성 타임아웃 등)에 맡겨진다.
type JobHandler func(ctx context.Context, job events.DeliveryJob) error

// Dispatcher 웹훅 처리 작업 발행 인터페이스
type Dispatcher interface {
	// Enqueue delay 이후 전달되도록 작업을 발행 (delay 0 이면 즉시)
	Enqueue(ctx context.Context, job events.DeliveryJob, delay time.Duration) error
	Close() error
}

// JobConsumer 웹훅 처리 작업 구독 인터페이스
type JobConsumer interface {
	// Run ctx 가 취소될 때까지 작업을 소비
	Run(ctx context.Context, handler JobHandler) error
	Close() error
}

func encodeJob(job events.DeliveryJob) ([]byte, error) {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delivery job: %w", err)
	}
	return payload, nil
}

func decodeJob(payload []byte) (events.DeliveryJob, error) {
	var job events.DeliveryJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("failed to unmarshal delivery job: %w", err)
	}
	if job.DeliveryID <= 0 {
		return job, fmt.Errorf("delivery job without delivery id")
	}
	return job, nil
}

// waitUntil deliverAt 까지 대기 (ctx 취소 시 ctx.Err 반환)
func waitUntil(ctx context.Context, deliverAt time.Time) error {
	if deliverAt.IsZero() {
		return nil
	}
	delay := time.Until(deliverAt)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
