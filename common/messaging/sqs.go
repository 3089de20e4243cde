package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/events"
)

// SQS DelaySeconds 상한 (15분)
const maxSQSDelay = 15 * time.Minute

// SQSAPI 사용하는 SQS 클라이언트 메서드 집합
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue SQS 기반 작업 큐 (Dispatcher + JobConsumer)
type SQSQueue struct {
	client   SQSAPI
	queueURL string
	logger   *zap.Logger

	// WaitTime long polling 대기 시간
	WaitTime time.Duration
	// VisibilityTimeout 핸들러 실패 시 재전달까지의 시간
	VisibilityTimeout time.Duration
}

// NewSQSClient 기본 자격 증명 체인으로 SQS 클라이언트 생성
func NewSQSClient(ctx context.Context, region string) (*sqs.Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(cfg), nil
}

// NewSQSQueue SQS 작업 큐 생성
func NewSQSQueue(client SQSAPI, queueURL string, logger *zap.Logger) *SQSQueue {
	return &SQSQueue{
		client:            client,
		queueURL:          queueURL,
		logger:            logger,
		WaitTime:          20 * time.Second,
		VisibilityTimeout: 90 * time.Second,
	}
}

// Enqueue 작업 발행 (delay 는 DelaySeconds 로 전달, 15분 상한)
func (q *SQSQueue) Enqueue(ctx context.Context, job events.DeliveryJob, delay time.Duration) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}

	if delay > maxSQSDelay {
		delay = maxSQSDelay
	}

	input := &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(string(payload)),
		DelaySeconds: int32(delay / time.Second),
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	q.logger.Debug("delivery job enqueued",
		zap.Int64("deliveryId", job.DeliveryID),
		zap.Int("attempt", job.Attempt),
		zap.Duration("delay", delay))

	return nil
}

// Run ctx 가 취소될 때까지 long polling 으로 작업 소비
//
// 핸들러가 성공한 메시지만 삭제하고, 실패한 메시지는 가시성 타임아웃 후 재전달된다.
func (q *SQSQueue) Run(ctx context.Context, handler JobHandler) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     int32(q.WaitTime / time.Second),
			VisibilityTimeout:   int32(q.VisibilityTimeout / time.Second),
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			q.logger.Error("failed to receive messages", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, message := range out.Messages {
			body := aws.ToString(message.Body)
			job, err := decodeJob([]byte(body))
			if err != nil {
				q.logger.Error("dropping malformed delivery job",
					zap.Error(err),
					zap.String("messageId", aws.ToString(message.MessageId)))
				q.delete(ctx, aws.ToString(message.ReceiptHandle))
				continue
			}

			if err := handler(ctx, job); err != nil {
				q.logger.Warn("delivery job failed, leaving for redelivery",
					zap.Error(err),
					zap.Int64("deliveryId", job.DeliveryID))
				continue
			}

			q.delete(ctx, aws.ToString(message.ReceiptHandle))
		}
	}
}

func (q *SQSQueue) delete(ctx context.Context, receiptHandle string) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		q.logger.Error("failed to delete message", zap.Error(err))
	}
}

// Close SQS 클라이언트는 별도 종료가 필요 없다
func (q *SQSQueue) Close() error {
	return nil
}
