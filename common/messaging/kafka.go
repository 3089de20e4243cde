package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/events"
)

const (
	headerDeliverAt = "x-deliver-at"
	headerAttempt   = "x-attempt"
)

// Publisher 이벤트 발행 인터페이스
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
	Close() error
}

// KafkaPublisher Kafka 기반 이벤트 발행자
type KafkaPublisher struct {
	producer sarama.SyncProducer
	logger   *zap.Logger
}

func newProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1
	return config
}

// NewKafkaPublisher Kafka 발행자 생성
func NewKafkaPublisher(brokers []string, logger *zap.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer, logger), nil
}

// NewKafkaPublisherWithProducer 이미 생성된 producer 로 발행자 생성
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		logger:   logger,
	}
}

// Publish 이벤트 발행
//
// event 가 json.RawMessage 이면 그대로 전송된다 (Outbox payload).
func (p *KafkaPublisher) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.Error("failed to send message",
			zap.Error(err),
			zap.String("topic", topic),
			zap.String("key", key))
		return fmt.Errorf("failed to send message: %w", err)
	}

	p.logger.Debug("message sent successfully",
		zap.String("topic", topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))

	return nil
}

// Close 발행자 종료
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// KafkaQueueConfig Kafka 작업 큐 설정
type KafkaQueueConfig struct {
	Brokers    []string
	JobTopic   string
	RetryTopic string
	GroupID    string
}

// KafkaDispatcher Kafka 작업 발행자
//
// 지연 없는 작업은 JobTopic, 지연 작업은 deliver-at 헤더를 달아 RetryTopic 으로 보낸다.
type KafkaDispatcher struct {
	producer sarama.SyncProducer
	cfg      KafkaQueueConfig
	logger   *zap.Logger
}

// NewKafkaDispatcher Kafka 작업 발행자 생성
func NewKafkaDispatcher(cfg KafkaQueueConfig, logger *zap.Logger) (*KafkaDispatcher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaDispatcherWithProducer(producer, cfg, logger), nil
}

// NewKafkaDispatcherWithProducer 이미 생성된 producer 로 작업 발행자 생성
func NewKafkaDispatcherWithProducer(producer sarama.SyncProducer, cfg KafkaQueueConfig, logger *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: producer,
		cfg:      cfg,
		logger:   logger,
	}
}

// Enqueue 작업 발행
func (d *KafkaDispatcher) Enqueue(ctx context.Context, job events.DeliveryJob, delay time.Duration) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}

	topic := d.cfg.JobTopic
	headers := []sarama.RecordHeader{
		{Key: []byte(headerAttempt), Value: []byte(strconv.Itoa(job.Attempt))},
	}
	if delay > 0 {
		if d.cfg.RetryTopic != "" {
			topic = d.cfg.RetryTopic
		}
		deliverAt := time.Now().Add(delay).UTC()
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(headerDeliverAt),
			Value: []byte(deliverAt.Format(time.RFC3339Nano)),
		})
	}

	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(strconv.FormatInt(job.DeliveryID, 10)),
		Value:   sarama.ByteEncoder(payload),
		Headers: headers,
	}

	if _, _, err := d.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to enqueue delivery job: %w", err)
	}

	d.logger.Debug("delivery job enqueued",
		zap.Int64("deliveryId", job.DeliveryID),
		zap.Int("attempt", job.Attempt),
		zap.String("topic", topic),
		zap.Duration("delay", delay))

	return nil
}

// Close 발행자 종료
func (d *KafkaDispatcher) Close() error {
	return d.producer.Close()
}

// KafkaJobConsumer Kafka 기반 작업 구독자 (JobTopic + RetryTopic)
type KafkaJobConsumer struct {
	consumerGroup sarama.ConsumerGroup
	cfg           KafkaQueueConfig
	logger        *zap.Logger
}

// NewKafkaJobConsumer Kafka 작업 구독자 생성
func NewKafkaJobConsumer(cfg KafkaQueueConfig, logger *zap.Logger) (*KafkaJobConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	return &KafkaJobConsumer{
		consumerGroup: consumerGroup,
		cfg:           cfg,
		logger:        logger,
	}, nil
}

// Run ctx 가 취소될 때까지 구독
func (c *KafkaJobConsumer) Run(ctx context.Context, handler JobHandler) error {
	topics := []string{c.cfg.JobTopic}
	if c.cfg.RetryTopic != "" {
		topics = append(topics, c.cfg.RetryTopic)
	}

	groupHandler := &jobGroupHandler{
		handler: handler,
		logger:  c.logger,
	}

	go func() {
		for err := range c.consumerGroup.Errors() {
			c.logger.Error("error from consumer group", zap.Error(err))
		}
	}()

	for {
		if err := c.consumerGroup.Consume(ctx, topics, groupHandler); err != nil {
			c.logger.Error("error from consumer", zap.Error(err))
			if ctx.Err() == nil {
				time.Sleep(time.Second)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close 구독자 종료
func (c *KafkaJobConsumer) Close() error {
	return c.consumerGroup.Close()
}

// jobGroupHandler Kafka 컨슈머 그룹 핸들러
type jobGroupHandler struct {
	handler JobHandler
	logger  *zap.Logger
}

func (h *jobGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *jobGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *jobGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(session.Context(), message); err != nil {
				if session.Context().Err() != nil {
					// 리밸런스/종료 중: 커밋하지 않고 재전달에 맡김
					return nil
				}
				h.logger.Error("failed to handle delivery job",
					zap.Error(err),
					zap.String("topic", message.Topic),
					zap.Int64("offset", message.Offset))
			}
			// 처리 결과는 WebhookDelivery 행에 기록되고, 유실된 pending 건은 sweeper 가 재발행한다
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *jobGroupHandler) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	if err := waitUntil(ctx, deliverAt(message)); err != nil {
		return err
	}

	job, err := decodeJob(message.Value)
	if err != nil {
		h.logger.Error("dropping malformed delivery job",
			zap.Error(err),
			zap.String("topic", message.Topic),
			zap.Int64("offset", message.Offset))
		return nil
	}

	return h.handler(ctx, job)
}

func deliverAt(message *sarama.ConsumerMessage) time.Time {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != headerDeliverAt {
			continue
		}
		parsed, err := time.Parse(time.RFC3339Nano, string(header.Value))
		if err != nil {
			return time.Time{}
		}
		return parsed
	}
	return time.Time{}
}
