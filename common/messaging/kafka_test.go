package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kyungseok/payment-webhook-go/common/events"
)

func headerValue(msg *sarama.ProducerMessage, key string) (string, bool) {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func TestKafkaDispatcher_ImmediateJobGoesToJobTopic(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "jobs" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		if _, ok := headerValue(msg, headerDeliverAt); ok {
			return errors.New("immediate job must not carry deliver-at header")
		}
		key, _ := msg.Key.Encode()
		if string(key) != "42" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})

	dispatcher := NewKafkaDispatcherWithProducer(producer, KafkaQueueConfig{
		JobTopic:   "jobs",
		RetryTopic: "jobs.retry",
	}, zap.NewNop())

	err := dispatcher.Enqueue(context.Background(), events.DeliveryJob{DeliveryID: 42, Attempt: 1}, 0)
	require.NoError(t, err)
}

func TestKafkaDispatcher_DelayedJobGoesToRetryTopic(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	before := time.Now()
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "jobs.retry" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		raw, ok := headerValue(msg, headerDeliverAt)
		if !ok {
			return errors.New("missing deliver-at header")
		}
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return err
		}
		if at.Before(before.Add(30 * time.Second)) {
			return errors.New("deliver-at earlier than requested delay")
		}

		value, _ := msg.Value.Encode()
		var job events.DeliveryJob
		if err := json.Unmarshal(value, &job); err != nil {
			return err
		}
		if job.Attempt != 2 {
			return errors.New("attempt not carried")
		}
		return nil
	})

	dispatcher := NewKafkaDispatcherWithProducer(producer, KafkaQueueConfig{
		JobTopic:   "jobs",
		RetryTopic: "jobs.retry",
	}, zap.NewNop())

	err := dispatcher.Enqueue(context.Background(), events.DeliveryJob{DeliveryID: 7, Attempt: 2}, 30*time.Second)
	require.NoError(t, err)
}

func TestKafkaDispatcher_SendFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	dispatcher := NewKafkaDispatcherWithProducer(producer, KafkaQueueConfig{JobTopic: "jobs"}, zap.NewNop())
	err := dispatcher.Enqueue(context.Background(), events.DeliveryJob{DeliveryID: 1, Attempt: 1}, 0)
	assert.Error(t, err)
}

func TestKafkaPublisher_PassesRawPayloadThrough(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	defer producer.Close()

	raw := json.RawMessage(`{"eventType":"order.status_changed.v1"}`)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != string(raw) {
			return errors.New("payload was re-encoded")
		}
		return nil
	})

	publisher := NewKafkaPublisherWithProducer(producer, zap.NewNop())
	require.NoError(t, publisher.Publish(context.Background(), "order.status_changed.v1", "order-1", raw))
}

func TestJobGroupHandler_WaitsForDeliverAt(t *testing.T) {
	var got []events.DeliveryJob
	h := &jobGroupHandler{
		handler: func(ctx context.Context, job events.DeliveryJob) error {
			got = append(got, job)
			return nil
		},
		logger: zap.NewNop(),
	}

	value, err := json.Marshal(events.DeliveryJob{DeliveryID: 9, Attempt: 3})
	require.NoError(t, err)

	at := time.Now().Add(50 * time.Millisecond)
	msg := &sarama.ConsumerMessage{
		Topic: "jobs.retry",
		Value: value,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(headerDeliverAt), Value: []byte(at.Format(time.RFC3339Nano))},
		},
	}

	require.NoError(t, h.process(context.Background(), msg))
	assert.False(t, time.Now().Before(at))
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].DeliveryID)
	assert.Equal(t, 3, got[0].Attempt)
}

func TestJobGroupHandler_CancelledWhileWaiting(t *testing.T) {
	h := &jobGroupHandler{
		handler: func(ctx context.Context, job events.DeliveryJob) error {
			t.Fatal("handler must not run")
			return nil
		},
		logger: zap.NewNop(),
	}

	value, err := json.Marshal(events.DeliveryJob{DeliveryID: 9, Attempt: 2})
	require.NoError(t, err)

	msg := &sarama.ConsumerMessage{
		Value: value,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(headerDeliverAt), Value: []byte(time.Now().Add(time.Hour).Format(time.RFC3339Nano))},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = h.process(ctx, msg)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestJobGroupHandler_DropsMalformedJob(t *testing.T) {
	called := false
	h := &jobGroupHandler{
		handler: func(ctx context.Context, job events.DeliveryJob) error {
			called = true
			return nil
		},
		logger: zap.NewNop(),
	}

	err := h.process(context.Background(), &sarama.ConsumerMessage{Value: []byte("not-json")})
	assert.NoError(t, err)
	assert.False(t, called)
}
