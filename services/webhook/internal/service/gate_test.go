package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/common/idempotency"
	"github.com/kyungseok/payment-webhook-go/common/logger"
	"github.com/kyungseok/payment-webhook-go/common/retry"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
)

type gateFixture struct {
	redis      *miniredis.Miniredis
	store      *memStore
	dispatcher *fakeDispatcher
	gate       *IdempotencyGate
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	dispatcher := &fakeDispatcher{}
	gate := NewIdempotencyGate(
		idempotency.NewRedisStore(client, "webhook:dedup"),
		memDeliveries{store},
		dispatcher,
		24*time.Hour,
		logger.NewTestLogger(),
	)
	gate.enqueueRetry = retry.Config{
		MaxAttempts:        2,
		InitialInterval:    time.Millisecond,
		MaxInterval:        time.Millisecond,
		BackoffCoefficient: 1,
	}

	return &gateFixture{redis: mr, store: store, dispatcher: dispatcher, gate: gate}
}

func payload(txnID string) domain.Payload {
	return domain.Payload{
		ExternalTxnID:  txnID,
		OrderID:        uuid.New(),
		ProposedStatus: domain.OrderStatusPaid,
		Amount:         decimal.MustParse("100.00"),
		OccurredAt:     time.Now().UTC(),
		Source:         domain.SourcePayPal,
	}
}

func TestAccept_NewDeliveryIsRecordedAndQueued(t *testing.T) {
	f := newGateFixture(t)

	result, err := f.gate.Accept(context.Background(), payload("tx_1"))

	require.NoError(t, err)
	assert.Equal(t, DecisionNew, result.Decision)
	assert.True(t, result.Queued)
	require.NotNil(t, result.Delivery)

	stored := f.store.delivery(result.Delivery.ID)
	assert.Equal(t, domain.DeliveryStatusPending, stored.Status)
	assert.Equal(t, 1, stored.Attempts)
	assert.Equal(t, domain.SourcePayPal, stored.Source)

	jobs := f.dispatcher.all()
	require.Len(t, jobs, 1)
	assert.Equal(t, result.Delivery.ID, jobs[0].Job.DeliveryID)
	assert.Equal(t, 1, jobs[0].Job.Attempt)
	assert.Zero(t, jobs[0].Delay)

	assert.True(t, f.redis.Exists("webhook:dedup:tx_1"))
	assert.Equal(t, 24*time.Hour, f.redis.TTL("webhook:dedup:tx_1"))
}

func TestAccept_DuplicateWithinTTL(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, err := f.gate.Accept(ctx, payload("tx_1"))
	require.NoError(t, err)

	result, err := f.gate.Accept(ctx, payload("tx_1"))

	require.NoError(t, err)
	assert.Equal(t, DecisionDuplicate, result.Decision)
	assert.Nil(t, result.Delivery)
	assert.Len(t, f.store.deliveries, 1)
	assert.Len(t, f.dispatcher.all(), 1)
}

func TestAccept_AfterTTLCreatesNewRecord(t *testing.T) {
	f := newGateFixture(t)
	ctx := context.Background()

	_, err := f.gate.Accept(ctx, payload("tx_1"))
	require.NoError(t, err)

	f.redis.FastForward(25 * time.Hour)

	result, err := f.gate.Accept(ctx, payload("tx_1"))

	require.NoError(t, err)
	assert.Equal(t, DecisionNew, result.Decision)
	assert.Len(t, f.store.deliveries, 2)
}

func TestAccept_CacheDownFailsOpen(t *testing.T) {
	f := newGateFixture(t)
	f.redis.Close()

	result, err := f.gate.Accept(context.Background(), payload("tx_1"))

	require.NoError(t, err)
	assert.Equal(t, DecisionNew, result.Decision)
	assert.True(t, result.Queued)
	assert.Len(t, f.store.deliveries, 1)
}

func TestAccept_CreateFailureReleasesKey(t *testing.T) {
	f := newGateFixture(t)
	f.store.deliveryCreateErr = errors.New(errors.ErrCodeDatabaseError, "insert failed")

	_, err := f.gate.Accept(context.Background(), payload("tx_1"))

	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeDatabaseError, errors.CodeOf(err))
	assert.False(t, f.redis.Exists("webhook:dedup:tx_1"))
	assert.Empty(t, f.dispatcher.all())
}

func TestAccept_EnqueueFailureLeavesPendingRecord(t *testing.T) {
	f := newGateFixture(t)
	f.dispatcher.err = errors.New(errors.ErrCodeQueueError, "broker unavailable")

	result, err := f.gate.Accept(context.Background(), payload("tx_1"))

	require.NoError(t, err)
	assert.Equal(t, DecisionNew, result.Decision)
	assert.False(t, result.Queued)
	assert.Equal(t, domain.DeliveryStatusPending, f.store.delivery(result.Delivery.ID).Status)
}

func TestAccept_DefaultsSourceToUnknown(t *testing.T) {
	f := newGateFixture(t)
	p := payload("tx_1")
	p.Source = ""

	result, err := f.gate.Accept(context.Background(), p)

	require.NoError(t, err)
	assert.Equal(t, domain.SourceUnknown, f.store.delivery(result.Delivery.ID).Source)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()

	t.Run("failed delivery is requeued", func(t *testing.T) {
		f := newGateFixture(t)
		accepted, err := f.gate.Accept(ctx, payload("tx_1"))
		require.NoError(t, err)

		_, err = memDeliveries{f.store}.MarkOutcome(ctx, accepted.Delivery.ID,
			domain.Outcome{Status: domain.DeliveryStatusFailed, Reason: domain.ReasonOrderNotFound, Attempt: 5}, time.Now())
		require.NoError(t, err)

		replayed, err := f.gate.Replay(ctx, accepted.Delivery.ID)

		require.NoError(t, err)
		assert.Equal(t, domain.DeliveryStatusPending, replayed.Status)
		assert.Equal(t, 1, replayed.Attempts)
		assert.Nil(t, replayed.LastError)

		stored := f.store.delivery(accepted.Delivery.ID)
		assert.Equal(t, domain.DeliveryStatusPending, stored.Status)

		last := f.dispatcher.last()
		assert.Equal(t, accepted.Delivery.ID, last.Job.DeliveryID)
		assert.Equal(t, 1, last.Job.Attempt)
	})

	t.Run("non failed delivery is rejected", func(t *testing.T) {
		f := newGateFixture(t)
		accepted, err := f.gate.Accept(ctx, payload("tx_1"))
		require.NoError(t, err)

		_, err = f.gate.Replay(ctx, accepted.Delivery.ID)

		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeInvalidState, errors.CodeOf(err))
	})

	t.Run("unknown delivery", func(t *testing.T) {
		f := newGateFixture(t)

		_, err := f.gate.Replay(ctx, 99)

		require.Error(t, err)
		assert.Equal(t, errors.ErrCodeDeliveryNotFound, errors.CodeOf(err))
	})
}
