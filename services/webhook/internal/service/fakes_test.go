package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/govalues/decimal"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/common/events"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/repository"
)

// memStore 레포지토리 인터페이스의 메모리 구현 (트랜잭션 롤백은 undo 로그로 흉내)
type memStore struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*domain.Order
	events     []*domain.OrderEvent
	deliveries map[int64]*domain.WebhookDelivery
	outbox     []*repository.OutboxEvent

	nextEventID    int64
	nextDeliveryID int64
	nextOutboxID   int64

	// 테스트 훅
	afterFindOrder    func()
	beforeUpdate      func()
	updateErr         error
	eventInsertErr    error
	deliveryCreateErr error
}

func newMemStore() *memStore {
	return &memStore{
		orders:     make(map[uuid.UUID]*domain.Order),
		deliveries: make(map[int64]*domain.WebhookDelivery),
	}
}

type memTx struct {
	undo []func()
}

type memTxKey struct{}

func (s *memStore) recordUndo(ctx context.Context, fn func()) {
	if tx, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		tx.undo = append(tx.undo, fn)
	}
}

type memTransactor struct {
	s         *memStore
	mu        sync.Mutex
	commits   int
	rollbacks int
}

func (t *memTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}

	tx := &memTx{}
	if err := fn(context.WithValue(ctx, memTxKey{}, tx)); err != nil {
		t.s.mu.Lock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		t.s.mu.Unlock()

		t.mu.Lock()
		t.rollbacks++
		t.mu.Unlock()
		return err
	}

	t.mu.Lock()
	t.commits++
	t.mu.Unlock()
	return nil
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.ExternalTxnID != nil {
		txn := *o.ExternalTxnID
		c.ExternalTxnID = &txn
	}
	c.Metadata = domain.MergeMetadata(o.Metadata, nil)
	return &c
}

func copyDelivery(d *domain.WebhookDelivery) *domain.WebhookDelivery {
	c := *d
	if d.LastError != nil {
		v := *d.LastError
		c.LastError = &v
	}
	return &c
}

// seedOrder 주어진 상태의 주문 저장
func (s *memStore) seedOrder(status domain.OrderStatus) *domain.Order {
	order := domain.NewOrder(1, decimal.MustParse("10.00"), nil)
	order.Status = status
	s.mu.Lock()
	s.orders[order.ID] = copyOrder(order)
	s.mu.Unlock()
	return order
}

func (s *memStore) order(id uuid.UUID) *domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orders[id]; ok {
		return copyOrder(o)
	}
	return nil
}

func (s *memStore) delivery(id int64) *domain.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyDelivery(s.deliveries[id])
}

func (s *memStore) eventsFor(orderID uuid.UUID) []*domain.OrderEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.OrderEvent
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) outboxCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbox)
}

// --- orders ---

type memOrders struct{ s *memStore }

func (r memOrders) Create(ctx context.Context, order *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[order.ID] = copyOrder(order)
	return nil
}

func (r memOrders) FindByID(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	r.s.mu.Lock()
	o, ok := r.s.orders[id]
	var c *domain.Order
	if ok {
		c = copyOrder(o)
	}
	hook := r.s.afterFindOrder
	r.s.mu.Unlock()

	if !ok {
		return nil, errors.New(errors.ErrCodeOrderNotFound, "order not found: "+id.String())
	}
	if hook != nil {
		hook()
	}
	return c, nil
}

func (r memOrders) ExistsByExternalTxnID(ctx context.Context, txnID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.orders {
		if o.HasTxn(txnID) {
			return true, nil
		}
	}
	return false, nil
}

func (r memOrders) UpdateWithVersion(ctx context.Context, m *domain.Mutation, updatedAt time.Time) (bool, error) {
	r.s.mu.Lock()
	hook := r.s.beforeUpdate
	r.s.mu.Unlock()
	if hook != nil {
		hook()
	}

	if err := ctx.Err(); err != nil {
		return false, errors.Wrap(errors.ErrCodeTimeoutError, "failed to update order", err)
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.updateErr != nil {
		return false, r.s.updateErr
	}

	o, ok := r.s.orders[m.OrderID]
	if !ok || o.Version != m.ExpectedVersion {
		return false, nil
	}
	for id, other := range r.s.orders {
		if id != m.OrderID && other.HasTxn(m.ExternalTxnID) {
			return false, errors.New(errors.ErrCodeAlreadyApplied, "external transaction already applied to an order")
		}
	}

	before := copyOrder(o)
	o.Apply(m, updatedAt)
	r.s.recordUndo(ctx, func() { r.s.orders[m.OrderID] = before })
	return true, nil
}

// --- order events ---

type memEvents struct{ s *memStore }

func (r memEvents) Insert(ctx context.Context, event *domain.OrderEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.eventInsertErr != nil {
		return r.s.eventInsertErr
	}

	r.s.nextEventID++
	event.ID = r.s.nextEventID
	stored := *event
	r.s.events = append(r.s.events, &stored)
	r.s.recordUndo(ctx, func() {
		for i, e := range r.s.events {
			if e.ID == stored.ID {
				r.s.events = append(r.s.events[:i], r.s.events[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r memEvents) ListByOrder(ctx context.Context, orderID uuid.UUID, limit, offset int) ([]*domain.OrderEvent, error) {
	all := r.s.eventsFor(orderID)
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (r memEvents) CountByOrder(ctx context.Context, orderID uuid.UUID) (int, error) {
	return len(r.s.eventsFor(orderID)), nil
}

// --- outbox ---

type memOutbox struct{ s *memStore }

func (r memOutbox) Insert(ctx context.Context, event *repository.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.nextOutboxID++
	event.ID = r.s.nextOutboxID
	stored := *event
	r.s.outbox = append(r.s.outbox, &stored)
	r.s.recordUndo(ctx, func() {
		for i, e := range r.s.outbox {
			if e.ID == stored.ID {
				r.s.outbox = append(r.s.outbox[:i], r.s.outbox[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (r memOutbox) FindPending(ctx context.Context, limit int) ([]*repository.OutboxEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*repository.OutboxEvent
	for _, e := range r.s.outbox {
		if e.Status == repository.OutboxStatusPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r memOutbox) MarkSent(ctx context.Context, id int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.outbox {
		if e.ID == id {
			e.Status = repository.OutboxStatusSent
		}
	}
	return nil
}

// --- deliveries ---

type memDeliveries struct{ s *memStore }

func (r memDeliveries) Create(ctx context.Context, d *domain.WebhookDelivery) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.deliveryCreateErr != nil {
		return r.s.deliveryCreateErr
	}
	r.s.nextDeliveryID++
	d.ID = r.s.nextDeliveryID
	r.s.deliveries[d.ID] = copyDelivery(d)
	return nil
}

func (r memDeliveries) FindByID(ctx context.Context, id int64) (*domain.WebhookDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeDeliveryNotFound, "webhook delivery not found")
	}
	return copyDelivery(d), nil
}

func (r memDeliveries) ExistsProcessedByTxn(ctx context.Context, txnID string, excludeID int64) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, d := range r.s.deliveries {
		if id != excludeID && d.ExternalTxnID == txnID && d.Status == domain.DeliveryStatusProcessed {
			return true, nil
		}
	}
	return false, nil
}

// mutate 조건을 만족하는 행을 갱신하고 undo 를 남긴다
func (r memDeliveries) mutate(ctx context.Context, id int64, cond func(*domain.WebhookDelivery) bool, fn func(*domain.WebhookDelivery)) bool {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.s.deliveries[id]
	if !ok || !cond(d) {
		return false
	}
	before := copyDelivery(d)
	fn(d)
	r.s.recordUndo(ctx, func() { r.s.deliveries[id] = before })
	return true
}

func isPending(d *domain.WebhookDelivery) bool { return d.Status == domain.DeliveryStatusPending }

func (r memDeliveries) BeginAttempt(ctx context.Context, id int64, attempt int, at time.Time) (bool, error) {
	return r.mutate(ctx, id, isPending, func(d *domain.WebhookDelivery) {
		if attempt > d.Attempts {
			d.Attempts = attempt
		}
		d.UpdatedAt = at
	}), nil
}

func (r memDeliveries) MarkOutcome(ctx context.Context, id int64, outcome domain.Outcome, at time.Time) (bool, error) {
	return r.mutate(ctx, id, func(d *domain.WebhookDelivery) bool { return !d.Status.IsTerminal() }, func(d *domain.WebhookDelivery) {
		d.Status = outcome.Status
		if outcome.Reason != "" {
			reason := outcome.Reason
			d.LastError = &reason
		} else {
			d.LastError = nil
		}
		ms := outcome.ProcessingTimeMs
		d.ProcessingTimeMs = &ms
		if outcome.Attempt > d.Attempts {
			d.Attempts = outcome.Attempt
		}
		if outcome.Status == domain.DeliveryStatusProcessed {
			d.ProcessedAt = &at
		}
		d.UpdatedAt = at
	}), nil
}

func (r memDeliveries) RecordRetry(ctx context.Context, id int64, attempt int, lastError string, processingTimeMs int64, at time.Time) (bool, error) {
	return r.mutate(ctx, id, isPending, func(d *domain.WebhookDelivery) {
		if attempt > d.Attempts {
			d.Attempts = attempt
		}
		d.RetryCount++
		d.LastError = &lastError
		d.ProcessingTimeMs = &processingTimeMs
		d.UpdatedAt = at
	}), nil
}

func (r memDeliveries) ResetForReplay(ctx context.Context, id int64, at time.Time) (bool, error) {
	return r.mutate(ctx, id, func(d *domain.WebhookDelivery) bool { return d.Status == domain.DeliveryStatusFailed }, func(d *domain.WebhookDelivery) {
		d.Status = domain.DeliveryStatusPending
		d.Attempts = 1
		d.LastError = nil
		d.UpdatedAt = at
	}), nil
}

func (r memDeliveries) FindStalePending(ctx context.Context, before time.Time, limit int) ([]*domain.WebhookDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*domain.WebhookDelivery
	for _, d := range r.s.deliveries {
		if d.Status == domain.DeliveryStatusPending && d.UpdatedAt.Before(before) && len(out) < limit {
			out = append(out, copyDelivery(d))
		}
	}
	return out, nil
}

func (r memDeliveries) Touch(ctx context.Context, id int64, at time.Time) error {
	r.mutate(ctx, id, isPending, func(d *domain.WebhookDelivery) { d.UpdatedAt = at })
	return nil
}

// --- dispatcher ---

type enqueued struct {
	Job   events.DeliveryJob
	Delay time.Duration
}

type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, job events.DeliveryJob, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, enqueued{Job: job, Delay: delay})
	return nil
}

func (f *fakeDispatcher) Close() error { return nil }

func (f *fakeDispatcher) all() []enqueued {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]enqueued, len(f.jobs))
	copy(out, f.jobs)
	return out
}

func (f *fakeDispatcher) last() enqueued {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[len(f.jobs)-1]
}
