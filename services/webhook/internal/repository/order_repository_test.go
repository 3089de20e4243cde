package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/govalues/decimal"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyungseok/payment-webhook-go/common/errors"
	"github.com/kyungseok/payment-webhook-go/services/webhook/internal/domain"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return db, mock
}

var orderColumns = []string{"id", "user_id", "amount", "status", "external_txn_id", "metadata", "version", "created_at", "updated_at"}

func TestOrderRepository_FindByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db)

	id := uuid.New()
	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, user_id, amount, status, external_txn_id, metadata, version, created_at, updated_at\s+FROM orders`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(orderColumns).
			AddRow(id.String(), int64(7), "100.00", "paid", "tx_1", []byte(`{"channel":"web"}`), int64(3), now, now))

	order, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, id, order.ID)
	assert.Equal(t, domain.OrderStatusPaid, order.Status)
	assert.Equal(t, "100.00", order.Amount.String())
	assert.True(t, order.HasTxn("tx_1"))
	assert.Equal(t, "web", order.Metadata["channel"])
	assert.Equal(t, int64(3), order.Version)
}

func TestOrderRepository_FindByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewOrderRepository(db)

	id := uuid.New()
	mock.ExpectQuery(`FROM orders`).WithArgs(id).WillReturnRows(sqlmock.NewRows(orderColumns))

	_, err := repo.FindByID(context.Background(), id)
	assert.Equal(t, errors.ErrCodeOrderNotFound, errors.CodeOf(err))
}

func TestOrderRepository_UpdateWithVersion(t *testing.T) {
	m := &domain.Mutation{
		OrderID:         uuid.New(),
		ExpectedVersion: 4,
		FromStatus:      domain.OrderStatusPending,
		ToStatus:        domain.OrderStatusPaid,
		ExternalTxnID:   "tx_1",
		Amount:          decimal.MustParse("100.00"),
	}
	now := time.Now().UTC()

	t.Run("applied", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`(?s)UPDATE orders\s+SET status = \$1.*WHERE id = \$6 AND version = \$7`).
			WithArgs(domain.OrderStatusPaid, "tx_1", "100.00", nil, now, m.OrderID, int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := NewOrderRepository(db).UpdateWithVersion(context.Background(), m, now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("version moved", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := NewOrderRepository(db).UpdateWithVersion(context.Background(), m, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("txn already on another order", func(t *testing.T) {
		db, mock := newMock(t)
		mock.ExpectExec(`UPDATE orders`).
			WillReturnError(&pq.Error{Code: "23505", Constraint: uniqueExternalTxnConstraint})

		_, err := NewOrderRepository(db).UpdateWithVersion(context.Background(), m, now)
		assert.Equal(t, errors.ErrCodeAlreadyApplied, errors.CodeOf(err))
	})
}

func TestOrderRepository_ExistsByExternalTxnID(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM orders WHERE external_txn_id = \$1\)`).
		WithArgs("tx_1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := NewOrderRepository(db).ExistsByExternalTxnID(context.Background(), "tx_1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestOrderRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	order := domain.NewOrder(7, decimal.MustParse("19.99"), map[string]interface{}{"channel": "web"})

	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs(order.ID, int64(7), "19.99", domain.OrderStatusPending, sqlmock.AnyArg(),
			`{"channel":"web"}`, int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewOrderRepository(db).Create(context.Background(), order))
}
