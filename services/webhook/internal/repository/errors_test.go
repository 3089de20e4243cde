package repository

import (
	"context"
	"database/sql/driver"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/kyungseok/payment-webhook-go/common/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      errors.ErrorCode
		retryable bool
	}{
		{"txn unique", &pq.Error{Code: "23505", Constraint: uniqueExternalTxnConstraint}, errors.ErrCodeAlreadyApplied, false},
		{"other unique", &pq.Error{Code: "23505", Constraint: "order_events_pkey"}, errors.ErrCodeConstraintViolation, false},
		{"fk violation", &pq.Error{Code: "23503"}, errors.ErrCodeConstraintViolation, false},
		{"serialization failure", &pq.Error{Code: "40001"}, errors.ErrCodeDatabaseError, true},
		{"deadlock", &pq.Error{Code: "40P01"}, errors.ErrCodeDatabaseError, true},
		{"lock not available", &pq.Error{Code: "55P03"}, errors.ErrCodeDatabaseError, true},
		{"statement timeout", &pq.Error{Code: "57014"}, errors.ErrCodeDatabaseError, true},
		{"connection failure", &pq.Error{Code: "08006"}, errors.ErrCodeDatabaseError, true},
		{"too many connections", &pq.Error{Code: "53300"}, errors.ErrCodeDatabaseError, true},
		{"bad input", &pq.Error{Code: "22P02"}, errors.ErrCodeSerializationError, false},
		{"undefined table", &pq.Error{Code: "42P01"}, errors.ErrCodeUnknownError, false},
		{"deadline", context.DeadlineExceeded, errors.ErrCodeTimeoutError, true},
		{"bad conn", driver.ErrBadConn, errors.ErrCodeNetworkError, true},
		{"wrapped pq", fmt.Errorf("exec: %w", &pq.Error{Code: "40P01"}), errors.ErrCodeDatabaseError, true},
		{"plain", stderrors.New("boom"), errors.ErrCodeDatabaseError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err, "op")
			assert.Equal(t, tt.code, errors.CodeOf(err))
			assert.Equal(t, tt.retryable, errors.IsRetryable(err))
		})
	}
}

func TestClassify_KeepsDomainErrors(t *testing.T) {
	original := errors.New(errors.ErrCodeOptimisticConflict, "version moved")
	assert.Same(t, original, classify(original, "op"))
	assert.NoError(t, classify(nil, "op"))
}
