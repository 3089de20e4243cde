package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stderrors "errors"
	"io"
	"net"

	"github.com/lib/pq"

	"github.com/kyungseok/payment-webhook-go/common/errors"
)

// 주문 외부 거래 ID 유니크 제약 (migrations/001_init.sql)
const uniqueExternalTxnConstraint = "uq_orders_external_txn_id"

// classify 드라이버 에러를 DomainError 로 분류
//
//	23505 (외부 거래 ID)         -> ALREADY_APPLIED
//	그 외 23xxx                  -> CONSTRAINT_VIOLATION (재시도 불가)
//	40001 40P01 55P03 57014      -> DATABASE_ERROR (재시도)
//	08xxx 53xxx                  -> DATABASE_ERROR (재시도)
//	deadline / canceled          -> TIMEOUT_ERROR
//	ErrBadConn, net.Error, EOF   -> NETWORK_ERROR
func classify(err error, message string) error {
	if err == nil {
		return nil
	}

	var domainErr *errors.DomainError
	if stderrors.As(err, &domainErr) {
		return err
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Wrap(errors.ErrCodeTimeoutError, message, err)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return classifyPQ(pqErr, message)
	}

	if stderrors.Is(err, driver.ErrBadConn) || stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(errors.ErrCodeNetworkError, message, err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return errors.Wrap(errors.ErrCodeNetworkError, message, err)
	}

	return errors.Wrap(errors.ErrCodeDatabaseError, message, err)
}

func classifyPQ(pqErr *pq.Error, message string) error {
	switch pqErr.Code {
	case "23505":
		if pqErr.Constraint == uniqueExternalTxnConstraint {
			return errors.Wrap(errors.ErrCodeAlreadyApplied, "external transaction already applied to an order", pqErr)
		}
		return errors.Wrap(errors.ErrCodeConstraintViolation, message, pqErr)
	case "40001", "40P01", "55P03", "57014":
		return errors.Wrap(errors.ErrCodeDatabaseError, message, pqErr)
	}

	switch pqErr.Code.Class() {
	case "23":
		return errors.Wrap(errors.ErrCodeConstraintViolation, message, pqErr)
	case "08", "53":
		return errors.Wrap(errors.ErrCodeDatabaseError, message, pqErr)
	case "22":
		return errors.Wrap(errors.ErrCodeSerializationError, message, pqErr)
	}

	return errors.Wrap(errors.ErrCodeUnknownError, message, pqErr)
}

func isNoRows(err error) bool {
	return stderrors.Is(err, sql.ErrNoRows)
}
