package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode 에러 코드 정의
type ErrorCode string

const (
	// Business Errors (재시도 불필요)
	ErrCodeOrderNotFound     ErrorCode = "ORDER_NOT_FOUND"
	ErrCodeDeliveryNotFound  ErrorCode = "DELIVERY_NOT_FOUND"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	ErrCodeAlreadyApplied    ErrorCode = "ALREADY_APPLIED"
	ErrCodeDuplicateRequest  ErrorCode = "DUPLICATE_REQUEST"
	ErrCodeInvalidPayload    ErrorCode = "INVALID_PAYLOAD"
	ErrCodeInvalidState      ErrorCode = "INVALID_STATE"

	// Expected transient
	ErrCodeOptimisticConflict ErrorCode = "OPTIMISTIC_CONFLICT"

	// Technical Errors
	ErrCodeDatabaseError       ErrorCode = "DATABASE_ERROR"
	ErrCodeNetworkError        ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeoutError        ErrorCode = "TIMEOUT_ERROR"
	ErrCodeSerializationError  ErrorCode = "SERIALIZATION_ERROR"
	ErrCodeConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
	ErrCodeCacheError          ErrorCode = "CACHE_ERROR"
	ErrCodeQueueError          ErrorCode = "QUEUE_ERROR"
	ErrCodeUnknownError        ErrorCode = "UNKNOWN_ERROR"
)

// DomainError 도메인 에러 구조체
type DomainError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is 같은 코드의 DomainError 와 일치 여부
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == ""
}

// New 새로운 도메인 에러 생성
func New(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Wrap 기존 에러를 래핑한 도메인 에러 생성
func Wrap(code ErrorCode, message string, cause error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinel 코드만 가진 비교용 에러 (errors.Is 대상)
func Sentinel(code ErrorCode) *DomainError {
	return &DomainError{Code: code}
}

// CodeOf 에러 체인에서 첫 번째 DomainError 코드 추출
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var domainErr *DomainError
	if stderrors.As(err, &domainErr) {
		return domainErr.Code
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeoutError
	}
	return ErrCodeUnknownError
}

// IsRetryable 재시도 가능한 에러인지 판단
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeOptimisticConflict, ErrCodeDatabaseError, ErrCodeNetworkError,
		ErrCodeTimeoutError, ErrCodeQueueError:
		return true
	}
	return false
}

// IsConflict Optimistic Lock 충돌 여부
func IsConflict(err error) bool {
	return CodeOf(err) == ErrCodeOptimisticConflict
}

// IsBusinessError 비즈니스 에러인지 판단 (재시도 불필요)
func IsBusinessError(err error) bool {
	switch CodeOf(err) {
	case ErrCodeOrderNotFound, ErrCodeDeliveryNotFound, ErrCodeInvalidTransition,
		ErrCodeAlreadyApplied, ErrCodeDuplicateRequest, ErrCodeInvalidPayload, ErrCodeInvalidState:
		return true
	}
	return false
}

// Is 표준 errors.Is 위임
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As 표준 errors.As 위임
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
