package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/govalues/decimal"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	amountPattern     = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

	minAmount = decimal.MustParse("0.01")
	maxAmount = decimal.MustParse("999999.99")

	// earliestTimestamp 이 시점 이전의 결제 이벤트는 거부
	earliestTimestamp = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
)

const (
	maxMetadataKeys     = 50
	maxMetadataValueLen = 1000
)

// New 웹훅 요청용 커스텀 규칙이 등록된 validator 생성
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// 에러 필드명을 JSON 키로 표시
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("identifier", validateIdentifier)
	_ = v.RegisterValidation("amount", validateAmount)

	v.RegisterStructValidation(webhookPaymentStructValidation, WebhookPaymentRequest{})

	return v
}

func validateIdentifier(fl validatorv10.FieldLevel) bool {
	return identifierPattern.MatchString(fl.Field().String())
}

// validateAmount 0.01 ~ 999999.99, 소수점 2자리 이하
func validateAmount(fl validatorv10.FieldLevel) bool {
	raw := fl.Field().String()
	if !amountPattern.MatchString(raw) {
		return false
	}
	amount, err := decimal.Parse(raw)
	if err != nil {
		return false
	}
	return amount.Cmp(minAmount) >= 0 && amount.Cmp(maxAmount) <= 0
}

// webhookPaymentStructValidation 시각 범위와 metadata 크기 검증
func webhookPaymentStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(WebhookPaymentRequest)

	if !req.Timestamp.IsZero() {
		if req.Timestamp.After(time.Now()) {
			sl.ReportError(req.Timestamp, "timestamp", "Timestamp", "not_future", "")
		}
		if !req.Timestamp.After(earliestTimestamp) {
			sl.ReportError(req.Timestamp, "timestamp", "Timestamp", "after_2020", "")
		}
	}

	if len(req.Metadata) > maxMetadataKeys {
		sl.ReportError(req.Metadata, "metadata", "Metadata", "max_keys", fmt.Sprint(maxMetadataKeys))
	}
	for key, value := range req.Metadata {
		if s, ok := value.(string); ok && len(s) > maxMetadataValueLen {
			sl.ReportError(value, "metadata."+key, "Metadata", "max_value", fmt.Sprint(maxMetadataValueLen))
		}
	}
}
