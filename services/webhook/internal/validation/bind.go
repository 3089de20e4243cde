package validation

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
)

// Request 바인딩 대상 요청 본문
type Request interface {
	Normalize()
}

// BindAndValidate JSON 본문을 바인딩하고 검증한다
// 실패하면 422 응답을 쓰고 에러를 반환하므로 핸들러는 바로 return 하면 된다.
func BindAndValidate(c *gin.Context, out Request, v *validatorv10.Validate) error {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message": "The given data was invalid.",
			"errors":  gin.H{"body": err.Error()},
		})
		return err
	}

	out.Normalize()

	if err := v.Struct(out); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"message": "The given data was invalid.",
			"errors":  FieldErrors(err),
		})
		return err
	}
	return nil
}

// FieldErrors 검증 에러를 필드별 메시지로 변환
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if !stderrors.As(err, &ve) {
		out["error"] = err.Error()
		return out
	}
	for _, fe := range ve {
		out[fieldKey(fe)] = message(fe)
	}
	return out
}

func fieldKey(fe validatorv10.FieldError) string {
	// 구조체 이름을 뺀 JSON 경로 (예: metadata.note)
	ns := fe.Namespace()
	for i := 0; i < len(ns); i++ {
		if ns[i] == '.' {
			return ns[i+1:]
		}
	}
	return fe.Field()
}

func message(fe validatorv10.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required."
	case "max":
		return fe.Field() + " cannot exceed " + fe.Param() + "."
	case "identifier":
		return fe.Field() + " contains invalid characters."
	case "uuid":
		return fe.Field() + " must be a valid UUID."
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param() + "."
	case "amount":
		return "amount must be between 0.01 and 999999.99 with at most 2 decimal places."
	case "gt":
		return fe.Field() + " must be greater than " + fe.Param() + "."
	case "not_future":
		return "timestamp cannot be in the future."
	case "after_2020":
		return "timestamp must be after 2020-01-01."
	case "max_keys":
		return "metadata cannot have more than " + fe.Param() + " keys."
	case "max_value":
		return "metadata values cannot exceed " + fe.Param() + " characters."
	}
	return fe.Error()
}
