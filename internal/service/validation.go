package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"msg-gateway/internal/model"

	"github.com/go-playground/validator/v10"
)

// 各渠道消息最大长度（字符数）
var maxBodyLength = map[model.Platform]int{
	model.PlatformSMS:       1600,
	model.PlatformWhatsApp:  1600,
	model.PlatformMessenger: 2000,
	model.PlatformTelegram:  4096,
}

// MaxBodyLength 渠道消息最大长度，未知渠道返回0
func MaxBodyLength(platform model.Platform) int {
	return maxBodyLength[platform]
}

// ValidationError 请求参数校验失败，按字段列出错误
type ValidationError struct {
	Errors map[string][]string
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for field := range e.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, strings.Join(e.Errors[field], " "))
	}
	return "validation failed: " + strings.Join(parts, " ")
}

func (e *ValidationError) add(field, message string) {
	if e.Errors == nil {
		e.Errors = make(map[string][]string)
	}
	e.Errors[field] = append(e.Errors[field], message)
}

// validateSendRequest 校验发送参数，输入需已去除首尾空白
func validateSendRequest(v *validator.Validate, platform model.Platform, to, body string) error {
	verr := &ValidationError{}

	limit := MaxBodyLength(platform)
	if limit == 0 {
		verr.add("platform", fmt.Sprintf("The selected platform %q is invalid.", platform))
		return verr
	}

	if err := v.Var(to, "required"); err != nil {
		verr.add("to", "The to field is required.")
	}

	if err := v.Var(body, fmt.Sprintf("required,max=%d", limit)); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Tag() == "max" {
			verr.add("message", fmt.Sprintf("The message field must not be greater than %d characters.", limit))
		} else {
			verr.add("message", "The message field is required.")
		}
	}

	if len(verr.Errors) > 0 {
		return verr
	}
	return nil
}
