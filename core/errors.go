package core

import (
	"errors"

	"chart_analyst/pkg/llm"
)

// 管线边界只允许三类终止性错误向调用方传播：
// 图片校验失败、模型尝试耗尽、模型一般错误。
// 学习上下文、持久化和搜索增强的失败一律吸收并记录日志

// ValidationError 输入图片校验失败，用户可自行纠正
type ValidationError struct {
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// IsValidation 判断是否为输入校验错误
func IsValidation(err error) bool {
	var validation *ValidationError
	return errors.As(err, &validation)
}

// IsProviderExhausted 判断是否为模型尝试耗尽错误，
// 调用方应提示稍后重试
func IsProviderExhausted(err error) bool {
	return llm.IsExhausted(err)
}
