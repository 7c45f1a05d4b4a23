package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ========== 模型提供方错误层次结构 ==========

// BaseError 基础错误结构
type BaseError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *BaseError) Error() string {
	return e.Message
}

// OverloadedError 提供方过载信号（容量/限流），可切换变体重试
type OverloadedError struct {
	*BaseError
	Variant string `json:"variant"` // 触发过载的模型变体
}

func NewOverloadedError(variant, message string) *OverloadedError {
	return &OverloadedError{
		BaseError: &BaseError{
			Type:    "OverloadedError",
			Message: message,
			Code:    http.StatusServiceUnavailable,
		},
		Variant: variant,
	}
}

// ExhaustedError 所有调用尝试均失败，调用方应提示稍后重试
type ExhaustedError struct {
	*BaseError
	Attempts int   `json:"attempts"`
	LastErr  error `json:"-"`
}

func NewExhaustedError(attempts int, lastErr error) *ExhaustedError {
	return &ExhaustedError{
		BaseError: &BaseError{
			Type:    "ExhaustedError",
			Message: fmt.Sprintf("模型调用在 %d 次尝试后仍然失败", attempts),
		},
		Attempts: attempts,
		LastErr:  lastErr,
	}
}

func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// AuthenticationError 认证失败，不可重试
type AuthenticationError struct {
	*BaseError
}

func NewAuthenticationError(message string) *AuthenticationError {
	return &AuthenticationError{
		BaseError: &BaseError{
			Type:    "AuthenticationError",
			Message: message,
			Code:    http.StatusUnauthorized,
		},
	}
}

// InvalidRequestError 请求格式错误，不可重试
type InvalidRequestError struct {
	*BaseError
}

func NewInvalidRequestError(message string) *InvalidRequestError {
	return &InvalidRequestError{
		BaseError: &BaseError{
			Type:    "InvalidRequestError",
			Message: message,
			Code:    http.StatusBadRequest,
		},
	}
}

// ProviderError 提供方一般错误
type ProviderError struct {
	*BaseError
}

func NewProviderError(message string) *ProviderError {
	return &ProviderError{
		BaseError: &BaseError{
			Type:    "ProviderError",
			Message: message,
		},
	}
}

// ========== 错误分类 ==========

// IsOverloaded 判断是否为过载信号
func IsOverloaded(err error) bool {
	var overloaded *OverloadedError
	return errors.As(err, &overloaded)
}

// IsExhausted 判断是否为尝试耗尽错误
func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// errorFromStatus 从HTTP状态码构建错误
func errorFromStatus(variant string, statusCode int, body string) error {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return NewOverloadedError(variant, fmt.Sprintf("模型 %s 过载: HTTP %d", variant, statusCode))
	case http.StatusUnauthorized, http.StatusForbidden:
		return NewAuthenticationError(fmt.Sprintf("模型API认证失败: HTTP %d", statusCode))
	case http.StatusBadRequest:
		return NewInvalidRequestError(fmt.Sprintf("模型请求无效: %s", truncate(body, 200)))
	default:
		return NewProviderError(fmt.Sprintf("模型调用失败: HTTP %d %s", statusCode, truncate(body, 200)))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
