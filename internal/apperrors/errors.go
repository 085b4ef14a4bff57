package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误类别
type Kind string

const (
	KindValidation Kind = "validation"  // 参数/配置校验失败，不会入库
	KindNotFound   Kind = "not_found"   // 设备不存在、没有待回应的 check-in 等
	KindConflict   Kind = "conflict"    // 序列号重复注册
	KindTransient  Kind = "transient"   // 存储层写冲突或连接抖动，可安全重试
	KindDelivery   Kind = "delivery"    // 通知投递失败，不回滚报警状态
	KindInternal   Kind = "internal"
)

// AppError 服务统一错误类型
// 外层 Message 面向调用方，内部 err 仅用于日志
type AppError struct {
	Kind    Kind
	Message string
	err     error
}

func (e *AppError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.err
}

// HTTPStatus 错误类别到 HTTP 状态码的映射
func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, msg string, err error) *AppError {
	return &AppError{Kind: kind, Message: msg, err: err}
}

// NewValidationError 创建校验错误
func NewValidationError(msg string, err error) *AppError {
	return newError(KindValidation, msg, err)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(msg string, err error) *AppError {
	return newError(KindNotFound, msg, err)
}

// NewConflictError 创建冲突错误
func NewConflictError(msg string, err error) *AppError {
	return newError(KindConflict, msg, err)
}

// NewTransientError 创建可重试的存储错误
func NewTransientError(msg string, err error) *AppError {
	return newError(KindTransient, msg, err)
}

// NewDeliveryError 创建通知投递错误
func NewDeliveryError(msg string, err error) *AppError {
	return newError(KindDelivery, msg, err)
}

// NewInternalError 创建内部错误
func NewInternalError(msg string, err error) *AppError {
	return newError(KindInternal, msg, err)
}

func isKind(err error, kind Kind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// IsValidation 判断是否为校验错误
func IsValidation(err error) bool { return isKind(err, KindValidation) }

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

// IsConflict 判断是否为冲突错误
func IsConflict(err error) bool { return isKind(err, KindConflict) }

// IsTransient 判断是否为可重试错误
func IsTransient(err error) bool { return isKind(err, KindTransient) }

// IsDelivery 判断是否为投递错误
func IsDelivery(err error) bool { return isKind(err, KindDelivery) }
