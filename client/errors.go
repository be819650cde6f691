package client

import (
	"errors"
	"fmt"

	"github.com/weisyn/lending-router-go/types"
)

// Error 客户端错误
type Error struct {
	Code    int
	Message string
	// RPCCode 节点返回的 JSON-RPC 错误码（仅 ErrCodeRPCError）
	RPCCode int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client error [%d]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("client error [%d]: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// 错误码定义
const (
	ErrCodeNetwork         = 1000 // 网络错误
	ErrCodeTimeout         = 1001 // 超时错误
	ErrCodeInvalidResponse = 1002 // 无效响应
	ErrCodeRPCError        = 1003 // JSON-RPC错误
	ErrCodeNotSupported    = 1004 // 不支持的操作
)

// IsClientError 检查错误链中是否存在客户端错误
func IsClientError(err error) (*Error, bool) {
	var clientErr *Error
	if errors.As(err, &clientErr) {
		return clientErr, true
	}
	return nil, false
}

// NewNetworkError 创建网络错误
func NewNetworkError(err error) *Error {
	return &Error{
		Code:    ErrCodeNetwork,
		Message: "network error",
		Err:     err,
	}
}

// NewTimeoutError 创建超时错误
func NewTimeoutError() *Error {
	return &Error{
		Code:    ErrCodeTimeout,
		Message: "request timeout",
	}
}

// NewInvalidResponseError 创建无效响应错误
func NewInvalidResponseError(message string) *Error {
	return &Error{
		Code:    ErrCodeInvalidResponse,
		Message: message,
	}
}

// NewRPCError 创建JSON-RPC错误
//
// data 为 Problem Details 时还原为 RouterError 挂在 Err 上，
// 调用方可以直接用 errors.Is 匹配节点返回的错误码。
func NewRPCError(code int, message string, data interface{}) *Error {
	msg := fmt.Sprintf("RPC error [%d]: %s", code, message)
	e := &Error{
		Code:    ErrCodeRPCError,
		Message: msg,
		RPCCode: code,
	}
	if pd, err := types.ParseProblemDetailsFromRPCError(message, data); err == nil {
		e.Err = types.NewRouterErrorFromProblemDetails(pd)
	} else if data != nil {
		e.Message = fmt.Sprintf("%s, data: %v", msg, data)
	}
	return e
}

// NewNotSupportedError 创建不支持的操作错误
func NewNotSupportedError(operation string) *Error {
	return &Error{
		Code:    ErrCodeNotSupported,
		Message: fmt.Sprintf("operation not supported: %s", operation),
	}
}
