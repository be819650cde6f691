package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Category 错误大类（对外可见的错误分类）
type Category string

const (
	CategoryAuthorization     Category = "AUTHORIZATION_ERROR"
	CategoryInsufficientValue Category = "INSUFFICIENT_VALUE_ERROR"
	CategorySequencing        Category = "SEQUENCING_VIOLATION"
	CategoryBridgeFee         Category = "BRIDGE_FEE_ERROR"
	CategoryBatchItem         Category = "BATCH_ITEM_FAILURE"
	CategoryValidation        Category = "VALIDATION_ERROR"
	CategoryInternal          Category = "INTERNAL_ERROR"
)

// LayerRouter 错误来源层
const LayerRouter = "lending-router-go"

// ErrorCode 错误码常量
const (
	// 授权错误
	ErrorCodeInvalidSignature = "AUTH_INVALID_SIGNATURE"
	ErrorCodeExpired          = "AUTH_EXPIRED"
	ErrorCodeNonceMismatch    = "AUTH_NONCE_MISMATCH"
	ErrorCodeUnauthorized     = "AUTH_UNAUTHORIZED"
	ErrorCodeSenderMismatch   = "AUTH_SENDER_MISMATCH"

	// 原生币不足
	ErrorCodeInsufficientValue = "VALUE_INSUFFICIENT"
	ErrorCodeValueMismatch     = "VALUE_MISMATCH"

	// 时序违规（市场拒绝了不合法顺序的操作）
	ErrorCodeSequencingViolation = "MARKET_SEQUENCING_VIOLATION"

	// 跨链手续费
	ErrorCodeBridgeFee = "BRIDGE_FEE_UNDERPAID"

	// 批处理
	ErrorCodeBatchItemFailure = "BATCH_ITEM_FAILURE"
	ErrorCodeUnknownAction    = "BATCH_UNKNOWN_ACTION"
	ErrorCodeReentrant        = "BATCH_REENTRANT_CALL"

	// 通用
	ErrorCodeValidation      = "COMMON_VALIDATION_ERROR"
	ErrorCodeConversionDrift = "VAULT_CONVERSION_DRIFT"
)

// RouterError 路由器错误类型
//
// ToProblemDetails 给出其 RFC7807 表示。
// Is 仅比较 Code，因此 errors.Is(err, ErrExpired) 对任何同码错误都成立。
type RouterError struct {
	Code        string
	Category    Category
	Layer       string
	UserMessage string
	Detail      string
	Details     map[string]interface{}
	TraceID     string
	Timestamp   string
	Err         error
}

func (e *RouterError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.UserMessage, e.Detail)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.UserMessage)
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配
func (e *RouterError) Is(target error) bool {
	t, ok := target.(*RouterError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail 基于哨兵错误派生一个携带详情的新错误
func (e *RouterError) WithDetail(format string, args ...interface{}) *RouterError {
	return &RouterError{
		Code:        e.Code,
		Category:    e.Category,
		Layer:       e.Layer,
		UserMessage: e.UserMessage,
		Detail:      fmt.Sprintf(format, args...),
		Details:     e.Details,
		TraceID:     uuid.New().String(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Err:         e.Err,
	}
}

// Wrap 基于哨兵错误包装底层错误
func (e *RouterError) Wrap(err error) *RouterError {
	derived := e.WithDetail("%v", err)
	derived.Err = err
	return derived
}

// 哨兵错误
var (
	ErrInvalidSignature = newSentinel(ErrorCodeInvalidSignature, CategoryAuthorization, "签名无效")
	ErrExpired          = newSentinel(ErrorCodeExpired, CategoryAuthorization, "授权已过期")
	ErrNonceMismatch    = newSentinel(ErrorCodeNonceMismatch, CategoryAuthorization, "nonce 不匹配")
	ErrUnauthorized     = newSentinel(ErrorCodeUnauthorized, CategoryAuthorization, "未授权的调用方")
	ErrSenderMismatch   = newSentinel(ErrorCodeSenderMismatch, CategoryAuthorization, "调用参数中的 from 与批次调用者不一致")

	ErrInsufficientValue = newSentinel(ErrorCodeInsufficientValue, CategoryInsufficientValue, "附带的原生币不足")
	ErrValueMismatch     = newSentinel(ErrorCodeValueMismatch, CategoryInsufficientValue, "子调用原生币总额与批次附带金额不一致")

	ErrSequencingViolation = newSentinel(ErrorCodeSequencingViolation, CategorySequencing, "市场拒绝了不合法顺序的操作")

	ErrBridgeFee = newSentinel(ErrorCodeBridgeFee, CategoryBridgeFee, "跨链手续费不足")

	ErrBatchItemFailure = newSentinel(ErrorCodeBatchItemFailure, CategoryBatchItem, "批处理子调用失败")
	ErrUnknownAction    = newSentinel(ErrorCodeUnknownAction, CategoryValidation, "未配置的操作类型")
	ErrReentrant        = newSentinel(ErrorCodeReentrant, CategoryValidation, "禁止重入调用")

	ErrValidation      = newSentinel(ErrorCodeValidation, CategoryValidation, "参数校验失败")
	ErrConversionDrift = newSentinel(ErrorCodeConversionDrift, CategoryInternal, "金库份额换算结果不一致")
)

func newSentinel(code string, category Category, userMessage string) *RouterError {
	return &RouterError{
		Code:        code,
		Category:    category,
		Layer:       LayerRouter,
		UserMessage: userMessage,
	}
}

// IsRouterError 检查错误链中是否存在 RouterError
func IsRouterError(err error) (*RouterError, bool) {
	var routerErr *RouterError
	if errors.As(err, &routerErr) {
		return routerErr, true
	}
	return nil, false
}

// CategoryOf 返回错误所属大类，非 RouterError 返回空串
func CategoryOf(err error) Category {
	if routerErr, ok := IsRouterError(err); ok {
		return routerErr.Category
	}
	return ""
}

// IsAuthorizationError 是否为授权错误
func IsAuthorizationError(err error) bool {
	return CategoryOf(err) == CategoryAuthorization
}

// Validationf 创建参数校验错误
func Validationf(format string, args ...interface{}) error {
	return ErrValidation.WithDetail(format, args...)
}

// BurstError 批处理被中止时返回的错误
//
// Error() 与原始失败原因完全一致，Index 指出失败子调用的位置。
type BurstError struct {
	Index int
	Kind  string
	Err   error
}

func (e *BurstError) Error() string {
	return e.Err.Error()
}

func (e *BurstError) Unwrap() error {
	return e.Err
}

// FailedIndex 返回导致批处理中止的子调用下标
func FailedIndex(err error) (int, bool) {
	var burstErr *BurstError
	if errors.As(err, &burstErr) {
		return burstErr.Index, true
	}
	return -1, false
}
