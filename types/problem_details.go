package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ProblemDetails 错误的 RFC7807 表示（带路由器扩展字段）
//
// **用途**：
// - 容错子调用失败时写入 BurstResult.ReturnData
// - 解析节点在 JSON-RPC error.data 中返回的结构化错误
type ProblemDetails struct {
	// RFC7807 标准字段
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Status   *int   `json:"status,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// 扩展字段（Code / Layer / UserMessage / TraceID 必填）
	Code        string                 `json:"code"`
	Category    Category               `json:"category,omitempty"`
	Layer       string                 `json:"layer"`
	UserMessage string                 `json:"userMessage"`
	Details     map[string]interface{} `json:"details,omitempty"`
	TraceID     string                 `json:"traceId"`
	Timestamp   string                 `json:"timestamp"`
}

// ErrorCodeInternal 非 RouterError 的兜底错误码
const ErrorCodeInternal = "COMMON_INTERNAL_ERROR"

// ToProblemDetails 转换为 Problem Details
//
// 哨兵错误没有 TraceID / Timestamp，转换时补齐。
func (e *RouterError) ToProblemDetails() *ProblemDetails {
	pd := &ProblemDetails{
		Title:       string(e.Category),
		Status:      statusOf(e.Category),
		Detail:      e.Detail,
		Code:        e.Code,
		Category:    e.Category,
		Layer:       e.Layer,
		UserMessage: e.UserMessage,
		Details:     e.Details,
		TraceID:     e.TraceID,
		Timestamp:   e.Timestamp,
	}
	if pd.TraceID == "" {
		pd.TraceID = uuid.New().String()
	}
	if pd.Timestamp == "" {
		pd.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return pd
}

// ProblemDetailsFromError 任意错误转 Problem Details
//
// **说明**：
// - 错误链中有 RouterError 时沿用其错误码与分类
// - 外层还包了上下文（如工作流步骤名）时，Detail 取完整错误信息
// - 其余错误归为 COMMON_INTERNAL_ERROR
func ProblemDetailsFromError(err error) *ProblemDetails {
	if routerErr, ok := IsRouterError(err); ok {
		pd := routerErr.ToProblemDetails()
		if err != error(routerErr) {
			pd.Detail = err.Error()
		}
		return pd
	}
	return (&RouterError{
		Code:        ErrorCodeInternal,
		Category:    CategoryInternal,
		Layer:       LayerRouter,
		UserMessage: "内部错误",
		Detail:      err.Error(),
	}).ToProblemDetails()
}

// NewRouterErrorFromProblemDetails 从 Problem Details 还原 RouterError
//
// 还原后的错误与同码哨兵满足 errors.Is。
func NewRouterErrorFromProblemDetails(pd *ProblemDetails) *RouterError {
	return &RouterError{
		Code:        pd.Code,
		Category:    pd.Category,
		Layer:       pd.Layer,
		UserMessage: pd.UserMessage,
		Detail:      pd.Detail,
		Details:     pd.Details,
		TraceID:     pd.TraceID,
		Timestamp:   pd.Timestamp,
	}
}

// ParseProblemDetails 解析 JSON 编码的 Problem Details
func ParseProblemDetails(data []byte) (*ProblemDetails, error) {
	var pd ProblemDetails
	if err := json.Unmarshal(data, &pd); err != nil {
		return nil, fmt.Errorf("decode problem details: %w", err)
	}
	if pd.Code == "" || pd.Layer == "" || pd.UserMessage == "" || pd.TraceID == "" {
		return nil, errors.New("missing required fields in problem details")
	}
	return &pd, nil
}

// ParseProblemDetailsFromRPCError 从 JSON-RPC 错误的 data 字段解析 Problem Details
//
// data 为 nil 或不含必填字段时返回错误；message 仅在 detail 缺失时补位。
func ParseProblemDetailsFromRPCError(message string, data interface{}) (*ProblemDetails, error) {
	if data == nil {
		return nil, errors.New("no data field in RPC error")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("invalid RPC error data: %w", err)
	}
	pd, err := ParseProblemDetails(raw)
	if err != nil {
		return nil, err
	}
	if pd.Detail == "" {
		pd.Detail = message
	}
	if pd.Timestamp == "" {
		pd.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	return pd, nil
}

func statusOf(c Category) *int {
	var s int
	switch c {
	case CategoryValidation:
		s = 400
	case CategoryInsufficientValue, CategoryBridgeFee:
		s = 402
	case CategoryAuthorization:
		s = 403
	case CategorySequencing, CategoryBatchItem:
		s = 409
	default:
		s = 500
	}
	return &s
}
