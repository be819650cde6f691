package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Envelope 直通调用 payload 的统一外壳
//
// payload 为 JSON：{"method": "borrow", "args": {...}}。
// args 中的 "from" 为保留字段，表示资金 / 头寸所有者，路由器据此做调用者校验。
type Envelope struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// reservedFrom 保留字段名
const reservedFrom = "from"

// EncodeCall 构建直通调用 payload
func EncodeCall(method string, args interface{}) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("method cannot be empty")
	}

	env := Envelope{Method: method}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal %s args failed: %w", method, err)
		}
		env.Args = raw
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope failed: %w", err)
	}
	return payload, nil
}

// MustEncodeCall EncodeCall 的 panic 版本（仅用于常量化的调用构造）
func MustEncodeCall(method string, args interface{}) []byte {
	payload, err := EncodeCall(method, args)
	if err != nil {
		panic(err)
	}
	return payload
}

// DecodeCall 解析 payload 外壳
func DecodeCall(payload []byte) (*Envelope, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("decode payload envelope failed: %w", err)
	}
	if env.Method == "" {
		return nil, fmt.Errorf("payload method is empty")
	}
	return &env, nil
}

// Bind 严格解码 args 到 dst（不允许未知字段）
func (e *Envelope) Bind(dst interface{}) error {
	if len(e.Args) == 0 {
		return fmt.Errorf("%s: missing args", e.Method)
	}
	return DecodeStrict(e.Args, dst)
}

// From 读取保留字段 from（不存在返回 false）
//
// args 解码到结构体时字段名不区分大小写，因此 "From"、"FROM" 等写法一律拒绝，
// 保证校验的字段就是最终绑定的字段。
func (e *Envelope) From() (common.Address, bool, error) {
	if len(e.Args) == 0 {
		return common.Address{}, false, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(e.Args, &fields); err != nil {
		// args 不是对象时没有 from 字段
		return common.Address{}, false, nil
	}
	for key := range fields {
		if key != reservedFrom && strings.EqualFold(key, reservedFrom) {
			return common.Address{}, false, fmt.Errorf("%s: field %q must be spelled %q", e.Method, key, reservedFrom)
		}
	}
	raw, ok := fields[reservedFrom]
	if !ok {
		return common.Address{}, false, nil
	}
	var from common.Address
	if err := json.Unmarshal(raw, &from); err != nil {
		return common.Address{}, false, fmt.Errorf("%s: invalid from field: %w", e.Method, err)
	}
	return from, true, nil
}

// DecodeStrict 严格 JSON 解码：未知字段视为错误
//
// 不同版本的参数结构不会被静默地互相接受。
func DecodeStrict(data []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode args failed: %w", err)
	}
	return nil
}

// EncodeResult 编码返回数据
func EncodeResult(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result failed: %w", err)
	}
	return out, nil
}
