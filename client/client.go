// Package client 提供访问 EVM 节点的 JSON-RPC 客户端。
//
// 路由器本身不依赖节点；客户端用于链外组件（例如跨链手续费估算）读取链上视图。
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Client JSON-RPC 客户端接口
type Client interface {
	// Call 调用 JSON-RPC 方法，返回原始 result
	Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)

	// Close 关闭连接
	Close() error
}

// NewClient 创建新的客户端
func NewClient(config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Protocol {
	case ProtocolHTTP, "":
		return NewHTTPClient(config)
	default:
		return nil, NewNotSupportedError(fmt.Sprintf("protocol %s", config.Protocol))
	}
}

// callMsg eth_call 的调用参数
type callMsg struct {
	From *common.Address `json:"from,omitempty"`
	To   common.Address  `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

// EthCall 在最新区块上执行只读合约调用
func EthCall(ctx context.Context, c Client, to common.Address, data []byte) ([]byte, error) {
	raw, err := c.Call(ctx, "eth_call", callMsg{To: to, Data: data}, "latest")
	if err != nil {
		return nil, fmt.Errorf("eth_call failed: %w", err)
	}

	var out hexutil.Bytes
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, NewInvalidResponseError(fmt.Sprintf("decode eth_call result: %v", err))
	}
	return out, nil
}

// ChainID 查询节点的链 ID
func ChainID(ctx context.Context, c Client) (uint64, error) {
	raw, err := c.Call(ctx, "eth_chainId")
	if err != nil {
		return 0, fmt.Errorf("eth_chainId failed: %w", err)
	}

	var id hexutil.Uint64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, NewInvalidResponseError(fmt.Sprintf("decode chain id: %v", err))
	}
	return uint64(id), nil
}
