package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/client"
	"github.com/weisyn/lending-router-go/types"
)

// oftABI 全链代币 estimateSendFee 的 ABI 片段
const oftABI = `[
  {
    "type": "function",
    "name": "estimateSendFee",
    "stateMutability": "view",
    "inputs": [
      {"name": "_dstChainId", "type": "uint16"},
      {"name": "_toAddress", "type": "bytes"},
      {"name": "_amount", "type": "uint256"},
      {"name": "_useZro", "type": "bool"},
      {"name": "_adapterParams", "type": "bytes"}
    ],
    "outputs": [
      {"name": "nativeFee", "type": "uint256"},
      {"name": "zroFee", "type": "uint256"}
    ]
  }
]`

// RPCFeeEstimator 通过节点 eth_call 读取链上代币合约的手续费报价
type RPCFeeEstimator struct {
	client client.Client
	abi    abi.ABI
}

// NewRPCFeeEstimator 创建 RPC 估算器
func NewRPCFeeEstimator(c client.Client) (*RPCFeeEstimator, error) {
	parsed, err := abi.JSON(strings.NewReader(oftABI))
	if err != nil {
		return nil, fmt.Errorf("parse oft abi failed: %w", err)
	}
	return &RPCFeeEstimator{client: c, abi: parsed}, nil
}

// CheckChainID 确认节点所在链就是本链
func (e *RPCFeeEstimator) CheckChainID(ctx context.Context, want uint64) error {
	got, err := client.ChainID(ctx, e.client)
	if err != nil {
		return err
	}
	if got != want {
		return types.Validationf("estimator endpoint is on chain %d, router is on chain %d", got, want)
	}
	return nil
}

// EstimateSendFee 实现 FeeEstimator（只取 nativeFee）
func (e *RPCFeeEstimator) EstimateSendFee(ctx context.Context, token common.Address, dstChainID uint16, to common.Address, amount *big.Int, adapterParams []byte) (*big.Int, error) {
	// 1. 编码调用
	data, err := e.abi.Pack("estimateSendFee", dstChainID, to.Bytes(), amount, false, adapterParams)
	if err != nil {
		return nil, fmt.Errorf("pack estimateSendFee failed: %w", err)
	}

	// 2. eth_call
	out, err := client.EthCall(ctx, e.client, token, data)
	if err != nil {
		return nil, err
	}

	// 3. 解码
	values, err := e.abi.Unpack("estimateSendFee", out)
	if err != nil {
		return nil, fmt.Errorf("unpack estimateSendFee failed: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("estimateSendFee returned %d values", len(values))
	}
	nativeFee, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("estimateSendFee returned %T", values[0])
	}
	return nativeFee, nil
}
