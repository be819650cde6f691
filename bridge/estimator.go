package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/types"
)

// FeeEstimator 跨链手续费估算
type FeeEstimator interface {
	EstimateSendFee(ctx context.Context, token common.Address, dstChainID uint16, to common.Address, amount *big.Int, adapterParams []byte) (*big.Int, error)
}

// ContractEstimator 直接调用全链代币合约的 estimateSendFee
type ContractEstimator struct {
	resolver contracts.Resolver
}

// NewContractEstimator 创建合约估算器
func NewContractEstimator(resolver contracts.Resolver) *ContractEstimator {
	return &ContractEstimator{resolver: resolver}
}

// EstimateSendFee 实现 FeeEstimator
func (e *ContractEstimator) EstimateSendFee(ctx context.Context, token common.Address, dstChainID uint16, to common.Address, amount *big.Int, adapterParams []byte) (*big.Int, error) {
	oft, err := resolveOmnichain(e.resolver, token)
	if err != nil {
		return nil, err
	}
	fee, err := oft.EstimateSendFee(ctx, dstChainID, to, amount, adapterParams)
	if err != nil {
		return nil, fmt.Errorf("estimate send fee failed: %w", err)
	}
	return fee, nil
}

func resolveOmnichain(resolver contracts.Resolver, token common.Address) (contracts.OmnichainToken, error) {
	target, ok := resolver.Resolve(token)
	if !ok {
		return nil, types.Validationf("token %s not found", token.Hex())
	}
	oft, ok := target.(contracts.OmnichainToken)
	if !ok {
		return nil, types.Validationf("token %s cannot send cross-chain", token.Hex())
	}
	return oft, nil
}
