// Package vault 封装份额记账金库的存取与换算。
//
// 每次组合下游调用之前都重新向金库查询换算结果，绝不复用缓存的汇率；
// 工作流只使用 Adapter 返回的数量 / 份额，避免与金库账本产生偏差。
package vault

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/logging"
	"github.com/weisyn/lending-router-go/types"
)

// Receipt 存取结果（金库实际记账的数量与份额）
type Receipt struct {
	Amount *big.Int `json:"amount"`
	Share  *big.Int `json:"share"`
}

// DepositRequest 存入请求
type DepositRequest struct {
	AssetID uint64
	From    common.Address // 代币来源
	To      common.Address // 份额接收者
	Amount  *big.Int
}

// WithdrawRequest 按数量取出请求
type WithdrawRequest struct {
	AssetID uint64
	From    common.Address // 份额所有者
	To      common.Address // 代币接收者
	Amount  *big.Int
}

// Adapter 金库适配器
type Adapter struct {
	vault  contracts.Vault
	logger logging.Logger
}

// NewAdapter 创建金库适配器
func NewAdapter(v contracts.Vault, logger logging.Logger) *Adapter {
	return &Adapter{
		vault:  v,
		logger: logging.OrNop(logger),
	}
}

// Vault 底层金库
func (a *Adapter) Vault() contracts.Vault {
	return a.vault
}

// ToShare 存入方向换算（向下取整）
func (a *Adapter) ToShare(ctx context.Context, assetID uint64, amount *big.Int) (*big.Int, error) {
	share, err := a.vault.ToShare(ctx, assetID, amount, false)
	if err != nil {
		return nil, fmt.Errorf("vault toShare failed: %w", err)
	}
	return share, nil
}

// ToAmount 取出方向换算（向下取整）
func (a *Adapter) ToAmount(ctx context.Context, assetID uint64, share *big.Int) (*big.Int, error) {
	amount, err := a.vault.ToAmount(ctx, assetID, share, false)
	if err != nil {
		return nil, fmt.Errorf("vault toAmount failed: %w", err)
	}
	return amount, nil
}

// SharesToBurn 按数量取出时需要销毁的份额（向上取整）
func (a *Adapter) SharesToBurn(ctx context.Context, assetID uint64, amount *big.Int) (*big.Int, error) {
	share, err := a.vault.ToShare(ctx, assetID, amount, true)
	if err != nil {
		return nil, fmt.Errorf("vault toShare failed: %w", err)
	}
	return share, nil
}

// BalanceOf 份额余额（实时读取）
func (a *Adapter) BalanceOf(ctx context.Context, owner common.Address, assetID uint64) (*big.Int, error) {
	bal, err := a.vault.BalanceOf(ctx, owner, assetID)
	if err != nil {
		return nil, fmt.Errorf("vault balanceOf failed: %w", err)
	}
	return bal, nil
}

// Deposit 按数量存入
//
// **流程**：
// 1. 存入前实时读取换算结果（向下取整）
// 2. 以路由器身份调用金库 depositAsset
// 3. 校验金库实际记入的份额与预期一致
func (a *Adapter) Deposit(ctx context.Context, cc *types.CallContext, req DepositRequest) (*Receipt, error) {
	// 1. 参数验证
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, types.Validationf("deposit amount must be positive")
	}

	// 2. 实时换算
	expected, err := a.ToShare(ctx, req.AssetID, req.Amount)
	if err != nil {
		return nil, err
	}

	// 3. 存入
	amount, share, err := a.vault.DepositAsset(ctx, cc.Router, req.AssetID, req.From, req.To, req.Amount, nil)
	if err != nil {
		return nil, fmt.Errorf("vault deposit failed: %w", err)
	}

	// 4. 交叉校验
	if amount.Cmp(req.Amount) != 0 || share.Cmp(expected) != 0 {
		return nil, types.ErrConversionDrift.WithDetail("deposit asset %d: expected %s/%s, vault booked %s/%s",
			req.AssetID, req.Amount, expected, amount, share)
	}

	a.logger.Debug("vault deposit", "asset", req.AssetID, "to", req.To.Hex(), "amount", amount.String(), "share", share.String())
	return &Receipt{Amount: amount, Share: share}, nil
}

// Withdraw 按数量取出：金库恰好支付 Amount，并恰好销毁一次对应份额（向上取整）
func (a *Adapter) Withdraw(ctx context.Context, cc *types.CallContext, req WithdrawRequest) (*Receipt, error) {
	// 1. 参数验证
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, types.Validationf("withdraw amount must be positive")
	}

	// 2. 实时换算
	expected, err := a.SharesToBurn(ctx, req.AssetID, req.Amount)
	if err != nil {
		return nil, err
	}

	// 3. 取出
	amount, share, err := a.vault.Withdraw(ctx, cc.Router, req.AssetID, req.From, req.To, req.Amount, nil)
	if err != nil {
		return nil, fmt.Errorf("vault withdraw failed: %w", err)
	}

	// 4. 交叉校验
	if amount.Cmp(req.Amount) != 0 || share.Cmp(expected) != 0 {
		return nil, types.ErrConversionDrift.WithDetail("withdraw asset %d: expected %s/%s, vault booked %s/%s",
			req.AssetID, req.Amount, expected, amount, share)
	}

	a.logger.Debug("vault withdraw", "asset", req.AssetID, "from", req.From.Hex(), "amount", amount.String(), "share", share.String())
	return &Receipt{Amount: amount, Share: share}, nil
}

// WithdrawShare 按份额取出（所得数量向下取整）
func (a *Adapter) WithdrawShare(ctx context.Context, cc *types.CallContext, assetID uint64, from, to common.Address, share *big.Int) (*Receipt, error) {
	if share == nil || share.Sign() <= 0 {
		return nil, types.Validationf("withdraw share must be positive")
	}

	expected, err := a.ToAmount(ctx, assetID, share)
	if err != nil {
		return nil, err
	}

	amount, burned, err := a.vault.Withdraw(ctx, cc.Router, assetID, from, to, nil, share)
	if err != nil {
		return nil, fmt.Errorf("vault withdraw failed: %w", err)
	}
	if burned.Cmp(share) != 0 || amount.Cmp(expected) != 0 {
		return nil, types.ErrConversionDrift.WithDetail("withdraw share asset %d: expected %s/%s, vault booked %s/%s",
			assetID, expected, share, amount, burned)
	}
	return &Receipt{Amount: amount, Share: burned}, nil
}
