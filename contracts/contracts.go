// Package contracts 定义路由器依赖的外部协作方接口。
//
// 金库、借贷市场、代币、全链代币、锁仓登记处都是独立部署、可替换的合约，
// 路由器只通过这些接口触发状态迁移，不持有它们的状态。
// 所有写方法的第一个地址参数 caller 为直接调用者（通常是路由器），
// from 为资金 / 头寸的所有者，协作方负责校验 caller 是否被 from 授权。
package contracts

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/permit"
)

// Msg 直通调用的消息
type Msg struct {
	Sender common.Address // 直接调用者（路由器）
	Origin common.Address // 批次发起者
	Value  *big.Int       // 随调用转入的原生币
}

// Target 可被路由器直通调用的合约
type Target interface {
	Address() common.Address
	Invoke(ctx context.Context, msg Msg, payload []byte) ([]byte, error)
}

// Resolver 地址 -> 合约
type Resolver interface {
	Resolve(addr common.Address) (Target, bool)
}

// PermitTarget 支持离线签名授权的合约
type PermitTarget interface {
	Permit(ctx context.Context, grant *permit.Grant) error
}

// NativeBank 原生币账本
type NativeBank interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

// Token ERC20 代币
type Token interface {
	Target
	PermitTarget
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
	Approve(ctx context.Context, owner, spender common.Address, amount *big.Int) error
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	TransferFrom(ctx context.Context, spender, from, to common.Address, amount *big.Int) error
}

// OmnichainToken 具备跨链发送能力的代币
type OmnichainToken interface {
	Token

	// EstimateSendFee 估算发送到 dstChainID 所需的原生币手续费
	EstimateSendFee(ctx context.Context, dstChainID uint16, to common.Address, amount *big.Int, adapterParams []byte) (*big.Int, error)

	// Send 从 from 扣减 amount 并发出跨链消息；fee 由 caller 支付，多余部分退给 refund
	Send(ctx context.Context, caller, from common.Address, dstChainID uint16, to common.Address, amount *big.Int, refund common.Address, adapterParams []byte, fee *big.Int) error
}

// Vault 份额记账的多资产金库
type Vault interface {
	Target
	PermitTarget

	// DepositAsset 从 from 拉取代币并给 to 记入份额；amount 与 share 二选一（另一个为 0）
	DepositAsset(ctx context.Context, caller common.Address, assetID uint64, from, to common.Address, amount, share *big.Int) (amountOut, shareOut *big.Int, err error)

	// Withdraw 扣减 from 的份额并向 to 支付代币；amount 与 share 二选一
	Withdraw(ctx context.Context, caller common.Address, assetID uint64, from, to common.Address, amount, share *big.Int) (amountOut, shareOut *big.Int, err error)

	// Transfer 份额转账
	Transfer(ctx context.Context, caller, from, to common.Address, assetID uint64, share *big.Int) error

	ToShare(ctx context.Context, assetID uint64, amount *big.Int, roundUp bool) (*big.Int, error)
	ToAmount(ctx context.Context, assetID uint64, share *big.Int, roundUp bool) (*big.Int, error)
	BalanceOf(ctx context.Context, owner common.Address, assetID uint64) (*big.Int, error)
	AssetIDFor(ctx context.Context, token common.Address) (uint64, error)
	AssetToken(ctx context.Context, assetID uint64) (common.Address, error)
	IsApprovedForAll(ctx context.Context, owner, operator common.Address) (bool, error)
}

// Market 借贷市场（收益借贷市场与铸债市场共用同一接口）
type Market interface {
	Target
	PermitTarget

	AssetID() uint64
	CollateralID() uint64

	// AddAsset 存入 from 的资产份额，给 to 记入市场份额（fraction）
	AddAsset(ctx context.Context, caller, from, to common.Address, share *big.Int) (fraction *big.Int, err error)
	// RemoveAsset 赎回 from 的市场份额，资产份额记给 to
	RemoveAsset(ctx context.Context, caller, from, to common.Address, fraction *big.Int) (share *big.Int, err error)
	// TransferFraction 市场份额转账
	TransferFraction(ctx context.Context, caller, from, to common.Address, fraction *big.Int) error

	AddCollateral(ctx context.Context, caller, from, to common.Address, share *big.Int) error
	RemoveCollateral(ctx context.Context, caller, from, to common.Address, share *big.Int) error

	// Borrow 以 from 的抵押借出 amount，资产份额记给 to
	Borrow(ctx context.Context, caller, from, to common.Address, amount *big.Int) (part, share *big.Int, err error)
	// Repay 用 from 的资产份额偿还 to 的 part 份借款
	Repay(ctx context.Context, caller, from, to common.Address, part *big.Int) (amount *big.Int, err error)

	UserBorrowPart(ctx context.Context, user common.Address) (*big.Int, error)
	UserCollateralShare(ctx context.Context, user common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, user common.Address) (*big.Int, error)
	TotalBorrow(ctx context.Context) (Rebase, error)
}

// LockRegistry 锁仓 / 期权登记处
type LockRegistry interface {
	Target

	// Lock 把 from 在 market 上的 fraction 锁定 duration 秒，返回锁仓凭证
	Lock(ctx context.Context, caller, from, to, market common.Address, duration uint64, fraction *big.Int) (lockID *big.Int, err error)
	// Unlock 到期后解锁，市场份额退给 to
	Unlock(ctx context.Context, caller common.Address, lockID *big.Int, to common.Address) (fraction *big.Int, err error)
	// Participate 以锁仓凭证参与期权，返回头寸凭证
	Participate(ctx context.Context, caller, owner common.Address, lockID *big.Int) (positionID *big.Int, err error)
	// ExitPosition 退出期权头寸，锁仓凭证退回 owner
	ExitPosition(ctx context.Context, caller, owner common.Address, positionID *big.Int) (lockID *big.Int, err error)

	LockOwner(ctx context.Context, lockID *big.Int) (common.Address, error)
}
