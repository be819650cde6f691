package workflow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/types"
)

// ExitParams 退出期权 / 解锁步骤
//
// PositionID 非空时先退出期权头寸取回锁仓凭证；Unlock 为 true 时解锁（凭证取自
// 退出结果或 LockID），市场份额回到调用者。
type ExitParams struct {
	PositionID *big.Int `json:"positionId,omitempty"`
	LockID     *big.Int `json:"lockId,omitempty"`
	Unlock     bool     `json:"unlock"`
}

// RemoveAssetParams 赎回出借份额步骤
type RemoveAssetParams struct {
	Fraction *big.Int `json:"fraction,omitempty"` // 为空时赎回本次解锁的全部市场份额
}

// ExitAndUnwindParams 退出并平仓
type ExitAndUnwindParams struct {
	LendMarket common.Address `json:"lendMarket"`
	DebtMarket common.Address `json:"debtMarket"`
	Registry   common.Address `json:"registry"`

	Exit               Step[ExitParams]             `json:"exit"`
	RemoveAsset        Step[RemoveAssetParams]      `json:"removeAsset"`
	Repay              Step[RepayParams]            `json:"repay"`
	RemoveCollateral   Step[RemoveCollateralParams] `json:"removeCollateral"`
	WithdrawLend       Step[WithdrawParams]         `json:"withdrawLend"`
	WithdrawCollateral Step[WithdrawParams]         `json:"withdrawCollateral"`
}

// ExitAndUnwindResult 退出并平仓结果
type ExitAndUnwindResult struct {
	LockID               *big.Int       `json:"lockId,omitempty"`
	UnlockedFraction     *big.Int       `json:"unlockedFraction,omitempty"`
	RemovedShare         *big.Int       `json:"removedShare,omitempty"`
	RepaidPart           *big.Int       `json:"repaidPart,omitempty"`
	RepaidAmount         *big.Int       `json:"repaidAmount,omitempty"`
	ReleasedShare        *big.Int       `json:"releasedShare,omitempty"`
	LendWithdrawal       *bridge.Result `json:"lendWithdrawal,omitempty"`
	CollateralWithdrawal *bridge.Result `json:"collateralWithdrawal,omitempty"`
}

// Validate 校验参数
func (p *ExitAndUnwindParams) Validate() error {
	if p == nil {
		return types.Validationf("exit-and-unwind params are nil")
	}
	if p.Exit.Enabled {
		if zeroAddress(p.Registry) {
			return types.Validationf("exit-and-unwind: registry is required to exit")
		}
		ep := p.Exit.Params
		if ep.PositionID == nil && !(ep.Unlock && ep.LockID != nil) {
			return types.Validationf("exit-and-unwind: exit needs a position id or a lock id to unlock")
		}
	}
	if (p.RemoveAsset.Enabled || p.WithdrawLend.Enabled) && zeroAddress(p.LendMarket) {
		return types.Validationf("exit-and-unwind: lend market is required")
	}
	if p.RemoveAsset.Enabled && p.RemoveAsset.Params.Fraction == nil && !(p.Exit.Enabled && p.Exit.Params.Unlock) {
		return types.Validationf("exit-and-unwind: remove asset needs a fraction or an unlock")
	}
	if (p.Repay.Enabled || p.RemoveCollateral.Enabled) && zeroAddress(p.DebtMarket) {
		return types.Validationf("exit-and-unwind: debt market is required")
	}
	if p.Repay.Enabled {
		if err := positive("repay amount", p.Repay.Params.Amount); err != nil {
			return err
		}
	}
	if p.RemoveCollateral.Enabled {
		if err := positive("collateral share", p.RemoveCollateral.Params.Share); err != nil {
			return err
		}
	}
	if p.WithdrawCollateral.Enabled && !p.RemoveCollateral.Enabled {
		return types.Validationf("exit-and-unwind: collateral withdraw requires the remove collateral step")
	}
	return nil
}

// ExitAndUnwind 退出并平仓
//
// **流程**（固定顺序）：
// 1. 跨链取出时先校验手续费
// 2. Exit：退出期权头寸，可选解锁，市场份额回到调用者
// 3. RemoveAsset：从收益借贷市场赎回份额
// 4. Repay：偿还铸债市场欠款 min(Amount, 欠款)
// 5. RemoveCollateral：释放铸债市场抵押（在还款之后）
// 6. WithdrawLend：取出本工作流中调用者净增加的出借资产份额
// 7. WithdrawCollateral：取出释放的抵押份额
//
// 两笔取出各自独立选择本链或跨链。
func (s *Service) ExitAndUnwind(ctx context.Context, cc *types.CallContext, p *ExitAndUnwindParams) (*ExitAndUnwindResult, error) {
	// 1. 参数验证与协作方解析
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var lend, debt contracts.Market
	var registry contracts.LockRegistry
	var err error
	if !zeroAddress(p.LendMarket) {
		if lend, err = s.market(p.LendMarket); err != nil {
			return nil, err
		}
	}
	if !zeroAddress(p.DebtMarket) {
		if debt, err = s.market(p.DebtMarket); err != nil {
			return nil, err
		}
	}
	if p.Exit.Enabled {
		if registry, err = s.registry(p.Registry); err != nil {
			return nil, err
		}
	}

	// 2. 手续费校验
	//
	// 出借侧的份额要到赎回之后才知道（市场份额与金库份额不是固定比例），
	// 这里只累计其附带的手续费，询价留给 Dispatch。
	var lendLeg, collateralLeg *bridge.WithdrawRequest
	if p.WithdrawLend.Enabled {
		lendLeg = p.WithdrawLend.Params.request(cc, lend.AssetID(), nil, nil)
	}
	if p.WithdrawCollateral.Enabled {
		collateralLeg = p.WithdrawCollateral.Params.request(cc, debt.CollateralID(), nil, p.RemoveCollateral.Params.Share)
	}
	if err := s.checkFees(ctx, cc, lendLeg, collateralLeg); err != nil {
		return nil, err
	}

	const name = "exit-and-unwind"
	res := &ExitAndUnwindResult{}
	err = s.atomic(ctx, name, func(ctx context.Context) error {
		var lendBefore *big.Int
		if lend != nil {
			bal, err := s.adapter.BalanceOf(ctx, cc.Caller, lend.AssetID())
			if err != nil {
				return err
			}
			lendBefore = bal
		}

		// 3. 退出期权与解锁
		if err := run(s, name, "exit", p.Exit, func(ep ExitParams) error {
			lockID := ep.LockID
			if ep.PositionID != nil {
				id, err := registry.ExitPosition(ctx, cc.Router, cc.Caller, ep.PositionID)
				if err != nil {
					return err
				}
				lockID = id
			}
			res.LockID = lockID
			if !ep.Unlock {
				return nil
			}
			owner, err := registry.LockOwner(ctx, lockID)
			if err != nil {
				return err
			}
			if owner != cc.Caller {
				return types.ErrSenderMismatch.WithDetail("lock %s is owned by %s, batch caller is %s", lockID, owner.Hex(), cc.Caller.Hex())
			}
			fraction, err := registry.Unlock(ctx, cc.Router, lockID, cc.Caller)
			if err != nil {
				return err
			}
			res.UnlockedFraction = fraction
			return nil
		}); err != nil {
			return err
		}

		// 4. 赎回出借份额
		if err := run(s, name, "removeAsset", p.RemoveAsset, func(rp RemoveAssetParams) error {
			fraction := rp.Fraction
			if fraction == nil {
				fraction = res.UnlockedFraction
			}
			share, err := lend.RemoveAsset(ctx, cc.Router, cc.Caller, cc.Caller, fraction)
			if err != nil {
				return err
			}
			res.RemovedShare = share
			return nil
		}); err != nil {
			return err
		}

		// 5. 还款
		if err := run(s, name, "repay", p.Repay, func(rp RepayParams) error {
			part, paid, err := s.repay(ctx, cc, debt, rp.Amount)
			if err != nil {
				return err
			}
			res.RepaidPart, res.RepaidAmount = part, paid
			return nil
		}); err != nil {
			return err
		}

		// 6. 释放抵押
		if err := run(s, name, "removeCollateral", p.RemoveCollateral, func(rp RemoveCollateralParams) error {
			if err := debt.RemoveCollateral(ctx, cc.Router, cc.Caller, cc.Caller, rp.Share); err != nil {
				return err
			}
			res.ReleasedShare = rp.Share
			return nil
		}); err != nil {
			return err
		}

		// 7. 出借侧取出（实时读取余额，只取本工作流中净增加的部分）
		if err := run(s, name, "withdrawLend", p.WithdrawLend, func(wp WithdrawParams) error {
			after, err := s.adapter.BalanceOf(ctx, cc.Caller, lend.AssetID())
			if err != nil {
				return err
			}
			gained := new(big.Int).Sub(after, lendBefore)
			if gained.Sign() <= 0 {
				return types.Validationf("no lending-side shares to withdraw")
			}
			out, err := s.dispatcher.Dispatch(ctx, cc, wp.request(cc, lend.AssetID(), nil, gained))
			if err != nil {
				return err
			}
			res.LendWithdrawal = out
			return nil
		}); err != nil {
			return err
		}

		// 8. 抵押侧取出
		return run(s, name, "withdrawCollateral", p.WithdrawCollateral, func(WithdrawParams) error {
			out, err := s.dispatcher.Dispatch(ctx, cc, collateralLeg)
			if err != nil {
				return err
			}
			res.CollateralWithdrawal = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
