package workflow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/types"
)

// RepayAndReleaseParams 还款并释放抵押
type RepayAndReleaseParams struct {
	Market           common.Address               `json:"market"`
	Deposit          Step[DepositParams]          `json:"deposit"`
	Repay            Step[RepayParams]            `json:"repay"`
	RemoveCollateral Step[RemoveCollateralParams] `json:"removeCollateral"`
	Withdraw         Step[WithdrawParams]         `json:"withdraw"`
}

// RepayAndReleaseResult 还款并释放抵押结果
type RepayAndReleaseResult struct {
	DepositShare  *big.Int       `json:"depositShare,omitempty"`
	RepaidPart    *big.Int       `json:"repaidPart,omitempty"`
	RepaidAmount  *big.Int       `json:"repaidAmount,omitempty"`
	ReleasedShare *big.Int       `json:"releasedShare,omitempty"`
	Withdrawal    *bridge.Result `json:"withdrawal,omitempty"`
}

// Validate 校验参数
func (p *RepayAndReleaseParams) Validate() error {
	if p == nil {
		return types.Validationf("repay-and-release params are nil")
	}
	if zeroAddress(p.Market) {
		return types.Validationf("repay-and-release: market is required")
	}
	if p.Deposit.Enabled {
		if err := positive("deposit amount", p.Deposit.Params.Amount); err != nil {
			return err
		}
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
	if p.Withdraw.Enabled && !p.RemoveCollateral.Enabled {
		return types.Validationf("repay-and-release: withdraw requires the remove collateral step")
	}
	return nil
}

// RepayAndRelease 还款并释放抵押
//
// **流程**（固定顺序）：
// 1. 跨链取出时先校验手续费
// 2. Deposit：还款资产存入金库
// 3. Repay：偿还 min(Amount, 欠款)，欠款不会变为负数
// 4. RemoveCollateral：释放抵押份额给调用者（在还款之后，市场检查偿付能力）
// 5. Withdraw：取出释放的抵押
func (s *Service) RepayAndRelease(ctx context.Context, cc *types.CallContext, p *RepayAndReleaseParams) (*RepayAndReleaseResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m, err := s.market(p.Market)
	if err != nil {
		return nil, err
	}

	// 1. 手续费校验
	var leg *bridge.WithdrawRequest
	if p.Withdraw.Enabled {
		leg = p.Withdraw.Params.request(cc, m.CollateralID(), nil, p.RemoveCollateral.Params.Share)
	}
	if err := s.checkFees(ctx, cc, leg); err != nil {
		return nil, err
	}

	const name = "repay-and-release"
	res := &RepayAndReleaseResult{}
	err = s.atomic(ctx, name, func(ctx context.Context) error {
		// 2. 存入还款资产
		if err := run(s, name, "deposit", p.Deposit, func(dp DepositParams) error {
			receipt, err := s.deposit(ctx, cc, m.AssetID(), cc.Caller, dp.Amount)
			if err != nil {
				return err
			}
			res.DepositShare = receipt.Share
			return nil
		}); err != nil {
			return err
		}

		// 3. 还款
		if err := run(s, name, "repay", p.Repay, func(rp RepayParams) error {
			part, paid, err := s.repay(ctx, cc, m, rp.Amount)
			if err != nil {
				return err
			}
			res.RepaidPart, res.RepaidAmount = part, paid
			return nil
		}); err != nil {
			return err
		}

		// 4. 释放抵押
		if err := run(s, name, "removeCollateral", p.RemoveCollateral, func(rp RemoveCollateralParams) error {
			if err := m.RemoveCollateral(ctx, cc.Router, cc.Caller, cc.Caller, rp.Share); err != nil {
				return err
			}
			res.ReleasedShare = rp.Share
			return nil
		}); err != nil {
			return err
		}

		// 5. 取出
		return run(s, name, "withdraw", p.Withdraw, func(WithdrawParams) error {
			out, err := s.dispatcher.Dispatch(ctx, cc, leg)
			if err != nil {
				return err
			}
			res.Withdrawal = out
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
