package workflow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/types"
)

// CollateralParams 加抵押步骤
type CollateralParams struct {
	Share *big.Int `json:"share,omitempty"` // 为空时使用本次存入的份额
}

// BorrowParams 借款步骤
type BorrowParams struct {
	Amount *big.Int `json:"amount"`
}

// DepositCollateralizeBorrowParams 存入、抵押、借出（v1）
//
// v1 总是从调用者拉取抵押代币。
type DepositCollateralizeBorrowParams struct {
	Market     common.Address         `json:"market"`
	Deposit    Step[DepositParams]    `json:"deposit"`
	Collateral Step[CollateralParams] `json:"collateral"`
	Borrow     Step[BorrowParams]     `json:"borrow"`
	Withdraw   Step[WithdrawParams]   `json:"withdraw"`
}

// DepositCollateralizeBorrowV2Params 存入、抵押、借出（v2）
//
// ExtractFromSender 必填：true 从调用者拉取代币，false 使用本批次中已转给路由器的代币。
// v1 与 v2 的参数互不兼容，解码时不会互相接受。
type DepositCollateralizeBorrowV2Params struct {
	DepositCollateralizeBorrowParams
	ExtractFromSender *bool `json:"extractFromSender"`
}

// CollateralBorrowResult 存入、抵押、借出结果
type CollateralBorrowResult struct {
	DepositShare    *big.Int       `json:"depositShare,omitempty"`
	CollateralShare *big.Int       `json:"collateralShare,omitempty"`
	BorrowPart      *big.Int       `json:"borrowPart,omitempty"`
	BorrowShare     *big.Int       `json:"borrowShare,omitempty"`
	Withdrawal      *bridge.Result `json:"withdrawal,omitempty"`
}

// Validate 校验参数
func (p *DepositCollateralizeBorrowParams) Validate() error {
	if p == nil {
		return types.Validationf("deposit-collateralize-borrow params are nil")
	}
	if zeroAddress(p.Market) {
		return types.Validationf("deposit-collateralize-borrow: market is required")
	}
	if p.Deposit.Enabled {
		if err := positive("deposit amount", p.Deposit.Params.Amount); err != nil {
			return err
		}
	}
	if p.Collateral.Enabled && p.Collateral.Params.Share == nil && !p.Deposit.Enabled {
		return types.Validationf("deposit-collateralize-borrow: collateral needs a share or a deposit step")
	}
	if p.Borrow.Enabled {
		if err := positive("borrow amount", p.Borrow.Params.Amount); err != nil {
			return err
		}
	}
	if p.Withdraw.Enabled && !p.Borrow.Enabled {
		return types.Validationf("deposit-collateralize-borrow: withdraw requires the borrow step")
	}
	return nil
}

// Validate 校验参数
func (p *DepositCollateralizeBorrowV2Params) Validate() error {
	if p == nil {
		return types.Validationf("deposit-collateralize-borrow v2 params are nil")
	}
	if p.ExtractFromSender == nil {
		return types.Validationf("deposit-collateralize-borrow v2: extractFromSender is required")
	}
	return p.DepositCollateralizeBorrowParams.Validate()
}

// DepositCollateralizeBorrow 存入、抵押、借出（v1）
func (s *Service) DepositCollateralizeBorrow(ctx context.Context, cc *types.CallContext, p *DepositCollateralizeBorrowParams) (*CollateralBorrowResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.collateralBorrow(ctx, cc, p, true)
}

// DepositCollateralizeBorrowV2 存入、抵押、借出（v2）
func (s *Service) DepositCollateralizeBorrowV2(ctx context.Context, cc *types.CallContext, p *DepositCollateralizeBorrowV2Params) (*CollateralBorrowResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.collateralBorrow(ctx, cc, &p.DepositCollateralizeBorrowParams, *p.ExtractFromSender)
}

// collateralBorrow 存入、抵押、借出
//
// **流程**（固定顺序）：
// 1. 跨链取出时先校验手续费
// 2. Deposit：抵押代币存入金库，份额记给调用者
// 3. Collateral：份额加入市场抵押（先抵押后借款）
// 4. Borrow：借出，超出抵押率时市场拒绝，整个工作流撤销
// 5. Withdraw：把借出的数量取出到本链或其他链
func (s *Service) collateralBorrow(ctx context.Context, cc *types.CallContext, p *DepositCollateralizeBorrowParams, extractFromSender bool) (*CollateralBorrowResult, error) {
	m, err := s.market(p.Market)
	if err != nil {
		return nil, err
	}

	// 1. 手续费校验
	var leg *bridge.WithdrawRequest
	if p.Withdraw.Enabled {
		leg = p.Withdraw.Params.request(cc, m.AssetID(), p.Borrow.Params.Amount, nil)
	}
	if err := s.checkFees(ctx, cc, leg); err != nil {
		return nil, err
	}

	const name = "deposit-collateralize-borrow"
	res := &CollateralBorrowResult{}
	err = s.atomic(ctx, name, func(ctx context.Context) error {
		// 2. 存入
		if err := run(s, name, "deposit", p.Deposit, func(dp DepositParams) error {
			from := cc.Caller
			if !extractFromSender {
				from = cc.Router
				if err := s.approveVault(ctx, cc, m.CollateralID(), dp.Amount); err != nil {
					return err
				}
			}
			receipt, err := s.deposit(ctx, cc, m.CollateralID(), from, dp.Amount)
			if err != nil {
				return err
			}
			res.DepositShare = receipt.Share
			return nil
		}); err != nil {
			return err
		}

		// 3. 抵押
		if err := run(s, name, "collateral", p.Collateral, func(cp CollateralParams) error {
			share := cp.Share
			if share == nil {
				share = res.DepositShare
			}
			if err := m.AddCollateral(ctx, cc.Router, cc.Caller, cc.Caller, share); err != nil {
				return err
			}
			res.CollateralShare = share
			return nil
		}); err != nil {
			return err
		}

		// 4. 借出
		if err := run(s, name, "borrow", p.Borrow, func(bp BorrowParams) error {
			part, share, err := m.Borrow(ctx, cc.Router, cc.Caller, cc.Caller, bp.Amount)
			if err != nil {
				return err
			}
			res.BorrowPart, res.BorrowShare = part, share
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

// approveVault 路由器授权金库拉取其持有的代币
func (s *Service) approveVault(ctx context.Context, cc *types.CallContext, assetID uint64, amount *big.Int) error {
	v := s.adapter.Vault()
	tokenAddr, err := v.AssetToken(ctx, assetID)
	if err != nil {
		return err
	}
	target, ok := s.resolver.Resolve(tokenAddr)
	if !ok {
		return types.Validationf("token %s not found", tokenAddr.Hex())
	}
	token, ok := target.(contracts.Token)
	if !ok {
		return types.Validationf("%s is not a token", tokenAddr.Hex())
	}
	if err := token.Approve(ctx, cc.Router, v.Address(), amount); err != nil {
		return fmt.Errorf("approve vault failed: %w", err)
	}
	return nil
}
