package workflow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/types"
)

// MintParams 铸债步骤
type MintParams struct {
	CollateralShare *big.Int `json:"collateralShare,omitempty"` // 为空时使用本次存入的抵押份额
	Amount          *big.Int `json:"amount"`
}

// LendParams 出借步骤
type LendParams struct {
	Amount *big.Int `json:"amount,omitempty"` // 为空时出借本次铸出与存入的全部份额
}

// LockParams 锁仓步骤
type LockParams struct {
	Duration uint64   `json:"duration"` // 秒
	Fraction *big.Int `json:"fraction,omitempty"` // 为空时锁定本次出借得到的全部市场份额
}

// MintAndLendParams 铸债并出借
type MintAndLendParams struct {
	DebtMarket common.Address `json:"debtMarket"`
	LendMarket common.Address `json:"lendMarket"`
	Registry   common.Address `json:"registry"`

	DepositCollateral Step[DepositParams] `json:"depositCollateral"`
	Mint              Step[MintParams]    `json:"mint"`
	Deposit           Step[DepositParams] `json:"deposit"`
	Lend              Step[LendParams]    `json:"lend"`
	Lock              Step[LockParams]    `json:"lock"`
	Participate       Step[struct{}]      `json:"participate"`
}

// MintAndLendResult 铸债并出借结果
type MintAndLendResult struct {
	CollateralShare *big.Int `json:"collateralShare,omitempty"`
	BorrowPart      *big.Int `json:"borrowPart,omitempty"`
	BorrowShare     *big.Int `json:"borrowShare,omitempty"`
	DepositShare    *big.Int `json:"depositShare,omitempty"`
	LendFraction    *big.Int `json:"lendFraction,omitempty"`
	LockID          *big.Int `json:"lockId,omitempty"`
	PositionID      *big.Int `json:"positionId,omitempty"`
}

// Validate 校验参数（不读取链上状态）
func (p *MintAndLendParams) Validate() error {
	if p == nil {
		return types.Validationf("mint-and-lend params are nil")
	}
	if (p.DepositCollateral.Enabled || p.Mint.Enabled) && zeroAddress(p.DebtMarket) {
		return types.Validationf("mint-and-lend: debt market is required")
	}
	if (p.Deposit.Enabled || p.Lend.Enabled || p.Lock.Enabled) && zeroAddress(p.LendMarket) {
		return types.Validationf("mint-and-lend: lend market is required")
	}
	if p.DepositCollateral.Enabled {
		if err := positive("deposit collateral amount", p.DepositCollateral.Params.Amount); err != nil {
			return err
		}
	}
	if p.Mint.Enabled {
		if err := positive("mint amount", p.Mint.Params.Amount); err != nil {
			return err
		}
	}
	if p.Deposit.Enabled {
		if err := positive("deposit amount", p.Deposit.Params.Amount); err != nil {
			return err
		}
	}
	if p.Lock.Enabled {
		if zeroAddress(p.Registry) {
			return types.Validationf("mint-and-lend: registry is required to lock")
		}
		if p.Lock.Params.Duration == 0 {
			return types.Validationf("mint-and-lend: lock duration must be positive")
		}
		if p.Lock.Params.Fraction == nil && !p.Lend.Enabled {
			return types.Validationf("mint-and-lend: lock needs a fraction or a lend step")
		}
	}
	if p.Participate.Enabled && !p.Lock.Enabled {
		return types.Validationf("mint-and-lend: participate requires the lock step")
	}
	return nil
}

// MintAndLend 铸债并出借
//
// **流程**（固定顺序）：
// 1. DepositCollateral：抵押资产存入金库
// 2. Mint：抵押份额加入铸债市场并借出（铸出）债务资产
// 3. Deposit：出借资产存入金库
// 4. Lend：把份额加入收益借贷市场，市场份额记给调用者
// 5. Lock：把市场份额锁入登记处
// 6. Participate：以锁仓凭证参与期权
func (s *Service) MintAndLend(ctx context.Context, cc *types.CallContext, p *MintAndLendParams) (*MintAndLendResult, error) {
	// 1. 参数验证与协作方解析
	if err := p.Validate(); err != nil {
		return nil, err
	}
	var debt, lend contracts.Market
	var err error
	if !zeroAddress(p.DebtMarket) {
		if debt, err = s.market(p.DebtMarket); err != nil {
			return nil, err
		}
	}
	if !zeroAddress(p.LendMarket) {
		if lend, err = s.market(p.LendMarket); err != nil {
			return nil, err
		}
	}
	var registry contracts.LockRegistry
	if p.Lock.Enabled {
		if registry, err = s.registry(p.Registry); err != nil {
			return nil, err
		}
	}

	const name = "mint-and-lend"
	res := &MintAndLendResult{}
	lendable := new(big.Int) // 本次产生的出借资产份额

	err = s.atomic(ctx, name, func(ctx context.Context) error {
		var collateral *big.Int

		// 2. 存入抵押
		if err := run(s, name, "depositCollateral", p.DepositCollateral, func(dp DepositParams) error {
			receipt, err := s.deposit(ctx, cc, debt.CollateralID(), cc.Caller, dp.Amount)
			if err != nil {
				return err
			}
			collateral = receipt.Share
			return nil
		}); err != nil {
			return err
		}

		// 3. 加抵押并铸出
		if err := run(s, name, "mint", p.Mint, func(mp MintParams) error {
			share := mp.CollateralShare
			if share == nil {
				share = collateral
			}
			if share != nil && share.Sign() > 0 {
				if err := debt.AddCollateral(ctx, cc.Router, cc.Caller, cc.Caller, share); err != nil {
					return err
				}
				res.CollateralShare = share
			}
			part, borrowed, err := debt.Borrow(ctx, cc.Router, cc.Caller, cc.Caller, mp.Amount)
			if err != nil {
				return err
			}
			res.BorrowPart, res.BorrowShare = part, borrowed
			if lend != nil && debt.AssetID() == lend.AssetID() {
				lendable.Add(lendable, borrowed)
			}
			return nil
		}); err != nil {
			return err
		}

		// 4. 存入出借资产
		if err := run(s, name, "deposit", p.Deposit, func(dp DepositParams) error {
			receipt, err := s.deposit(ctx, cc, lend.AssetID(), cc.Caller, dp.Amount)
			if err != nil {
				return err
			}
			res.DepositShare = receipt.Share
			lendable.Add(lendable, receipt.Share)
			return nil
		}); err != nil {
			return err
		}

		// 5. 出借（指定数量时实时换算份额）
		if err := run(s, name, "lend", p.Lend, func(lp LendParams) error {
			share := lendable
			if lp.Amount != nil {
				converted, err := s.adapter.ToShare(ctx, lend.AssetID(), lp.Amount)
				if err != nil {
					return err
				}
				share = converted
			}
			if share.Sign() <= 0 {
				return types.Validationf("nothing to lend")
			}
			fraction, err := lend.AddAsset(ctx, cc.Router, cc.Caller, cc.Caller, share)
			if err != nil {
				return err
			}
			res.LendFraction = fraction
			return nil
		}); err != nil {
			return err
		}

		// 6. 锁仓
		if err := run(s, name, "lock", p.Lock, func(lp LockParams) error {
			fraction := lp.Fraction
			if fraction == nil {
				fraction = res.LendFraction
			}
			lockID, err := registry.Lock(ctx, cc.Router, cc.Caller, cc.Caller, p.LendMarket, lp.Duration, fraction)
			if err != nil {
				return err
			}
			res.LockID = lockID
			return nil
		}); err != nil {
			return err
		}

		// 7. 参与期权
		return run(s, name, "participate", p.Participate, func(struct{}) error {
			positionID, err := registry.Participate(ctx, cc.Router, cc.Caller, res.LockID)
			if err != nil {
				return err
			}
			res.PositionID = positionID
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
