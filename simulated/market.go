package simulated

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/permit"
	"github.com/weisyn/lending-router-go/state"
	"github.com/weisyn/lending-router-go/types"
	"github.com/weisyn/lending-router-go/utils"
)

// MarketMode 市场类型
type MarketMode int

const (
	// ModeLending 收益借贷市场：出借人提供流动性，借款从池中划出
	ModeLending MarketMode = iota
	// ModeDebt 铸债市场：借款时铸造债务代币，还款时销毁
	ModeDebt
)

const (
	// CollateralizationPrecision 抵押率精度
	CollateralizationPrecision = 100_000
	// DefaultCollateralizationRate 默认抵押率 75%
	DefaultCollateralizationRate = 75_000
)

// ExchangeRatePrecision 预言机价格精度
var ExchangeRatePrecision = big.NewInt(1e18)

// 市场总账键
const (
	keyAssetElastic  = "asset.elastic"  // 池中可借的资产份额
	keyAssetBase     = "asset.base"     // 市场份额（fraction）总量
	keyBorrowElastic = "borrow.elastic" // 借款总额（代币数量）
	keyBorrowBase    = "borrow.base"    // 借款份额（part）总量
	keyCollateral    = "collateral"     // 抵押份额总量
)

// Market 借贷市场
//
// 不计息：借款总额只随 Borrow / Repay 变化。
// 所有违反顺序约束的操作（偿还超过欠款、取走抵押后资不抵债、流动性不足）
// 返回 ErrSequencingViolation。
type Market struct {
	backend      *Backend
	address      common.Address
	name         string
	mode         MarketMode
	vault        contracts.Vault
	debtToken    *Token
	assetID      uint64
	collateralID uint64

	// ExchangeRate 1 单位抵押品折合的资产数量（1e18 精度）
	ExchangeRate *big.Int
	// CollateralizationRate 抵押率（CollateralizationPrecision 精度）
	CollateralizationRate int64

	totals          *state.BigMap[string]
	fractions       *state.BigMap[common.Address]
	borrowParts     *state.BigMap[common.Address]
	collateralShare *state.BigMap[common.Address]
	allowances      *state.BigMap[allowanceKey]

	authorizer *permit.Authorizer
}

// MarketConfig 市场部署参数
type MarketConfig struct {
	Name         string
	Mode         MarketMode
	Vault        contracts.Vault
	AssetID      uint64
	CollateralID uint64
	// DebtToken 铸债市场的债务代币，市场会被授予铸造权
	DebtToken *Token
}

// NewMarket 部署市场
func (b *Backend) NewMarket(cfg MarketConfig) (*Market, error) {
	if cfg.Vault == nil {
		return nil, fmt.Errorf("market %s: vault is required", cfg.Name)
	}
	if cfg.Mode == ModeDebt && cfg.DebtToken == nil {
		return nil, fmt.Errorf("market %s: debt token is required in debt mode", cfg.Name)
	}
	if cfg.Name == "" {
		cfg.Name = "Market"
	}

	m := &Market{
		backend:               b,
		address:               b.NewAddress("market/" + cfg.Name),
		name:                  cfg.Name,
		mode:                  cfg.Mode,
		vault:                 cfg.Vault,
		debtToken:             cfg.DebtToken,
		assetID:               cfg.AssetID,
		collateralID:          cfg.CollateralID,
		ExchangeRate:          new(big.Int).Set(ExchangeRatePrecision),
		CollateralizationRate: DefaultCollateralizationRate,
		totals:                state.NewBigMap[string](b.Journal),
		fractions:             state.NewBigMap[common.Address](b.Journal),
		borrowParts:           state.NewBigMap[common.Address](b.Journal),
		collateralShare:       state.NewBigMap[common.Address](b.Journal),
		allowances:            state.NewBigMap[allowanceKey](b.Journal),
	}
	m.authorizer = permit.NewAuthorizer(permit.Domain{
		Name:              cfg.Name,
		Version:           "1",
		ChainID:           b.ChainID,
		VerifyingContract: m.address,
	}, b.Journal, m, b.Now, permit.KindPermit)
	if cfg.DebtToken != nil {
		cfg.DebtToken.AddMinter(m.address)
	}
	b.Register(m)
	return m, nil
}

// Address 合约地址
func (m *Market) Address() common.Address { return m.address }

// AssetID 借出资产
func (m *Market) AssetID() uint64 { return m.assetID }

// CollateralID 抵押资产
func (m *Market) CollateralID() uint64 { return m.collateralID }

// Authorizer 授权校验器
func (m *Market) Authorizer() *permit.Authorizer { return m.authorizer }

// Approve owner 给 spender 设置市场操作额度
func (m *Market) Approve(owner, spender common.Address, amount *big.Int) {
	m.allowances.Set(allowanceKey{owner, spender}, amount)
}

// Allowance 市场操作额度
func (m *Market) Allowance(owner, spender common.Address) *big.Int {
	return m.allowances.Get(allowanceKey{owner, spender})
}

// allowed 校验 caller 可代 from 操作 amount
//
// caller == from、金库全资产操作员、市场额度三者满足其一；额度按用量扣减。
func (m *Market) allowed(ctx context.Context, caller, from common.Address, amount *big.Int) error {
	if caller == from {
		return nil
	}
	ok, err := m.vault.IsApprovedForAll(ctx, from, caller)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	key := allowanceKey{from, caller}
	allowance := m.allowances.Get(key)
	if allowance.Cmp(amount) < 0 {
		return types.ErrUnauthorized.WithDetail("%s: %s not allowed to act for %s", m.name, caller.Hex(), from.Hex())
	}
	m.allowances.Set(key, new(big.Int).Sub(allowance, amount))
	return nil
}

// TotalBorrow 借款总账
func (m *Market) TotalBorrow(context.Context) (contracts.Rebase, error) {
	return m.totalBorrow(), nil
}

func (m *Market) totalBorrow() contracts.Rebase {
	return contracts.Rebase{Elastic: m.totals.Get(keyBorrowElastic), Base: m.totals.Get(keyBorrowBase)}
}

func (m *Market) totalAsset() contracts.Rebase {
	return contracts.Rebase{Elastic: m.totals.Get(keyAssetElastic), Base: m.totals.Get(keyAssetBase)}
}

// UserBorrowPart 借款份额
func (m *Market) UserBorrowPart(_ context.Context, user common.Address) (*big.Int, error) {
	return m.borrowParts.Get(user), nil
}

// UserCollateralShare 抵押份额
func (m *Market) UserCollateralShare(_ context.Context, user common.Address) (*big.Int, error) {
	return m.collateralShare.Get(user), nil
}

// BalanceOf 市场份额（fraction）
func (m *Market) BalanceOf(_ context.Context, user common.Address) (*big.Int, error) {
	return m.fractions.Get(user), nil
}

// allShare 出借人整体权益：池中份额 + 借出部分折算的份额
func (m *Market) allShare(ctx context.Context) (*big.Int, error) {
	borrowed, err := m.vault.ToShare(ctx, m.assetID, m.totals.Get(keyBorrowElastic), true)
	if err != nil {
		return nil, err
	}
	return borrowed.Add(borrowed, m.totals.Get(keyAssetElastic)), nil
}

// AddAsset 实现 contracts.Market
func (m *Market) AddAsset(ctx context.Context, caller, from, to common.Address, share *big.Int) (fraction *big.Int, err error) {
	err = m.backend.atomic(func() error {
		fraction, err = m.addAsset(ctx, caller, from, to, share)
		return err
	})
	return fraction, err
}

// RemoveAsset 实现 contracts.Market（受池中剩余流动性限制）
func (m *Market) RemoveAsset(ctx context.Context, caller, from, to common.Address, fraction *big.Int) (share *big.Int, err error) {
	err = m.backend.atomic(func() error {
		share, err = m.removeAsset(ctx, caller, from, to, fraction)
		return err
	})
	return share, err
}

// TransferFraction 实现 contracts.Market
func (m *Market) TransferFraction(ctx context.Context, caller, from, to common.Address, fraction *big.Int) error {
	return m.backend.atomic(func() error {
		return m.transferFraction(ctx, caller, from, to, fraction)
	})
}

// AddCollateral 实现 contracts.Market（from 的抵押份额记给 to）
func (m *Market) AddCollateral(ctx context.Context, caller, from, to common.Address, share *big.Int) error {
	return m.backend.atomic(func() error {
		return m.addCollateral(ctx, caller, from, to, share)
	})
}

// RemoveCollateral 实现 contracts.Market（移除后 from 必须仍然偿付能力充足）
func (m *Market) RemoveCollateral(ctx context.Context, caller, from, to common.Address, share *big.Int) error {
	return m.backend.atomic(func() error {
		return m.removeCollateral(ctx, caller, from, to, share)
	})
}

// Borrow 实现 contracts.Market（借款后 from 必须仍然偿付能力充足）
func (m *Market) Borrow(ctx context.Context, caller, from, to common.Address, amount *big.Int) (part, share *big.Int, err error) {
	err = m.backend.atomic(func() error {
		part, share, err = m.borrow(ctx, caller, from, to, amount)
		return err
	})
	return part, share, err
}

// Repay 实现 contracts.Market（from 付款，to 的欠款减少 part）
func (m *Market) Repay(ctx context.Context, caller, from, to common.Address, part *big.Int) (amount *big.Int, err error) {
	err = m.backend.atomic(func() error {
		amount, err = m.repay(ctx, caller, from, to, part)
		return err
	})
	return amount, err
}

func (m *Market) addAsset(ctx context.Context, caller, from, to common.Address, share *big.Int) (*big.Int, error) {
	if err := positive("share", share); err != nil {
		return nil, err
	}
	if err := m.allowed(ctx, caller, from, share); err != nil {
		return nil, err
	}

	total := m.totalAsset()
	fraction := new(big.Int).Set(share)
	if total.Base.Sign() > 0 {
		all, err := m.allShare(ctx)
		if err != nil {
			return nil, err
		}
		fraction = contracts.MulDiv(share, total.Base, all, false)
	}
	if fraction.Sign() == 0 {
		return nil, types.Validationf("%s: share %s rounds to zero fraction", m.name, share)
	}

	if err := m.vault.Transfer(ctx, m.address, from, m.address, m.assetID, share); err != nil {
		return nil, fmt.Errorf("%s: pull asset share failed: %w", m.name, err)
	}
	m.totals.Add(keyAssetElastic, share)
	m.totals.Add(keyAssetBase, fraction)
	m.fractions.Add(to, fraction)
	return fraction, nil
}

func (m *Market) removeAsset(ctx context.Context, caller, from, to common.Address, fraction *big.Int) (*big.Int, error) {
	if err := positive("fraction", fraction); err != nil {
		return nil, err
	}
	if err := m.allowed(ctx, caller, from, fraction); err != nil {
		return nil, err
	}
	if bal := m.fractions.Get(from); bal.Cmp(fraction) < 0 {
		return nil, types.ErrSequencingViolation.WithDetail("%s: remove %s fraction exceeds balance %s", m.name, fraction, bal)
	}

	total := m.totalAsset()
	all, err := m.allShare(ctx)
	if err != nil {
		return nil, err
	}
	share := contracts.MulDiv(fraction, all, total.Base, false)
	if share.Cmp(total.Elastic) > 0 {
		return nil, types.ErrSequencingViolation.WithDetail("%s: insufficient liquidity: want %s shares, have %s", m.name, share, total.Elastic)
	}

	m.fractions.Add(from, new(big.Int).Neg(fraction))
	m.totals.Add(keyAssetElastic, new(big.Int).Neg(share))
	m.totals.Add(keyAssetBase, new(big.Int).Neg(fraction))
	if err := m.vault.Transfer(ctx, m.address, m.address, to, m.assetID, share); err != nil {
		return nil, fmt.Errorf("%s: release asset share failed: %w", m.name, err)
	}
	return share, nil
}

func (m *Market) transferFraction(ctx context.Context, caller, from, to common.Address, fraction *big.Int) error {
	if err := positive("fraction", fraction); err != nil {
		return err
	}
	if err := m.allowed(ctx, caller, from, fraction); err != nil {
		return err
	}
	if bal := m.fractions.Get(from); bal.Cmp(fraction) < 0 {
		return types.ErrSequencingViolation.WithDetail("%s: transfer %s fraction exceeds balance %s", m.name, fraction, bal)
	}
	m.fractions.Add(from, new(big.Int).Neg(fraction))
	m.fractions.Add(to, fraction)
	return nil
}

func (m *Market) addCollateral(ctx context.Context, caller, from, to common.Address, share *big.Int) error {
	if err := positive("share", share); err != nil {
		return err
	}
	if err := m.allowed(ctx, caller, from, share); err != nil {
		return err
	}
	if err := m.vault.Transfer(ctx, m.address, from, m.address, m.collateralID, share); err != nil {
		return fmt.Errorf("%s: pull collateral share failed: %w", m.name, err)
	}
	m.collateralShare.Add(to, share)
	m.totals.Add(keyCollateral, share)
	return nil
}

func (m *Market) removeCollateral(ctx context.Context, caller, from, to common.Address, share *big.Int) error {
	if err := positive("share", share); err != nil {
		return err
	}
	if err := m.allowed(ctx, caller, from, share); err != nil {
		return err
	}
	if bal := m.collateralShare.Get(from); bal.Cmp(share) < 0 {
		return types.ErrSequencingViolation.WithDetail("%s: remove %s collateral exceeds %s of %s", m.name, share, bal, from.Hex())
	}

	m.collateralShare.Add(from, new(big.Int).Neg(share))
	m.totals.Add(keyCollateral, new(big.Int).Neg(share))
	if err := m.requireSolvent(ctx, from); err != nil {
		return err
	}
	if err := m.vault.Transfer(ctx, m.address, m.address, to, m.collateralID, share); err != nil {
		return fmt.Errorf("%s: release collateral share failed: %w", m.name, err)
	}
	return nil
}

func (m *Market) borrow(ctx context.Context, caller, from, to common.Address, amount *big.Int) (*big.Int, *big.Int, error) {
	if err := positive("amount", amount); err != nil {
		return nil, nil, err
	}
	if err := m.allowed(ctx, caller, from, amount); err != nil {
		return nil, nil, err
	}

	part := m.totalBorrow().ToBase(amount, true)
	m.totals.Add(keyBorrowElastic, amount)
	m.totals.Add(keyBorrowBase, part)
	m.borrowParts.Add(from, part)
	if err := m.requireSolvent(ctx, from); err != nil {
		return nil, nil, err
	}

	var share *big.Int
	switch m.mode {
	case ModeDebt:
		if err := m.debtToken.MintFrom(m.address, m.address, amount); err != nil {
			return nil, nil, err
		}
		if err := m.debtToken.Approve(ctx, m.address, m.vault.Address(), amount); err != nil {
			return nil, nil, err
		}
		_, out, err := m.vault.DepositAsset(ctx, m.address, m.assetID, m.address, to, amount, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: deposit minted debt failed: %w", m.name, err)
		}
		share = out
	default:
		out, err := m.vault.ToShare(ctx, m.assetID, amount, false)
		if err != nil {
			return nil, nil, err
		}
		if available := m.totals.Get(keyAssetElastic); available.Cmp(out) < 0 {
			return nil, nil, types.ErrSequencingViolation.WithDetail("%s: insufficient liquidity: want %s shares, have %s", m.name, out, available)
		}
		m.totals.Add(keyAssetElastic, new(big.Int).Neg(out))
		if err := m.vault.Transfer(ctx, m.address, m.address, to, m.assetID, out); err != nil {
			return nil, nil, fmt.Errorf("%s: release borrowed share failed: %w", m.name, err)
		}
		share = out
	}
	return part, share, nil
}

func (m *Market) repay(ctx context.Context, caller, from, to common.Address, part *big.Int) (*big.Int, error) {
	if err := positive("part", part); err != nil {
		return nil, err
	}
	if owed := m.borrowParts.Get(to); owed.Cmp(part) < 0 {
		return nil, types.ErrSequencingViolation.WithDetail("%s: repay part %s exceeds debt %s of %s", m.name, part, owed, to.Hex())
	}
	if err := m.allowed(ctx, caller, from, part); err != nil {
		return nil, err
	}

	amount := m.totalBorrow().ToElastic(part, true)
	m.borrowParts.Add(to, new(big.Int).Neg(part))
	m.totals.Add(keyBorrowElastic, new(big.Int).Neg(amount))
	m.totals.Add(keyBorrowBase, new(big.Int).Neg(part))

	switch m.mode {
	case ModeDebt:
		if _, _, err := m.vault.Withdraw(ctx, m.address, m.assetID, from, m.address, amount, nil); err != nil {
			return nil, fmt.Errorf("%s: collect repayment failed: %w", m.name, err)
		}
		if err := m.debtToken.BurnFrom(m.address, m.address, amount); err != nil {
			return nil, err
		}
	default:
		share, err := m.vault.ToShare(ctx, m.assetID, amount, true)
		if err != nil {
			return nil, err
		}
		if err := m.vault.Transfer(ctx, m.address, from, m.address, m.assetID, share); err != nil {
			return nil, fmt.Errorf("%s: collect repayment failed: %w", m.name, err)
		}
		m.totals.Add(keyAssetElastic, share)
	}
	return amount, nil
}

// IsSolvent 抵押价值 * 抵押率 >= 欠款
func (m *Market) IsSolvent(ctx context.Context, user common.Address) (bool, error) {
	part := m.borrowParts.Get(user)
	if part.Sign() == 0 {
		return true, nil
	}
	owed := m.totalBorrow().ToElastic(part, true)

	collateral, err := m.vault.ToAmount(ctx, m.collateralID, m.collateralShare.Get(user), false)
	if err != nil {
		return false, err
	}
	value := new(big.Int).Mul(collateral, m.ExchangeRate)
	value.Mul(value, big.NewInt(m.CollateralizationRate))
	value.Quo(value, new(big.Int).Mul(ExchangeRatePrecision, big.NewInt(CollateralizationPrecision)))
	return value.Cmp(owed) >= 0, nil
}

func (m *Market) requireSolvent(ctx context.Context, user common.Address) error {
	ok, err := m.IsSolvent(ctx, user)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrSequencingViolation.WithDetail("%s: %s would be insolvent", m.name, user.Hex())
	}
	return nil
}

// Permit 实现 contracts.PermitTarget
func (m *Market) Permit(ctx context.Context, grant *permit.Grant) error {
	return m.authorizer.Consume(ctx, grant)
}

// ApplyPermit 实现 permit.Applier
func (m *Market) ApplyPermit(owner, spender common.Address, value *big.Int) error {
	m.Approve(owner, spender, value)
	return nil
}

// ApplyPermitAsset 实现 permit.Applier（市场不支持）
func (m *Market) ApplyPermitAsset(common.Address, common.Address, uint64) error {
	return fmt.Errorf("%s: asset permits not supported", m.name)
}

// ApplyPermitAll 实现 permit.Applier（市场不支持）
func (m *Market) ApplyPermitAll(common.Address, common.Address) error {
	return fmt.Errorf("%s: operator permits not supported", m.name)
}

func positive(name string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return types.Validationf("%s must be positive", name)
	}
	return nil
}

type marketArgs struct {
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Share    *big.Int       `json:"share,omitempty"`
	Fraction *big.Int       `json:"fraction,omitempty"`
	Amount   *big.Int       `json:"amount,omitempty"`
	Part     *big.Int       `json:"part,omitempty"`
}

type borrowResult struct {
	Part  *big.Int `json:"part"`
	Share *big.Int `json:"share"`
}

// Invoke 实现 contracts.Target
func (m *Market) Invoke(ctx context.Context, msg contracts.Msg, payload []byte) ([]byte, error) {
	env, err := utils.DecodeCall(payload)
	if err != nil {
		return nil, err
	}

	if env.Method == contracts.MethodPermit {
		var g permit.Grant
		if err := env.Bind(&g); err != nil {
			return nil, err
		}
		return nil, m.Permit(ctx, &g)
	}

	var args marketArgs
	if err := env.Bind(&args); err != nil {
		return nil, err
	}
	caller := msg.Sender

	switch env.Method {
	case contracts.MethodAddAsset:
		fraction, err := m.AddAsset(ctx, caller, args.From, args.To, args.Share)
		if err != nil {
			return nil, err
		}
		return utils.EncodeResult(fraction)
	case contracts.MethodRemoveAsset:
		share, err := m.RemoveAsset(ctx, caller, args.From, args.To, args.Fraction)
		if err != nil {
			return nil, err
		}
		return utils.EncodeResult(share)
	case contracts.MethodAddCollateral:
		return nil, m.AddCollateral(ctx, caller, args.From, args.To, args.Share)
	case contracts.MethodRemoveCollateral:
		return nil, m.RemoveCollateral(ctx, caller, args.From, args.To, args.Share)
	case contracts.MethodBorrow:
		part, share, err := m.Borrow(ctx, caller, args.From, args.To, args.Amount)
		if err != nil {
			return nil, err
		}
		return utils.EncodeResult(borrowResult{Part: part, Share: share})
	case contracts.MethodRepay:
		amount, err := m.Repay(ctx, caller, args.From, args.To, args.Part)
		if err != nil {
			return nil, err
		}
		return utils.EncodeResult(amount)
	case contracts.MethodTransfer:
		return nil, m.TransferFraction(ctx, caller, args.From, args.To, args.Fraction)
	default:
		return nil, fmt.Errorf("%s: unknown method %q", m.name, env.Method)
	}
}
