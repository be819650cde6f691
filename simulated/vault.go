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

// shareOffset 份额虚拟偏移：空资产时 1 单位代币 = 1e8 份额，抵御首存者通胀攻击
var shareOffset = big.NewInt(1e8)

type assetKey struct {
	owner   common.Address
	assetID uint64
}

type operatorKey struct {
	owner, operator common.Address
}

type assetOperatorKey struct {
	owner, operator common.Address
	assetID         uint64
}

// Vault 份额记账的多资产金库
//
// 份额换算：
//
//	share  = amount * (totalShare + 1e8) / (totalAmount + 1)
//	amount = share * (totalAmount + 1) / (totalShare + 1e8)
type Vault struct {
	backend *Backend
	address common.Address

	assets   []contracts.Token // assetID-1 -> token
	assetIDs map[common.Address]uint64

	balances    *state.BigMap[assetKey]
	totalShare  *state.BigMap[uint64]
	totalAmount *state.BigMap[uint64]

	approvedAll   *state.Map[operatorKey, bool]
	approvedAsset *state.Map[assetOperatorKey, bool]

	authorizer *permit.Authorizer
}

// NewVault 部署金库
func (b *Backend) NewVault() *Vault {
	v := &Vault{
		backend:       b,
		address:       b.NewAddress("vault"),
		assetIDs:      make(map[common.Address]uint64),
		balances:      state.NewBigMap[assetKey](b.Journal),
		totalShare:    state.NewBigMap[uint64](b.Journal),
		totalAmount:   state.NewBigMap[uint64](b.Journal),
		approvedAll:   state.NewMap[operatorKey, bool](b.Journal),
		approvedAsset: state.NewMap[assetOperatorKey, bool](b.Journal),
	}
	v.authorizer = permit.NewAuthorizer(permit.Domain{
		Name:              "Vault",
		Version:           "1",
		ChainID:           b.ChainID,
		VerifyingContract: v.address,
	}, b.Journal, v, b.Now, permit.KindPermitAsset, permit.KindPermitAll)
	b.Register(v)
	return v
}

// Address 合约地址
func (v *Vault) Address() common.Address { return v.address }

// Authorizer 授权校验器
func (v *Vault) Authorizer() *permit.Authorizer { return v.authorizer }

// RegisterAsset 注册代币资产，返回 assetID（从 1 开始）
func (v *Vault) RegisterAsset(token contracts.Token) uint64 {
	if id, ok := v.assetIDs[token.Address()]; ok {
		return id
	}
	v.assets = append(v.assets, token)
	id := uint64(len(v.assets))
	v.assetIDs[token.Address()] = id
	return id
}

func (v *Vault) token(assetID uint64) (contracts.Token, error) {
	if assetID == 0 || assetID > uint64(len(v.assets)) {
		return nil, types.Validationf("vault: unknown asset %d", assetID)
	}
	return v.assets[assetID-1], nil
}

// AssetIDFor 代币地址 -> assetID
func (v *Vault) AssetIDFor(_ context.Context, token common.Address) (uint64, error) {
	id, ok := v.assetIDs[token]
	if !ok {
		return 0, types.Validationf("vault: token %s not registered", token.Hex())
	}
	return id, nil
}

// AssetToken assetID -> 代币地址
func (v *Vault) AssetToken(_ context.Context, assetID uint64) (common.Address, error) {
	t, err := v.token(assetID)
	if err != nil {
		return common.Address{}, err
	}
	return t.Address(), nil
}

// SetApprovalForAll owner 授予 / 撤销 operator 全资产操作权
func (v *Vault) SetApprovalForAll(owner, operator common.Address, approved bool) {
	v.approvedAll.Set(operatorKey{owner, operator}, approved)
}

// SetApprovalForAsset owner 授予 / 撤销 operator 单资产操作权
func (v *Vault) SetApprovalForAsset(owner, operator common.Address, assetID uint64, approved bool) {
	v.approvedAsset.Set(assetOperatorKey{owner, operator, assetID}, approved)
}

// IsApprovedForAll 是否为全资产操作员
func (v *Vault) IsApprovedForAll(_ context.Context, owner, operator common.Address) (bool, error) {
	ok, _ := v.approvedAll.Get(operatorKey{owner, operator})
	return ok, nil
}

func (v *Vault) allowed(caller, from common.Address, assetID uint64) error {
	if caller == from {
		return nil
	}
	if ok, _ := v.approvedAll.Get(operatorKey{from, caller}); ok {
		return nil
	}
	if ok, _ := v.approvedAsset.Get(assetOperatorKey{from, caller, assetID}); ok {
		return nil
	}
	return types.ErrUnauthorized.WithDetail("vault: %s not approved by %s for asset %d", caller.Hex(), from.Hex(), assetID)
}

// ToShare 代币数量 -> 份额
func (v *Vault) ToShare(_ context.Context, assetID uint64, amount *big.Int, roundUp bool) (*big.Int, error) {
	if _, err := v.token(assetID); err != nil {
		return nil, err
	}
	return v.toShare(assetID, amount, roundUp), nil
}

// ToAmount 份额 -> 代币数量
func (v *Vault) ToAmount(_ context.Context, assetID uint64, share *big.Int, roundUp bool) (*big.Int, error) {
	if _, err := v.token(assetID); err != nil {
		return nil, err
	}
	return v.toAmount(assetID, share, roundUp), nil
}

func (v *Vault) toShare(assetID uint64, amount *big.Int, roundUp bool) *big.Int {
	totalShare := new(big.Int).Add(v.totalShare.Get(assetID), shareOffset)
	totalAmount := new(big.Int).Add(v.totalAmount.Get(assetID), big.NewInt(1))
	return contracts.MulDiv(amount, totalShare, totalAmount, roundUp)
}

func (v *Vault) toAmount(assetID uint64, share *big.Int, roundUp bool) *big.Int {
	totalShare := new(big.Int).Add(v.totalShare.Get(assetID), shareOffset)
	totalAmount := new(big.Int).Add(v.totalAmount.Get(assetID), big.NewInt(1))
	return contracts.MulDiv(share, totalAmount, totalShare, roundUp)
}

// BalanceOf 份额余额
func (v *Vault) BalanceOf(_ context.Context, owner common.Address, assetID uint64) (*big.Int, error) {
	return v.balances.Get(assetKey{owner, assetID}), nil
}

// TotalAmount 资产托管的代币总量
func (v *Vault) TotalAmount(assetID uint64) *big.Int {
	return v.totalAmount.Get(assetID)
}

// DepositAsset 实现 contracts.Vault
//
// 按数量存入时份额向下取整，按份额存入时所需数量向上取整。
func (v *Vault) DepositAsset(ctx context.Context, caller common.Address, assetID uint64, from, to common.Address, amount, share *big.Int) (amountOut, shareOut *big.Int, err error) {
	err = v.backend.atomic(func() error {
		amountOut, shareOut, err = v.deposit(ctx, caller, assetID, from, to, amount, share)
		return err
	})
	return amountOut, shareOut, err
}

// Withdraw 实现 contracts.Vault
//
// 按数量取出时需销毁的份额向上取整，按份额取出时所得数量向下取整。
func (v *Vault) Withdraw(ctx context.Context, caller common.Address, assetID uint64, from, to common.Address, amount, share *big.Int) (amountOut, shareOut *big.Int, err error) {
	err = v.backend.atomic(func() error {
		amountOut, shareOut, err = v.withdraw(ctx, caller, assetID, from, to, amount, share)
		return err
	})
	return amountOut, shareOut, err
}

func (v *Vault) deposit(ctx context.Context, caller common.Address, assetID uint64, from, to common.Address, amount, share *big.Int) (*big.Int, *big.Int, error) {
	token, err := v.token(assetID)
	if err != nil {
		return nil, nil, err
	}
	if err := v.allowed(caller, from, assetID); err != nil {
		return nil, nil, err
	}
	amount, share, err = v.resolve(assetID, amount, share, false)
	if err != nil {
		return nil, nil, err
	}
	if share.Sign() == 0 {
		return nil, nil, types.Validationf("vault: deposit of %s rounds to zero shares", amount)
	}

	if err := token.TransferFrom(ctx, v.address, from, v.address, amount); err != nil {
		return nil, nil, fmt.Errorf("vault: pull tokens failed: %w", err)
	}
	v.balances.Add(assetKey{to, assetID}, share)
	v.totalShare.Add(assetID, share)
	v.totalAmount.Add(assetID, amount)
	return amount, share, nil
}

func (v *Vault) withdraw(ctx context.Context, caller common.Address, assetID uint64, from, to common.Address, amount, share *big.Int) (*big.Int, *big.Int, error) {
	token, err := v.token(assetID)
	if err != nil {
		return nil, nil, err
	}
	if err := v.allowed(caller, from, assetID); err != nil {
		return nil, nil, err
	}
	amount, share, err = v.resolve(assetID, amount, share, true)
	if err != nil {
		return nil, nil, err
	}

	key := assetKey{from, assetID}
	if bal := v.balances.Get(key); bal.Cmp(share) < 0 {
		return nil, nil, types.Validationf("vault: withdraw %s shares exceeds balance %s of %s", share, bal, from.Hex())
	}
	v.balances.Add(key, new(big.Int).Neg(share))
	v.totalShare.Add(assetID, new(big.Int).Neg(share))
	v.totalAmount.Add(assetID, new(big.Int).Neg(amount))

	if err := token.Transfer(ctx, v.address, to, amount); err != nil {
		return nil, nil, fmt.Errorf("vault: pay out tokens failed: %w", err)
	}
	return amount, share, nil
}

// resolve 根据 amount / share 二选一补全另一个
//
// outflow 为 true 时（取出）份额向上、数量向下取整；否则（存入）份额向下、数量向上取整。
func (v *Vault) resolve(assetID uint64, amount, share *big.Int, outflow bool) (*big.Int, *big.Int, error) {
	hasAmount := amount != nil && amount.Sign() != 0
	hasShare := share != nil && share.Sign() != 0
	switch {
	case hasAmount == hasShare:
		return nil, nil, types.Validationf("vault: exactly one of amount and share must be set")
	case (amount != nil && amount.Sign() < 0) || (share != nil && share.Sign() < 0):
		return nil, nil, types.Validationf("vault: negative amount or share")
	case hasAmount:
		return new(big.Int).Set(amount), v.toShare(assetID, amount, outflow), nil
	default:
		return v.toAmount(assetID, share, !outflow), new(big.Int).Set(share), nil
	}
}

// Transfer 实现 contracts.Vault
func (v *Vault) Transfer(_ context.Context, caller, from, to common.Address, assetID uint64, share *big.Int) error {
	if _, err := v.token(assetID); err != nil {
		return err
	}
	if err := v.allowed(caller, from, assetID); err != nil {
		return err
	}
	if share == nil || share.Sign() < 0 {
		return types.Validationf("vault: invalid share")
	}
	key := assetKey{from, assetID}
	if bal := v.balances.Get(key); bal.Cmp(share) < 0 {
		return types.Validationf("vault: transfer %s shares exceeds balance %s of %s", share, bal, from.Hex())
	}
	v.balances.Add(key, new(big.Int).Neg(share))
	v.balances.Add(assetKey{to, assetID}, share)
	return nil
}

// Permit 实现 contracts.PermitTarget
func (v *Vault) Permit(ctx context.Context, grant *permit.Grant) error {
	return v.authorizer.Consume(ctx, grant)
}

// ApplyPermit 实现 permit.Applier（金库不支持额度授权）
func (v *Vault) ApplyPermit(common.Address, common.Address, *big.Int) error {
	return fmt.Errorf("vault: value permits not supported")
}

// ApplyPermitAsset 实现 permit.Applier
func (v *Vault) ApplyPermitAsset(owner, spender common.Address, assetID uint64) error {
	if _, err := v.token(assetID); err != nil {
		return err
	}
	v.SetApprovalForAsset(owner, spender, assetID, true)
	return nil
}

// ApplyPermitAll 实现 permit.Applier
func (v *Vault) ApplyPermitAll(owner, spender common.Address) error {
	v.SetApprovalForAll(owner, spender, true)
	return nil
}

type vaultMoveArgs struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	AssetID uint64         `json:"assetId"`
	Amount  *big.Int       `json:"amount,omitempty"`
	Share   *big.Int       `json:"share,omitempty"`
}

type vaultMoveResult struct {
	Amount *big.Int `json:"amount"`
	Share  *big.Int `json:"share"`
}

// Invoke 实现 contracts.Target
func (v *Vault) Invoke(ctx context.Context, msg contracts.Msg, payload []byte) ([]byte, error) {
	env, err := utils.DecodeCall(payload)
	if err != nil {
		return nil, err
	}

	switch env.Method {
	case contracts.MethodPermit, contracts.MethodPermitAsset, contracts.MethodPermitAll:
		var g permit.Grant
		if err := env.Bind(&g); err != nil {
			return nil, err
		}
		return nil, v.Permit(ctx, &g)

	case contracts.MethodDepositAsset, contracts.MethodWithdraw:
		var args vaultMoveArgs
		if err := env.Bind(&args); err != nil {
			return nil, err
		}
		op := v.DepositAsset
		if env.Method == contracts.MethodWithdraw {
			op = v.Withdraw
		}
		amount, share, err := op(ctx, msg.Sender, args.AssetID, args.From, args.To, args.Amount, args.Share)
		if err != nil {
			return nil, err
		}
		return utils.EncodeResult(vaultMoveResult{Amount: amount, Share: share})

	case contracts.MethodTransfer:
		var args vaultMoveArgs
		if err := env.Bind(&args); err != nil {
			return nil, err
		}
		return nil, v.Transfer(ctx, msg.Sender, args.From, args.To, args.AssetID, args.Share)

	default:
		return nil, fmt.Errorf("vault: unknown method %q", env.Method)
	}
}
