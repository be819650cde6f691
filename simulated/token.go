package simulated

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/permit"
	"github.com/weisyn/lending-router-go/state"
	"github.com/weisyn/lending-router-go/utils"
)

type allowanceKey struct {
	owner, spender common.Address
}

// Token ERC20 + EIP-2612 permit + 全链发送
type Token struct {
	backend    *Backend
	address    common.Address
	symbol     string
	balances   *state.BigMap[common.Address]
	allowances *state.BigMap[allowanceKey]
	supply     *state.BigMap[struct{}]
	minters    map[common.Address]bool
	authorizer *permit.Authorizer

	// 跨链手续费 = BaseFee + FeePerByte * len(adapterParams)
	BaseFee    *big.Int
	FeePerByte *big.Int
}

// NewToken 部署代币
func (b *Backend) NewToken(symbol string) *Token {
	t := &Token{
		backend:    b,
		address:    b.NewAddress("token/" + symbol),
		symbol:     symbol,
		balances:   state.NewBigMap[common.Address](b.Journal),
		allowances: state.NewBigMap[allowanceKey](b.Journal),
		supply:     state.NewBigMap[struct{}](b.Journal),
		minters:    make(map[common.Address]bool),
		BaseFee:    big.NewInt(0),
		FeePerByte: big.NewInt(0),
	}
	t.authorizer = permit.NewAuthorizer(permit.Domain{
		Name:              symbol,
		Version:           "1",
		ChainID:           b.ChainID,
		VerifyingContract: t.address,
	}, b.Journal, t, b.Now, permit.KindPermit)
	b.Register(t)
	return t
}

// Address 合约地址
func (t *Token) Address() common.Address { return t.address }

// Symbol 代币符号
func (t *Token) Symbol() string { return t.symbol }

// Authorizer 授权校验器（客户端读取 domain / nonce 用）
func (t *Token) Authorizer() *permit.Authorizer { return t.authorizer }

// AddMinter 授予铸造 / 销毁权限
func (t *Token) AddMinter(minter common.Address) { t.minters[minter] = true }

// Mint 铸造（部署方 / 测试直接调用）
func (t *Token) Mint(to common.Address, amount *big.Int) {
	t.balances.Add(to, amount)
	t.supply.Add(struct{}{}, amount)
}

// MintFrom 由有权限的合约铸造
func (t *Token) MintFrom(minter, to common.Address, amount *big.Int) error {
	if !t.minters[minter] {
		return fmt.Errorf("%s: %s is not a minter", t.symbol, minter.Hex())
	}
	t.Mint(to, amount)
	return nil
}

// BurnFrom 由有权限的合约销毁
func (t *Token) BurnFrom(minter, from common.Address, amount *big.Int) error {
	if !t.minters[minter] {
		return fmt.Errorf("%s: %s is not a minter", t.symbol, minter.Hex())
	}
	return t.burn(from, amount)
}

func (t *Token) burn(from common.Address, amount *big.Int) error {
	if bal := t.balances.Get(from); bal.Cmp(amount) < 0 {
		return fmt.Errorf("%s: burn amount %s exceeds balance %s", t.symbol, amount, bal)
	}
	t.balances.Add(from, new(big.Int).Neg(amount))
	t.supply.Add(struct{}{}, new(big.Int).Neg(amount))
	return nil
}

// TotalSupply 总供应量
func (t *Token) TotalSupply() *big.Int {
	return t.supply.Get(struct{}{})
}

// BalanceOf 余额
func (t *Token) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	return t.balances.Get(owner), nil
}

// Allowance 额度
func (t *Token) Allowance(_ context.Context, owner, spender common.Address) (*big.Int, error) {
	return t.allowances.Get(allowanceKey{owner, spender}), nil
}

// Approve 设置额度
func (t *Token) Approve(_ context.Context, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%s: invalid approve amount", t.symbol)
	}
	t.allowances.Set(allowanceKey{owner, spender}, amount)
	return nil
}

// Transfer 转账
func (t *Token) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	return t.move(from, to, amount)
}

// TransferFrom spender 代 from 转账（spender == from 时不消耗额度）
func (t *Token) TransferFrom(_ context.Context, spender, from, to common.Address, amount *big.Int) error {
	if spender != from {
		key := allowanceKey{from, spender}
		allowed := t.allowances.Get(key)
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%s: insufficient allowance of %s for %s: have %s, need %s", t.symbol, from.Hex(), spender.Hex(), allowed, amount)
		}
		t.allowances.Set(key, new(big.Int).Sub(allowed, amount))
	}
	return t.move(from, to, amount)
}

func (t *Token) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%s: invalid amount", t.symbol)
	}
	if bal := t.balances.Get(from); bal.Cmp(amount) < 0 {
		return fmt.Errorf("%s: transfer amount %s exceeds balance %s of %s", t.symbol, amount, bal, from.Hex())
	}
	t.balances.Add(from, new(big.Int).Neg(amount))
	t.balances.Add(to, amount)
	return nil
}

// Permit 消费 EIP-2612 授权
func (t *Token) Permit(ctx context.Context, grant *permit.Grant) error {
	return t.authorizer.Consume(ctx, grant)
}

// ApplyPermit 实现 permit.Applier
func (t *Token) ApplyPermit(owner, spender common.Address, value *big.Int) error {
	t.allowances.Set(allowanceKey{owner, spender}, value)
	return nil
}

// ApplyPermitAsset 实现 permit.Applier（代币不支持）
func (t *Token) ApplyPermitAsset(common.Address, common.Address, uint64) error {
	return fmt.Errorf("%s: asset permits not supported", t.symbol)
}

// ApplyPermitAll 实现 permit.Applier（代币不支持）
func (t *Token) ApplyPermitAll(common.Address, common.Address) error {
	return fmt.Errorf("%s: operator permits not supported", t.symbol)
}

// EstimateSendFee 实现 contracts.OmnichainToken
func (t *Token) EstimateSendFee(_ context.Context, dstChainID uint16, _ common.Address, _ *big.Int, adapterParams []byte) (*big.Int, error) {
	if dstChainID == 0 {
		return nil, fmt.Errorf("%s: invalid destination chain", t.symbol)
	}
	fee := new(big.Int).Mul(t.FeePerByte, big.NewInt(int64(len(adapterParams))))
	return fee.Add(fee, t.BaseFee), nil
}

// Send 实现 contracts.OmnichainToken
//
// 源链销毁 amount，收取估算手续费，多余的原生币退还 refund，然后把消息放入出站队列。
func (t *Token) Send(ctx context.Context, caller, from common.Address, dstChainID uint16, to common.Address, amount *big.Int, refund common.Address, adapterParams []byte, fee *big.Int) error {
	return t.backend.atomic(func() error {
		return t.send(ctx, caller, from, dstChainID, to, amount, refund, adapterParams, fee)
	})
}

func (t *Token) send(ctx context.Context, caller, from common.Address, dstChainID uint16, to common.Address, amount *big.Int, refund common.Address, adapterParams []byte, fee *big.Int) error {
	required, err := t.EstimateSendFee(ctx, dstChainID, to, amount, adapterParams)
	if err != nil {
		return err
	}
	if fee == nil || fee.Cmp(required) < 0 {
		return fmt.Errorf("%s: send fee %v below required %s", t.symbol, fee, required)
	}
	if caller != from {
		key := allowanceKey{from, caller}
		allowed := t.allowances.Get(key)
		if allowed.Cmp(amount) < 0 {
			return fmt.Errorf("%s: insufficient allowance for send", t.symbol)
		}
		t.allowances.Set(key, new(big.Int).Sub(allowed, amount))
	}
	if err := t.burn(from, amount); err != nil {
		return err
	}

	// 手续费从 caller 划入代币合约（代付给中继），多余部分退还
	if err := t.backend.Bank.Transfer(ctx, caller, t.address, fee); err != nil {
		return err
	}
	if excess := new(big.Int).Sub(fee, required); excess.Sign() > 0 {
		if err := t.backend.Bank.Transfer(ctx, t.address, refund, excess); err != nil {
			return err
		}
	}

	t.backend.relay.emit(Message{
		SrcToken:      t.address,
		DstChainID:    dstChainID,
		To:            to,
		Amount:        new(big.Int).Set(amount),
		AdapterParams: append([]byte(nil), adapterParams...),
		Fee:           new(big.Int).Set(required),
	})
	return nil
}

type tokenApproveArgs struct {
	From    common.Address `json:"from"`
	Spender common.Address `json:"spender"`
	Amount  *big.Int       `json:"amount"`
}

type tokenTransferArgs struct {
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *big.Int       `json:"amount"`
}

// Invoke 实现 contracts.Target
func (t *Token) Invoke(ctx context.Context, msg contracts.Msg, payload []byte) ([]byte, error) {
	env, err := utils.DecodeCall(payload)
	if err != nil {
		return nil, err
	}

	switch env.Method {
	case contracts.MethodPermit:
		var g permit.Grant
		if err := env.Bind(&g); err != nil {
			return nil, err
		}
		return nil, t.Permit(ctx, &g)
	case contracts.MethodApprove:
		var args tokenApproveArgs
		if err := env.Bind(&args); err != nil {
			return nil, err
		}
		if args.From != msg.Sender && args.From != msg.Origin {
			return nil, fmt.Errorf("%s: approve on behalf of %s", t.symbol, args.From.Hex())
		}
		return nil, t.Approve(ctx, args.From, args.Spender, args.Amount)
	case contracts.MethodTransfer:
		var args tokenTransferArgs
		if err := env.Bind(&args); err != nil {
			return nil, err
		}
		return nil, t.TransferFrom(ctx, msg.Sender, args.From, args.To, args.Amount)
	default:
		return nil, fmt.Errorf("%s: unknown method %q", t.symbol, env.Method)
	}
}
