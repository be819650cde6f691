// Package bridge 实现取出分发：本链直接从金库支付，或通过全链代币发往其他链。
//
// 分发器的职责在消息发出、手续费付清时结束，不等待也不校验目标链的结算结果。
package bridge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/logging"
	"github.com/weisyn/lending-router-go/metrics"
	"github.com/weisyn/lending-router-go/types"
	"github.com/weisyn/lending-router-go/vault"
)

// Destination 取出目的地（ChainID 为 0 表示本链）
type Destination struct {
	ChainID uint16 `json:"chainId"`
}

// Local 本链
func Local() Destination { return Destination{} }

// Remote 其他链
func Remote(chainID uint16) Destination { return Destination{ChainID: chainID} }

// IsLocal 是否本链
func (d Destination) IsLocal() bool { return d.ChainID == 0 }

func (d Destination) String() string {
	if d.IsLocal() {
		return "local"
	}
	return fmt.Sprintf("remote(%d)", d.ChainID)
}

// label 指标标签
func (d Destination) label() string {
	if d.IsLocal() {
		return "local"
	}
	return "remote"
}

// WithdrawRequest 取出请求（Amount 与 Share 二选一）
type WithdrawRequest struct {
	AssetID       uint64         `json:"assetId"`
	From          common.Address `json:"from"`     // 份额所有者
	Receiver      common.Address `json:"receiver"` // 本链收款地址或目标链收款地址
	Amount        *big.Int       `json:"amount,omitempty"`
	Share         *big.Int       `json:"share,omitempty"`
	Destination   Destination    `json:"destination"`
	AdapterParams hexutil.Bytes  `json:"adapterParams,omitempty"`
	RefundAddress common.Address `json:"refundAddress,omitempty"` // 为空时退给 From
	NativeFee     *big.Int       `json:"nativeFee,omitempty"`
}

// Result 分发结果
type Result struct {
	Destination Destination `json:"destination"`
	Amount      *big.Int    `json:"amount"`
	Share       *big.Int    `json:"share"`
	Fee         *big.Int    `json:"fee,omitempty"`
}

// Quote 跨链报价
type Quote struct {
	Token       common.Address
	Amount      *big.Int
	RequiredFee *big.Int
}

// Dispatcher 取出分发器
type Dispatcher struct {
	adapter   *vault.Adapter
	resolver  contracts.Resolver
	estimator FeeEstimator
	metrics   *metrics.Collector
	logger    logging.Logger
}

// Option 分发器选项
type Option func(*Dispatcher)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = logging.OrNop(l) }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Collector) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithEstimator 替换手续费估算器（默认直接询价代币合约）
func WithEstimator(e FeeEstimator) Option {
	return func(d *Dispatcher) { d.estimator = e }
}

// NewDispatcher 创建分发器
func NewDispatcher(adapter *vault.Adapter, resolver contracts.Resolver, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		adapter:   adapter,
		resolver:  resolver,
		estimator: NewContractEstimator(resolver),
		logger:    logging.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Validate 校验请求形状（不读取任何链上状态）
func (d *Dispatcher) Validate(req *WithdrawRequest) error {
	if req == nil {
		return types.Validationf("withdraw request is nil")
	}
	hasAmount := req.Amount != nil && req.Amount.Sign() != 0
	hasShare := req.Share != nil && req.Share.Sign() != 0
	if hasAmount == hasShare {
		return types.Validationf("withdraw: exactly one of amount and share must be set")
	}
	if (req.Amount != nil && req.Amount.Sign() < 0) || (req.Share != nil && req.Share.Sign() < 0) {
		return types.Validationf("withdraw: negative amount or share")
	}
	if req.Receiver == (common.Address{}) {
		return types.Validationf("withdraw: receiver is required")
	}
	if req.NativeFee != nil && req.NativeFee.Sign() < 0 {
		return types.Validationf("withdraw: negative native fee")
	}
	return nil
}

// CheckFee 校验跨链手续费是否足够（本链请求直接返回 nil）
//
// 只读：不修改任何状态，工作流在执行任何步骤前调用它做快速失败。
func (d *Dispatcher) CheckFee(ctx context.Context, req *WithdrawRequest) (*Quote, error) {
	if err := d.Validate(req); err != nil {
		return nil, err
	}
	if req.Destination.IsLocal() {
		return nil, nil
	}

	// 1. 资产对应的代币
	token, err := d.adapter.Vault().AssetToken(ctx, req.AssetID)
	if err != nil {
		return nil, fmt.Errorf("resolve asset token failed: %w", err)
	}

	// 2. 发送数量（按份额取出时实时换算）
	amount := req.Amount
	if amount == nil || amount.Sign() == 0 {
		amount, err = d.adapter.ToAmount(ctx, req.AssetID, req.Share)
		if err != nil {
			return nil, err
		}
	}

	// 3. 询价
	required, err := d.estimator.EstimateSendFee(ctx, token, req.Destination.ChainID, req.Receiver, amount, req.AdapterParams)
	if err != nil {
		return nil, err
	}
	fee := req.NativeFee
	if fee == nil {
		fee = new(big.Int)
	}
	if fee.Cmp(required) < 0 {
		return nil, types.ErrBridgeFee.WithDetail("native fee %s below estimated %s for chain %d", fee, required, req.Destination.ChainID)
	}
	return &Quote{Token: token, Amount: amount, RequiredFee: required}, nil
}

// Dispatch 执行取出
//
// **流程**：
// 1. 本链：按数量（或份额）从金库直接支付给 Receiver，份额恰好扣减一次
// 2. 跨链：先询价校验手续费，再检查调用附带的原生币，之后才取出份额到路由器
// 3. 跨链：调用全链代币 send，转发 adapterParams 与手续费，多余手续费退给 RefundAddress
//
// 手续费或原生币不足时在任何状态修改之前失败。
func (d *Dispatcher) Dispatch(ctx context.Context, cc *types.CallContext, req *WithdrawRequest) (*Result, error) {
	if err := d.Validate(req); err != nil {
		return nil, err
	}
	if req.Destination.IsLocal() {
		return d.local(ctx, cc, req)
	}
	return d.remote(ctx, cc, req)
}

func (d *Dispatcher) withdraw(ctx context.Context, cc *types.CallContext, req *WithdrawRequest, to common.Address) (*vault.Receipt, error) {
	if req.Amount != nil && req.Amount.Sign() > 0 {
		return d.adapter.Withdraw(ctx, cc, vault.WithdrawRequest{
			AssetID: req.AssetID,
			From:    req.From,
			To:      to,
			Amount:  req.Amount,
		})
	}
	return d.adapter.WithdrawShare(ctx, cc, req.AssetID, req.From, to, req.Share)
}

func (d *Dispatcher) local(ctx context.Context, cc *types.CallContext, req *WithdrawRequest) (*Result, error) {
	receipt, err := d.withdraw(ctx, cc, req, req.Receiver)
	if err != nil {
		return nil, err
	}

	d.metrics.ObserveDispatch(req.Destination.label())
	d.logger.Debug("local withdraw dispatched",
		"asset", req.AssetID, "receiver", req.Receiver.Hex(), "amount", receipt.Amount.String())
	return &Result{Destination: req.Destination, Amount: receipt.Amount, Share: receipt.Share}, nil
}

func (d *Dispatcher) remote(ctx context.Context, cc *types.CallContext, req *WithdrawRequest) (*Result, error) {
	// 1. 手续费校验（无副作用）
	quote, err := d.CheckFee(ctx, req)
	if err != nil {
		return nil, err
	}
	oft, err := resolveOmnichain(d.resolver, quote.Token)
	if err != nil {
		return nil, err
	}

	// 2. 调用附带的原生币必须覆盖手续费
	fee := new(big.Int)
	if req.NativeFee != nil {
		fee.Set(req.NativeFee)
	}
	if err := cc.Spend(fee); err != nil {
		return nil, err
	}

	// 3. 份额取出到路由器（只扣减一次）
	receipt, err := d.withdraw(ctx, cc, req, cc.Router)
	if err != nil {
		return nil, err
	}

	// 4. 发出跨链消息
	refund := req.RefundAddress
	if refund == (common.Address{}) {
		refund = req.From
	}
	if err := oft.Send(ctx, cc.Router, cc.Router, req.Destination.ChainID, req.Receiver, receipt.Amount, refund, req.AdapterParams, fee); err != nil {
		return nil, fmt.Errorf("cross-chain send failed: %w", err)
	}

	d.metrics.ObserveDispatch(req.Destination.label())
	d.logger.Info("cross-chain withdraw dispatched",
		"asset", req.AssetID, "chain", req.Destination.ChainID, "receiver", req.Receiver.Hex(),
		"amount", receipt.Amount.String(), "fee", fee.String(), "refund", refund.Hex())
	return &Result{Destination: req.Destination, Amount: receipt.Amount, Share: receipt.Share, Fee: fee}, nil
}
