// Package workflow 实现组合借贷工作流。
//
// 每个工作流是一个原子入口，按固定的合法顺序执行一组可选步骤（Step）：
// 任一步骤失败时整个工作流的效果被撤销；跨链取出的手续费在任何步骤执行前校验。
package workflow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/logging"
	"github.com/weisyn/lending-router-go/state"
	"github.com/weisyn/lending-router-go/types"
	"github.com/weisyn/lending-router-go/vault"
)

// Step 可选步骤：Enabled 为 false 时不执行
type Step[P any] struct {
	Enabled bool `json:"enabled"`
	Params  P    `json:"params"`
}

// Skip 不执行的步骤
func Skip[P any]() Step[P] {
	return Step[P]{}
}

// Do 以 params 执行的步骤
func Do[P any](params P) Step[P] {
	return Step[P]{Enabled: true, Params: params}
}

// DepositParams 存入步骤
type DepositParams struct {
	Amount *big.Int `json:"amount"`
}

// RepayParams 还款步骤（实际偿还 min(Amount, 欠款)）
type RepayParams struct {
	Amount *big.Int `json:"amount"`
}

// RemoveCollateralParams 释放抵押步骤
type RemoveCollateralParams struct {
	Share *big.Int `json:"share"`
}

// WithdrawParams 取出步骤，取出数量由前序步骤的结果决定
type WithdrawParams struct {
	Receiver      common.Address     `json:"receiver"` // 为空时为调用者
	Destination   bridge.Destination `json:"destination"`
	AdapterParams hexutil.Bytes      `json:"adapterParams,omitempty"`
	RefundAddress common.Address     `json:"refundAddress"`
	NativeFee     *big.Int           `json:"nativeFee,omitempty"`
}

// request 构造取出请求（amount 与 share 二选一）
func (p WithdrawParams) request(cc *types.CallContext, assetID uint64, amount, share *big.Int) *bridge.WithdrawRequest {
	receiver := p.Receiver
	if receiver == (common.Address{}) {
		receiver = cc.Caller
	}
	return &bridge.WithdrawRequest{
		AssetID:       assetID,
		From:          cc.Caller,
		Receiver:      receiver,
		Amount:        amount,
		Share:         share,
		Destination:   p.Destination,
		AdapterParams: p.AdapterParams,
		RefundAddress: p.RefundAddress,
		NativeFee:     p.NativeFee,
	}
}

// Service 组合工作流
type Service struct {
	adapter    *vault.Adapter
	dispatcher *bridge.Dispatcher
	resolver   contracts.Resolver
	state      state.Reverter
	guard      *state.Guard
	logger     logging.Logger
}

// Option 服务选项
type Option func(*Service)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(l) }
}

// NewService 创建工作流服务
//
// resolver 用于按地址找到市场与登记处；reverter 与协作方共享同一份可回滚状态。
func NewService(adapter *vault.Adapter, dispatcher *bridge.Dispatcher, resolver contracts.Resolver, reverter state.Reverter, opts ...Option) *Service {
	s := &Service{
		adapter:    adapter,
		dispatcher: dispatcher,
		resolver:   resolver,
		state:      reverter,
		guard:      state.NewGuard("workflow"),
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// atomic 在重入保护与快照内执行工作流，失败时撤销全部效果
func (s *Service) atomic(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, release, err := s.guard.Enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap := s.state.Snapshot()
	if err := fn(ctx); err != nil {
		s.state.RevertToSnapshot(snap)
		s.logger.Debug("workflow aborted", "workflow", name, "error", err)
		return err
	}
	s.state.DiscardSnapshot(snap)
	s.logger.Debug("workflow completed", "workflow", name)
	return nil
}

// run 执行一个步骤（未启用时跳过）
func run[P any](s *Service, workflow, name string, step Step[P], fn func(P) error) error {
	if !step.Enabled {
		return nil
	}
	s.logger.Debug("workflow step", "workflow", workflow, "step", name)
	if err := fn(step.Params); err != nil {
		return fmt.Errorf("%s step failed: %w", name, err)
	}
	return nil
}

func (s *Service) market(addr common.Address) (contracts.Market, error) {
	target, ok := s.resolver.Resolve(addr)
	if !ok {
		return nil, types.Validationf("market %s not found", addr.Hex())
	}
	m, ok := target.(contracts.Market)
	if !ok {
		return nil, types.Validationf("%s is not a market", addr.Hex())
	}
	return m, nil
}

func (s *Service) registry(addr common.Address) (contracts.LockRegistry, error) {
	target, ok := s.resolver.Resolve(addr)
	if !ok {
		return nil, types.Validationf("registry %s not found", addr.Hex())
	}
	r, ok := target.(contracts.LockRegistry)
	if !ok {
		return nil, types.Validationf("%s is not a lock registry", addr.Hex())
	}
	return r, nil
}

// checkFees 在任何步骤执行前校验跨链手续费与附带的原生币
//
// 本链请求直接跳过；nil 表示该笔取出的数量要到执行时才知道，只计入原生币总额。
func (s *Service) checkFees(ctx context.Context, cc *types.CallContext, legs ...*bridge.WithdrawRequest) error {
	total := new(big.Int)
	for _, req := range legs {
		if req == nil || req.Destination.IsLocal() {
			continue
		}
		if req.NativeFee != nil {
			total.Add(total, req.NativeFee)
		}
		if req.Amount == nil && req.Share == nil {
			continue
		}
		if _, err := s.dispatcher.CheckFee(ctx, req); err != nil {
			return err
		}
	}
	if total.Cmp(cc.Remaining()) > 0 {
		return types.ErrInsufficientValue.WithDetail("cross-chain fees need %s, call carries %s", total, cc.Remaining())
	}
	return nil
}

// deposit 从 from 存入 amount，份额记给调用者
func (s *Service) deposit(ctx context.Context, cc *types.CallContext, assetID uint64, from common.Address, amount *big.Int) (*vault.Receipt, error) {
	return s.adapter.Deposit(ctx, cc, vault.DepositRequest{
		AssetID: assetID,
		From:    from,
		To:      cc.Caller,
		Amount:  amount,
	})
}

// repay 偿还 min(amount, 当前欠款)，欠款为 0 时什么都不做
func (s *Service) repay(ctx context.Context, cc *types.CallContext, m contracts.Market, amount *big.Int) (part, paid *big.Int, err error) {
	owed, err := m.UserBorrowPart(ctx, cc.Caller)
	if err != nil {
		return nil, nil, err
	}
	total, err := m.TotalBorrow(ctx)
	if err != nil {
		return nil, nil, err
	}

	part = total.ToBase(amount, false)
	if part.Cmp(owed) > 0 {
		part = owed
	}
	if part.Sign() == 0 {
		return new(big.Int), new(big.Int), nil
	}
	paid, err = m.Repay(ctx, cc.Router, cc.Caller, cc.Caller, part)
	if err != nil {
		return nil, nil, err
	}
	return part, paid, nil
}

func positive(name string, v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return types.Validationf("%s must be positive", name)
	}
	return nil
}

func zeroAddress(a common.Address) bool {
	return a == (common.Address{})
}
