// Package router 实现批处理路由器：把一组子调用作为一个原子单元执行。
//
// **架构说明**：
// - DispatchTable 决定每个 ActionKind 是直通调用还是委托给具名模块
// - 所有协作方共享一个可回滚状态（state.Reverter），批次与子调用各自打快照
// - 子调用不允许失败时，整个批次的全部效果被撤销；允许失败时只撤销该子调用
package router

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/logging"
	"github.com/weisyn/lending-router-go/metrics"
	"github.com/weisyn/lending-router-go/state"
	"github.com/weisyn/lending-router-go/types"
)

const (
	modeBurst   = "burst"
	modePreview = "preview"
)

// Router 批处理路由器
type Router struct {
	address  common.Address
	table    *DispatchTable
	resolver contracts.Resolver
	state    state.Reverter
	bank     contracts.NativeBank
	guard    *state.Guard

	mu      sync.RWMutex
	modules map[string]Module

	logger  logging.Logger
	metrics *metrics.Collector
}

// Option 路由器选项
type Option func(*Router)

// WithLogger 设置日志器
func WithLogger(l logging.Logger) Option {
	return func(r *Router) { r.logger = logging.OrNop(l) }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.Collector) Option {
	return func(r *Router) { r.metrics = m }
}

// WithBank 设置原生币账本（批次附带原生币时必需）
func WithBank(bank contracts.NativeBank) Option {
	return func(r *Router) { r.bank = bank }
}

// WithRoutes 替换默认分发配置
func WithRoutes(routes map[ActionKind]Route) Option {
	return func(r *Router) { r.table = NewDispatchTable(r.table.Admin(), routes) }
}

// WithModules 注册工作流模块
func WithModules(modules ...Module) Option {
	return func(r *Router) {
		for _, m := range modules {
			r.modules[m.Name()] = m
		}
	}
}

// New 创建路由器
//
// address 是路由器在协作方眼中的地址；admin 是分发表管理员。
func New(address, admin common.Address, resolver contracts.Resolver, reverter state.Reverter, opts ...Option) *Router {
	r := &Router{
		address:  address,
		table:    NewDispatchTable(admin, DefaultRoutes()),
		resolver: resolver,
		state:    reverter,
		guard:    state.NewGuard("router"),
		modules:  make(map[string]Module),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Address 路由器地址
func (r *Router) Address() common.Address {
	return r.address
}

// Table 分发表
func (r *Router) Table() *DispatchTable {
	return r.table
}

// RegisterModule 注册或替换模块（仅管理员）
func (r *Router) RegisterModule(caller common.Address, m Module) error {
	if caller != r.table.Admin() {
		return types.ErrUnauthorized.WithDetail("%s cannot register modules", caller.Hex())
	}
	if m == nil || m.Name() == "" {
		return types.Validationf("module must have a name")
	}
	r.mu.Lock()
	r.modules[m.Name()] = m
	r.mu.Unlock()
	r.logger.Info("router module registered", "module", m.Name())
	return nil
}

// SetRoute 修改分发表（仅管理员）
func (r *Router) SetRoute(caller common.Address, kind ActionKind, route Route) error {
	if err := r.table.SetRoute(caller, kind, route); err != nil {
		return err
	}
	r.logger.Info("dispatch route updated", "kind", kind.String(), "mode", route.Mode.String(), "module", route.Module)
	return nil
}

// Burst 原子地执行一组子调用
//
// **流程**：
// 1. 重入检查；子调用原生币总额必须等于 value
// 2. 打批次快照，把 value 从调用者转入路由器
// 3. 按顺序执行每个子调用（各自打快照）：
//   - 成功：记录 {true, 返回数据}
//   - 失败且 AllowFailure：撤销该子调用，记录 {false, 失败原因}，继续
//   - 失败且不允许失败：撤销整个批次，返回 *types.BurstError
//
// 4. 未花掉的原生币退还调用者
//
// 返回的结果与 calls 一一对应、顺序相同。
func (r *Router) Burst(ctx context.Context, caller common.Address, value *big.Int, calls []Call) ([]BurstResult, error) {
	return r.run(ctx, caller, value, calls, false)
}

// Preview 与 Burst 执行相同逻辑，但结束后总是撤销全部效果
//
// 用于提交前获取每个子调用的返回数据或失败原因。
func (r *Router) Preview(ctx context.Context, caller common.Address, value *big.Int, calls []Call) ([]BurstResult, error) {
	return r.run(ctx, caller, value, calls, true)
}

func (r *Router) run(ctx context.Context, caller common.Address, value *big.Int, calls []Call, preview bool) ([]BurstResult, error) {
	start := time.Now()
	mode := modeBurst
	if preview {
		mode = modePreview
	}

	// 1. 重入与原生币总额
	ctx, release, err := r.guard.Enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return nil, types.Validationf("negative batch value %s", value)
	}
	total, err := sumValues(calls)
	if err != nil {
		return nil, err
	}
	switch total.Cmp(value) {
	case 1:
		return nil, types.ErrInsufficientValue.WithDetail("calls need %s, batch carries %s", total, value)
	case -1:
		return nil, types.ErrValueMismatch.WithDetail("calls use %s, batch carries %s", total, value)
	}

	batchID := uuid.New().String()
	r.logger.Debug("burst started", "batch", batchID, "mode", mode, "caller", caller.Hex(), "items", len(calls), "value", value.String())

	// 2. 批次快照与原生币转入
	snap := r.state.Snapshot()
	held, err := r.fund(ctx, caller, value)
	if err != nil {
		r.state.RevertToSnapshot(snap)
		return nil, err
	}

	// 3. 逐个执行
	results := make([]BurstResult, len(calls))
	for i, call := range calls {
		itemSnap := r.state.Snapshot()
		cc := types.NewCallContext(caller, r.address, call.Value)

		data, err := r.execute(ctx, cc, call)
		if err == nil {
			results[i] = BurstResult{Success: true, ReturnData: data}
			r.metrics.ObserveItem(call.Kind.String(), metrics.OutcomeSuccess)
			continue
		}

		if call.AllowFailure {
			r.state.RevertToSnapshot(itemSnap)
			results[i] = BurstResult{Success: false, ReturnData: encodeFailure(err)}
			r.metrics.ObserveItem(call.Kind.String(), metrics.OutcomeTolerated)
			r.logger.Warn("burst item failed, continuing", "batch", batchID, "index", i, "kind", call.Kind.String(), "error", err)
			continue
		}

		r.state.RevertToSnapshot(snap)
		r.metrics.ObserveItem(call.Kind.String(), metrics.OutcomeAborted)
		r.metrics.ObserveBurst(metrics.OutcomeAborted, mode, time.Since(start))
		r.logger.Warn("burst aborted", "batch", batchID, "index", i, "kind", call.Kind.String(), "error", err)
		return nil, &types.BurstError{Index: i, Kind: call.Kind.String(), Err: err}
	}

	// 4. 退还未花掉的原生币
	if err := r.refund(ctx, caller, held); err != nil {
		r.state.RevertToSnapshot(snap)
		return nil, err
	}

	if preview {
		r.state.RevertToSnapshot(snap)
		r.metrics.ObserveBurst(metrics.OutcomePreview, mode, time.Since(start))
	} else {
		r.state.DiscardSnapshot(snap)
		r.metrics.ObserveBurst(metrics.OutcomeSuccess, mode, time.Since(start))
	}
	r.logger.Debug("burst finished", "batch", batchID, "mode", mode, "elapsed", time.Since(start))
	return results, nil
}

// execute 按分发表执行一个子调用
func (r *Router) execute(ctx context.Context, cc *types.CallContext, call Call) ([]byte, error) {
	route, ok := r.table.Route(call.Kind)
	if !ok {
		return nil, types.ErrUnknownAction.WithDetail("no route for %s", call.Kind)
	}
	switch route.Mode {
	case ModeCall:
		return r.passThrough(ctx, cc, route, call)
	case ModeModule:
		return r.runModule(ctx, cc, route, call)
	default:
		return nil, types.ErrUnknownAction.WithDetail("unsupported route mode %d for %s", route.Mode, call.Kind)
	}
}

// fund 把批次原生币转入路由器，返回转入前路由器的余额
func (r *Router) fund(ctx context.Context, caller common.Address, value *big.Int) (*big.Int, error) {
	if r.bank == nil {
		if value.Sign() > 0 {
			return nil, types.Validationf("router has no native bank, cannot accept value %s", value)
		}
		return nil, nil
	}
	held, err := r.bank.BalanceOf(ctx, r.address)
	if err != nil {
		return nil, fmt.Errorf("read router balance failed: %w", err)
	}
	if value.Sign() > 0 {
		if err := r.bank.Transfer(ctx, caller, r.address, value); err != nil {
			return nil, types.ErrInsufficientValue.Wrap(err)
		}
	}
	return held, nil
}

// refund 把超出批次开始时余额的部分退还调用者
func (r *Router) refund(ctx context.Context, caller common.Address, held *big.Int) error {
	if r.bank == nil {
		return nil
	}
	now, err := r.bank.BalanceOf(ctx, r.address)
	if err != nil {
		return fmt.Errorf("read router balance failed: %w", err)
	}
	leftover := new(big.Int).Sub(now, held)
	if leftover.Sign() <= 0 {
		return nil
	}
	if err := r.bank.Transfer(ctx, r.address, caller, leftover); err != nil {
		return fmt.Errorf("refund %s to %s failed: %w", leftover, caller.Hex(), err)
	}
	return nil
}
