package router

import (
	"context"
	"fmt"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/types"
	"github.com/weisyn/lending-router-go/utils"
)

// Module 具名工作流模块
//
// 路由器只负责按 ActionKind 找到模块并传入调用上下文，参数解码由模块自己完成。
// 新增模块不需要修改 Router。
type Module interface {
	Name() string
	Execute(ctx context.Context, cc *types.CallContext, payload []byte) ([]byte, error)
}

// ModuleFunc 函数形式的模块
type ModuleFunc struct {
	ModuleName string
	Fn         func(ctx context.Context, cc *types.CallContext, payload []byte) ([]byte, error)
}

// Name 实现 Module
func (m ModuleFunc) Name() string { return m.ModuleName }

// Execute 实现 Module
func (m ModuleFunc) Execute(ctx context.Context, cc *types.CallContext, payload []byte) ([]byte, error) {
	return m.Fn(ctx, cc, payload)
}

// passThrough 直通调用 target
//
// **流程**：
// 1. 解析 payload 外壳，方法必须在路由允许的列表中
// 2. payload 中声明的 from 必须等于批次调用者
// 3. 子调用的原生币随调用转给 target
// 4. 以路由器为直接调用者、批次调用者为发起者执行
func (r *Router) passThrough(ctx context.Context, cc *types.CallContext, route Route, call Call) ([]byte, error) {
	// 1. 目标合约与方法
	target, ok := r.resolver.Resolve(call.Target)
	if !ok {
		return nil, types.Validationf("no contract at %s", call.Target.Hex())
	}
	env, err := utils.DecodeCall(call.Payload)
	if err != nil {
		return nil, types.ErrValidation.Wrap(err)
	}
	if !route.allows(env.Method) {
		return nil, types.ErrUnauthorized.WithDetail("method %q is not routable for %s", env.Method, call.Kind)
	}

	// 2. 调用者校验
	from, declared, err := env.From()
	if err != nil {
		return nil, types.ErrValidation.Wrap(err)
	}
	if declared && from != cc.Caller {
		return nil, types.ErrSenderMismatch.WithDetail("%s.from is %s, batch caller is %s", env.Method, from.Hex(), cc.Caller.Hex())
	}

	// 3. 原生币转发
	value := cc.Remaining()
	if value.Sign() > 0 {
		if err := cc.Spend(value); err != nil {
			return nil, err
		}
		if err := r.bank.Transfer(ctx, cc.Router, call.Target, value); err != nil {
			return nil, fmt.Errorf("forward value to %s failed: %w", call.Target.Hex(), err)
		}
	}

	// 4. 执行
	return target.Invoke(ctx, contracts.Msg{Sender: cc.Router, Origin: cc.Caller, Value: value}, call.Payload)
}

// runModule 委托给具名模块
func (r *Router) runModule(ctx context.Context, cc *types.CallContext, route Route, call Call) ([]byte, error) {
	r.mu.RLock()
	m, ok := r.modules[route.Module]
	r.mu.RUnlock()
	if !ok {
		return nil, types.ErrUnknownAction.WithDetail("module %q for %s is not registered", route.Module, call.Kind)
	}
	return m.Execute(ctx, cc, call.Payload)
}
