package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallContext 子调用执行上下文
//
// 路由器在每次分发时显式传递，而不是依赖环境中的调用者：
// - Caller: 发起批次的原始用户（下游市场据此做授权校验）
// - Router: 路由器自身地址（对协作合约而言的直接调用者）
// - Value:  当前子调用剩余可用的原生币
type CallContext struct {
	Caller common.Address
	Router common.Address
	Value  *big.Int
}

// NewCallContext 创建上下文（value 为 nil 视为 0）
func NewCallContext(caller, router common.Address, value *big.Int) *CallContext {
	v := new(big.Int)
	if value != nil {
		v.Set(value)
	}
	return &CallContext{
		Caller: caller,
		Router: router,
		Value:  v,
	}
}

// Remaining 返回剩余原生币的副本
func (c *CallContext) Remaining() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(c.Value)
}

// Spend 从剩余原生币中扣减 amount，不足时返回 ErrInsufficientValue
func (c *CallContext) Spend(amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return Validationf("negative value %s", amount)
	}
	if c.Value == nil || c.Value.Cmp(amount) < 0 {
		return ErrInsufficientValue.WithDetail("need %s, remaining %s", amount, c.Remaining())
	}
	c.Value = new(big.Int).Sub(c.Value, amount)
	return nil
}
