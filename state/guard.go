package state

import (
	"context"
	"sync"

	"github.com/weisyn/lending-router-go/types"
)

type guardKey struct {
	guard *Guard
}

// Guard 串行化执行并拒绝重入
//
// 重入检测依赖 context：进入后返回的 ctx 带有标记，
// 协作方若带着该 ctx 回调同一入口会得到 ErrReentrant。
type Guard struct {
	mu   sync.Mutex
	name string
}

// NewGuard 创建命名的重入保护
func NewGuard(name string) *Guard {
	return &Guard{name: name}
}

// Enter 进入临界区，调用方必须执行返回的 release
func (g *Guard) Enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(guardKey{guard: g}) != nil {
		return ctx, func() {}, types.ErrReentrant.WithDetail("reentrant call into %s", g.name)
	}
	g.mu.Lock()
	return context.WithValue(ctx, guardKey{guard: g}, true), g.mu.Unlock, nil
}

// Entered ctx 是否已处于该保护内
func (g *Guard) Entered(ctx context.Context) bool {
	return ctx.Value(guardKey{guard: g}) != nil
}
