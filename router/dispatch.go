package router

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/types"
)

// Mode 路由方式
type Mode int

const (
	// ModeCall 直通调用 target
	ModeCall Mode = iota
	// ModeModule 委托给具名工作流模块
	ModeModule
)

func (m Mode) String() string {
	if m == ModeModule {
		return "module"
	}
	return "call"
}

// Route ActionKind 的执行方式
type Route struct {
	Mode   Mode
	Module string   // ModeModule 时的模块名
	Method []string // ModeCall 时允许的 payload 方法，空表示不限制
}

// CallRoute 直通路由（methods 为允许的方法名）
func CallRoute(methods ...string) Route {
	return Route{Mode: ModeCall, Method: methods}
}

// ModuleRoute 模块路由
func ModuleRoute(name string) Route {
	return Route{Mode: ModeModule, Module: name}
}

func (r Route) allows(method string) bool {
	if len(r.Method) == 0 {
		return true
	}
	for _, m := range r.Method {
		if m == method {
			return true
		}
	}
	return false
}

// 工作流模块名
const (
	ModuleWithdrawToChain              = "withdraw-to-chain"
	ModuleMintAndLend                  = "mint-and-lend"
	ModuleDepositCollateralizeBorrow   = "deposit-collateralize-borrow"
	ModuleDepositCollateralizeBorrowV2 = "deposit-collateralize-borrow-v2"
	ModuleRepayAndRelease              = "repay-and-release"
	ModuleExitAndUnwind                = "exit-and-unwind"
)

// DefaultRoutes 默认分发配置
func DefaultRoutes() map[ActionKind]Route {
	return map[ActionKind]Route{
		KindPermit:    CallRoute(contracts.MethodPermit, contracts.MethodPermitAsset),
		KindPermitAll: CallRoute(contracts.MethodPermitAll),
		KindVault: CallRoute(
			contracts.MethodDepositAsset,
			contracts.MethodWithdraw,
			contracts.MethodTransfer,
		),
		KindMarket: CallRoute(
			contracts.MethodAddAsset,
			contracts.MethodRemoveAsset,
			contracts.MethodAddCollateral,
			contracts.MethodRemoveCollateral,
			contracts.MethodBorrow,
			contracts.MethodRepay,
			contracts.MethodTransfer,
		),
		KindToken: CallRoute(contracts.MethodTransfer),
		KindRegistry: CallRoute(
			contracts.MethodLock,
			contracts.MethodUnlock,
			contracts.MethodParticipate,
			contracts.MethodExit,
		),
		KindWithdraw:                     ModuleRoute(ModuleWithdrawToChain),
		KindMintAndLend:                  ModuleRoute(ModuleMintAndLend),
		KindDepositCollateralizeBorrow:   ModuleRoute(ModuleDepositCollateralizeBorrow),
		KindDepositCollateralizeBorrowV2: ModuleRoute(ModuleDepositCollateralizeBorrowV2),
		KindRepayAndRelease:              ModuleRoute(ModuleRepayAndRelease),
		KindExitAndUnwind:                ModuleRoute(ModuleExitAndUnwind),
	}
}

// DispatchTable ActionKind -> Route 的配置表
//
// 属于某个 Router 实例，只有管理员可以修改。
type DispatchTable struct {
	mu     sync.RWMutex
	admin  common.Address
	routes map[ActionKind]Route
}

// NewDispatchTable 创建分发表（routes 会被拷贝）
func NewDispatchTable(admin common.Address, routes map[ActionKind]Route) *DispatchTable {
	t := &DispatchTable{
		admin:  admin,
		routes: make(map[ActionKind]Route, len(routes)),
	}
	for k, r := range routes {
		t.routes[k] = r
	}
	return t
}

// Admin 当前管理员
func (t *DispatchTable) Admin() common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.admin
}

// Route 查询路由
func (t *DispatchTable) Route(kind ActionKind) (Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[kind]
	return r, ok
}

// Kinds 已配置的 ActionKind（升序）
func (t *DispatchTable) Kinds() []ActionKind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	kinds := make([]ActionKind, 0, len(t.routes))
	for k := range t.routes {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func (t *DispatchTable) requireAdmin(caller common.Address) error {
	if caller != t.admin {
		return types.ErrUnauthorized.WithDetail("%s is not the dispatch table admin", caller.Hex())
	}
	return nil
}

// SetRoute 设置路由（仅管理员）
func (t *DispatchTable) SetRoute(caller common.Address, kind ActionKind, route Route) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireAdmin(caller); err != nil {
		return err
	}
	if route.Mode == ModeModule && route.Module == "" {
		return types.Validationf("module route for %s has no module name", kind)
	}
	t.routes[kind] = route
	return nil
}

// RemoveRoute 删除路由（仅管理员）
func (t *DispatchTable) RemoveRoute(caller common.Address, kind ActionKind) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireAdmin(caller); err != nil {
		return err
	}
	delete(t.routes, kind)
	return nil
}

// TransferAdmin 转移管理员（仅管理员）
func (t *DispatchTable) TransferAdmin(caller, next common.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.requireAdmin(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return types.Validationf("new admin cannot be the zero address")
	}
	t.admin = next
	return nil
}
