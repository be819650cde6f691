package simulated

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/state"
	"github.com/weisyn/lending-router-go/types"
	"github.com/weisyn/lending-router-go/utils"
)

// Lock 锁仓记录
type Lock struct {
	Market   common.Address
	Fraction *big.Int
	Expiry   time.Time
}

// Registry 锁仓 / 期权登记处
//
// 锁仓把市场份额托管在登记处，凭证（lockID）可参与期权换取头寸凭证（positionID），
// 退出头寸后凭证回到 owner，到期后凭证持有人可解锁取回市场份额。
// 操作员授权复用金库的全资产操作员。
type Registry struct {
	backend *Backend
	address common.Address
	vault   contracts.Vault
	markets map[common.Address]contracts.Market

	locks      *state.Map[uint64, Lock]
	lockOwners *state.Map[uint64, common.Address]
	positions  *state.Map[uint64, uint64] // positionID -> lockID
	posOwners  *state.Map[uint64, common.Address]
	counters   *state.Map[string, uint64]
}

// NewRegistry 部署登记处
func (b *Backend) NewRegistry(vault contracts.Vault) *Registry {
	r := &Registry{
		backend:    b,
		address:    b.NewAddress("registry"),
		vault:      vault,
		markets:    make(map[common.Address]contracts.Market),
		locks:      state.NewMap[uint64, Lock](b.Journal),
		lockOwners: state.NewMap[uint64, common.Address](b.Journal),
		positions:  state.NewMap[uint64, uint64](b.Journal),
		posOwners:  state.NewMap[uint64, common.Address](b.Journal),
		counters:   state.NewMap[string, uint64](b.Journal),
	}
	b.Register(r)
	return r
}

// Address 合约地址
func (r *Registry) Address() common.Address { return r.address }

// AddMarket 允许锁定该市场的份额
func (r *Registry) AddMarket(m contracts.Market) {
	r.markets[m.Address()] = m
}

func (r *Registry) next(name string) uint64 {
	n, _ := r.counters.Get(name)
	n++
	r.counters.Set(name, n)
	return n
}

func (r *Registry) operator(ctx context.Context, caller, owner common.Address) error {
	if caller == owner {
		return nil
	}
	ok, err := r.vault.IsApprovedForAll(ctx, owner, caller)
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrUnauthorized.WithDetail("registry: %s not approved by %s", caller.Hex(), owner.Hex())
	}
	return nil
}

func toID(id *big.Int) (uint64, error) {
	if id == nil || id.Sign() <= 0 || !id.IsUint64() {
		return 0, types.Validationf("registry: invalid id %v", id)
	}
	return id.Uint64(), nil
}

// Lock 实现 contracts.LockRegistry
func (r *Registry) Lock(ctx context.Context, caller, from, to, market common.Address, duration uint64, fraction *big.Int) (*big.Int, error) {
	m, ok := r.markets[market]
	if !ok {
		return nil, types.Validationf("registry: market %s not registered", market.Hex())
	}
	if duration == 0 {
		return nil, types.Validationf("registry: lock duration must be positive")
	}
	if err := r.operator(ctx, caller, from); err != nil {
		return nil, err
	}
	if err := m.TransferFraction(ctx, r.address, from, r.address, fraction); err != nil {
		return nil, fmt.Errorf("registry: escrow fraction failed: %w", err)
	}

	id := r.next("lock")
	r.locks.Set(id, Lock{
		Market:   market,
		Fraction: new(big.Int).Set(fraction),
		Expiry:   r.backend.Now().Add(time.Duration(duration) * time.Second),
	})
	r.lockOwners.Set(id, to)
	return new(big.Int).SetUint64(id), nil
}

// Unlock 实现 contracts.LockRegistry（到期前或凭证参与期权期间会失败）
func (r *Registry) Unlock(ctx context.Context, caller common.Address, lockID *big.Int, to common.Address) (*big.Int, error) {
	id, err := toID(lockID)
	if err != nil {
		return nil, err
	}
	lock, ok := r.locks.Get(id)
	if !ok {
		return nil, types.Validationf("registry: lock %d not found", id)
	}
	owner, _ := r.lockOwners.Get(id)
	if owner == r.address {
		return nil, types.ErrSequencingViolation.WithDetail("registry: lock %d is participating", id)
	}
	if err := r.operator(ctx, caller, owner); err != nil {
		return nil, err
	}
	if now := r.backend.Now(); now.Before(lock.Expiry) {
		return nil, types.ErrSequencingViolation.WithDetail("registry: lock %d expires at %s", id, lock.Expiry.UTC().Format(time.RFC3339))
	}

	r.locks.Delete(id)
	r.lockOwners.Delete(id)
	if err := r.markets[lock.Market].TransferFraction(ctx, r.address, r.address, to, lock.Fraction); err != nil {
		return nil, fmt.Errorf("registry: release fraction failed: %w", err)
	}
	return new(big.Int).Set(lock.Fraction), nil
}

// Participate 实现 contracts.LockRegistry
func (r *Registry) Participate(ctx context.Context, caller, owner common.Address, lockID *big.Int) (*big.Int, error) {
	id, err := toID(lockID)
	if err != nil {
		return nil, err
	}
	current, ok := r.lockOwners.Get(id)
	if !ok || current != owner {
		return nil, types.ErrSequencingViolation.WithDetail("registry: lock %d not owned by %s", id, owner.Hex())
	}
	if err := r.operator(ctx, caller, owner); err != nil {
		return nil, err
	}

	pos := r.next("position")
	r.lockOwners.Set(id, r.address)
	r.positions.Set(pos, id)
	r.posOwners.Set(pos, owner)
	return new(big.Int).SetUint64(pos), nil
}

// ExitPosition 实现 contracts.LockRegistry
func (r *Registry) ExitPosition(ctx context.Context, caller, owner common.Address, positionID *big.Int) (*big.Int, error) {
	pos, err := toID(positionID)
	if err != nil {
		return nil, err
	}
	current, ok := r.posOwners.Get(pos)
	if !ok || current != owner {
		return nil, types.ErrSequencingViolation.WithDetail("registry: position %d not owned by %s", pos, owner.Hex())
	}
	if err := r.operator(ctx, caller, owner); err != nil {
		return nil, err
	}

	id, _ := r.positions.Get(pos)
	r.positions.Delete(pos)
	r.posOwners.Delete(pos)
	r.lockOwners.Set(id, owner)
	return new(big.Int).SetUint64(id), nil
}

// LockOwner 实现 contracts.LockRegistry
func (r *Registry) LockOwner(_ context.Context, lockID *big.Int) (common.Address, error) {
	id, err := toID(lockID)
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := r.lockOwners.Get(id)
	if !ok {
		return common.Address{}, types.Validationf("registry: lock %d not found", id)
	}
	return owner, nil
}

// LockInfo 锁仓详情
func (r *Registry) LockInfo(lockID *big.Int) (Lock, bool) {
	id, err := toID(lockID)
	if err != nil {
		return Lock{}, false
	}
	return r.locks.Get(id)
}

type registryArgs struct {
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
	Market     common.Address `json:"market,omitempty"`
	Duration   uint64         `json:"duration,omitempty"`
	Fraction   *big.Int       `json:"fraction,omitempty"`
	LockID     *big.Int       `json:"lockId,omitempty"`
	PositionID *big.Int       `json:"positionId,omitempty"`
}

// Invoke 实现 contracts.Target
func (r *Registry) Invoke(ctx context.Context, msg contracts.Msg, payload []byte) ([]byte, error) {
	env, err := utils.DecodeCall(payload)
	if err != nil {
		return nil, err
	}
	var args registryArgs
	if err := env.Bind(&args); err != nil {
		return nil, err
	}

	var out *big.Int
	switch env.Method {
	case contracts.MethodLock:
		out, err = r.Lock(ctx, msg.Sender, args.From, args.To, args.Market, args.Duration, args.Fraction)
	case contracts.MethodUnlock:
		owner, ownerErr := r.LockOwner(ctx, args.LockID)
		if ownerErr != nil {
			return nil, ownerErr
		}
		if owner != args.From {
			return nil, types.ErrSequencingViolation.WithDetail("registry: lock not owned by %s", args.From.Hex())
		}
		out, err = r.Unlock(ctx, msg.Sender, args.LockID, args.To)
	case contracts.MethodParticipate:
		out, err = r.Participate(ctx, msg.Sender, args.From, args.LockID)
	case contracts.MethodExit:
		out, err = r.ExitPosition(ctx, msg.Sender, args.From, args.PositionID)
	default:
		return nil, fmt.Errorf("registry: unknown method %q", env.Method)
	}
	if err != nil {
		return nil, err
	}
	return utils.EncodeResult(out)
}
