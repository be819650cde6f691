// Package simulated 提供协作合约的内存参考实现。
//
// 所有合约共享一个 state.Journal，写操作全部可回滚，
// 用于测试、示例和在接入真实链之前对批次做离线演练。
package simulated

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/state"
)

// Backend 模拟链环境
type Backend struct {
	Journal *state.Journal
	Bank    *Bank
	ChainID *big.Int

	mu        sync.RWMutex
	targets   map[common.Address]contracts.Target
	now       time.Time
	relay     *Relay
	nextLabel uint64
}

// NewBackend 创建模拟链环境
func NewBackend(chainID int64, start time.Time) *Backend {
	journal := state.NewJournal()
	b := &Backend{
		Journal: journal,
		ChainID: big.NewInt(chainID),
		targets: make(map[common.Address]contracts.Target),
		now:     start,
	}
	b.Bank = newBank(journal)
	b.relay = newRelay(journal)
	return b
}

// Now 当前区块时间
func (b *Backend) Now() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.now
}

// AdvanceTime 推进区块时间
func (b *Backend) AdvanceTime(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = b.now.Add(d)
}

// Relay 跨链消息出站队列
func (b *Backend) Relay() *Relay {
	return b.relay
}

// Register 注册合约
func (b *Backend) Register(t contracts.Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.targets[t.Address()] = t
}

// Resolve 实现 contracts.Resolver
func (b *Backend) Resolve(addr common.Address) (contracts.Target, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.targets[addr]
	return t, ok
}

// Snapshot 实现 state.Reverter
func (b *Backend) Snapshot() int {
	return b.Journal.Snapshot()
}

// RevertToSnapshot 实现 state.Reverter
func (b *Backend) RevertToSnapshot(id int) {
	b.Journal.RevertToSnapshot(id)
}

// DiscardSnapshot 实现 state.Reverter
func (b *Backend) DiscardSnapshot(id int) {
	b.Journal.DiscardSnapshot(id)
}

// Commit 丢弃撤销记录
func (b *Backend) Commit() {
	b.Journal.Commit()
}

// atomic 执行 fn，失败时回滚 fn 内的全部写操作
func (b *Backend) atomic(fn func() error) error {
	snap := b.Journal.Snapshot()
	if err := fn(); err != nil {
		b.Journal.RevertToSnapshot(snap)
		return err
	}
	b.Journal.DiscardSnapshot(snap)
	return nil
}

// NewAddress 由标签派生确定性地址
func (b *Backend) NewAddress(label string) common.Address {
	b.mu.Lock()
	b.nextLabel++
	n := b.nextLabel
	b.mu.Unlock()
	return common.BytesToAddress(crypto.Keccak256([]byte(fmt.Sprintf("%s/%d", label, n))))
}

// Bank 原生币账本
type Bank struct {
	balances *state.BigMap[common.Address]
}

func newBank(journal *state.Journal) *Bank {
	return &Bank{balances: state.NewBigMap[common.Address](journal)}
}

// Fund 直接给账户记入原生币（测试充值）
func (bk *Bank) Fund(account common.Address, amount *big.Int) {
	bk.balances.Add(account, amount)
}

// BalanceOf 实现 contracts.NativeBank
func (bk *Bank) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	return bk.balances.Get(account), nil
}

// Transfer 实现 contracts.NativeBank
func (bk *Bank) Transfer(_ context.Context, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("bank: negative amount")
	}
	if bal := bk.balances.Get(from); bal.Cmp(amount) < 0 {
		return fmt.Errorf("bank: insufficient native balance of %s: have %s, need %s", from.Hex(), bal, amount)
	}
	bk.balances.Add(from, new(big.Int).Neg(amount))
	bk.balances.Add(to, amount)
	return nil
}

// Message 跨链出站消息
type Message struct {
	SrcToken      common.Address
	DstChainID    uint16
	To            common.Address
	Amount        *big.Int
	AdapterParams []byte
	Fee           *big.Int
}

// Relay 出站消息队列（投递由链外中继负责）
type Relay struct {
	journal  *state.Journal
	mu       sync.Mutex
	messages []Message
}

func newRelay(journal *state.Journal) *Relay {
	return &Relay{journal: journal}
}

func (r *Relay) emit(m Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	n := len(r.messages)
	r.mu.Unlock()

	r.journal.Append(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.messages = r.messages[:n-1]
	})
}

// Messages 已发出的消息
func (r *Relay) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
