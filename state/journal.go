// Package state 提供可回滚的状态日志与重入保护。
//
// 所有协作方（金库、市场、代币等）把每一次写操作的撤销函数追加到同一个 Journal，
// 路由器通过 Snapshot / RevertToSnapshot 获得跨协作方的原子性。
package state

import (
	"fmt"
	"sync"
)

// Reverter 可以打快照并回滚的状态
type Reverter interface {
	Snapshot() int
	RevertToSnapshot(id int)
	DiscardSnapshot(id int)
}

// Journal 撤销日志
type Journal struct {
	mu        sync.Mutex
	entries   []func()
	snapshots []int // 快照 id -> entries 长度
}

// NewJournal 创建空日志
func NewJournal() *Journal {
	return &Journal{}
}

// Append 记录一次写操作的撤销函数
func (j *Journal) Append(undo func()) {
	if j == nil || undo == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, undo)
}

// Snapshot 返回当前位置的快照 id
func (j *Journal) Snapshot() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snapshots = append(j.snapshots, len(j.entries))
	return len(j.snapshots) - 1
}

// RevertToSnapshot 逆序执行快照之后的所有撤销函数
//
// 回滚后该快照以及之后创建的快照全部失效。
func (j *Journal) RevertToSnapshot(id int) {
	j.mu.Lock()
	if id < 0 || id >= len(j.snapshots) {
		j.mu.Unlock()
		panic(fmt.Sprintf("state: snapshot id %d out of range [0, %d)", id, len(j.snapshots)))
	}
	mark := j.snapshots[id]
	undo := j.entries[mark:]
	j.entries = j.entries[:mark]
	j.snapshots = j.snapshots[:id]
	j.mu.Unlock()

	// 撤销函数只修改协作方自身的 map，不会再次进入 Journal
	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// DiscardSnapshot 确认快照之后的写操作
//
// 该快照以及之后创建的快照全部失效；外层快照仍可回滚这些写操作。
// 不再有任何快照时撤销记录一并丢弃。
func (j *Journal) DiscardSnapshot(id int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if id < 0 || id >= len(j.snapshots) {
		panic(fmt.Sprintf("state: snapshot id %d out of range [0, %d)", id, len(j.snapshots)))
	}
	j.snapshots = j.snapshots[:id]
	if id == 0 {
		j.entries = nil
	}
}

// Commit 丢弃全部撤销记录（调用方不再持有任何快照时使用）
func (j *Journal) Commit() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = nil
	j.snapshots = nil
}

// Len 当前撤销记录数量
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
