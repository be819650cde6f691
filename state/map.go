package state

import "math/big"

// Map 写操作自动记入 Journal 的 map
//
// V 若为指针类型，调用方必须把存入的值视为不可变。
type Map[K comparable, V any] struct {
	journal *Journal
	data    map[K]V
}

// NewMap 创建绑定到 journal 的 map
func NewMap[K comparable, V any](journal *Journal) *Map[K, V] {
	return &Map[K, V]{
		journal: journal,
		data:    make(map[K]V),
	}
}

// Get 读取值
func (m *Map[K, V]) Get(key K) (V, bool) {
	v, ok := m.data[key]
	return v, ok
}

// Set 写入值并记录撤销
func (m *Map[K, V]) Set(key K, value V) {
	prev, existed := m.data[key]
	m.data[key] = value
	m.journal.Append(func() {
		if existed {
			m.data[key] = prev
		} else {
			delete(m.data, key)
		}
	})
}

// Delete 删除值并记录撤销
func (m *Map[K, V]) Delete(key K) {
	prev, existed := m.data[key]
	if !existed {
		return
	}
	delete(m.data, key)
	m.journal.Append(func() {
		m.data[key] = prev
	})
}

// Len 元素数量
func (m *Map[K, V]) Len() int {
	return len(m.data)
}

// BigMap 存放 *big.Int 的 Map，读写都做拷贝，缺省值为 0
type BigMap[K comparable] struct {
	inner *Map[K, *big.Int]
}

// NewBigMap 创建 BigMap
func NewBigMap[K comparable](journal *Journal) *BigMap[K] {
	return &BigMap[K]{inner: NewMap[K, *big.Int](journal)}
}

// Get 读取（不存在时返回 0）
func (m *BigMap[K]) Get(key K) *big.Int {
	v, ok := m.inner.Get(key)
	if !ok || v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Set 写入拷贝
func (m *BigMap[K]) Set(key K, value *big.Int) {
	if value == nil || value.Sign() == 0 {
		m.inner.Delete(key)
		return
	}
	m.inner.Set(key, new(big.Int).Set(value))
}

// Add 累加（delta 可为负）
func (m *BigMap[K]) Add(key K, delta *big.Int) *big.Int {
	next := new(big.Int).Add(m.Get(key), delta)
	m.Set(key, next)
	return next
}
