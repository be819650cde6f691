package state

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/lending-router-go/types"
)

func TestJournal_RevertToSnapshot(t *testing.T) {
	j := NewJournal()
	m := NewMap[string, int](j)

	m.Set("a", 1)
	outer := j.Snapshot()
	m.Set("a", 2)
	m.Set("b", 3)

	inner := j.Snapshot()
	m.Delete("b")
	m.Set("c", 4)

	j.RevertToSnapshot(inner)
	v, ok := m.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)
	_, ok = m.Get("c")
	assert.False(t, ok)

	j.RevertToSnapshot(outer)
	v, _ = m.Get("a")
	assert.Equal(t, 1, v)
	_, ok = m.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 1, j.Len())
}

func TestJournal_InvalidSnapshotPanics(t *testing.T) {
	j := NewJournal()
	id := j.Snapshot()
	j.RevertToSnapshot(id)

	assert.Panics(t, func() { j.RevertToSnapshot(id) })
}

func TestJournal_Commit(t *testing.T) {
	j := NewJournal()
	m := NewMap[int, int](j)
	m.Set(1, 1)
	j.Commit()

	assert.Equal(t, 0, j.Len())
	v, _ := m.Get(1)
	assert.Equal(t, 1, v)
}

func TestJournal_DiscardSnapshot(t *testing.T) {
	j := NewJournal()
	m := NewMap[string, int](j)

	outer := j.Snapshot()
	m.Set("a", 1)
	inner := j.Snapshot()
	m.Set("b", 2)

	// 内层确认后，外层仍可回滚
	j.DiscardSnapshot(inner)
	assert.Equal(t, 2, j.Len())
	assert.Panics(t, func() { j.RevertToSnapshot(inner) })

	j.RevertToSnapshot(outer)
	_, ok := m.Get("b")
	assert.False(t, ok)

	// 最外层确认后撤销记录清空
	outer = j.Snapshot()
	m.Set("c", 3)
	j.DiscardSnapshot(outer)
	assert.Equal(t, 0, j.Len())
	v, _ := m.Get("c")
	assert.Equal(t, 3, v)
}

func TestBigMap(t *testing.T) {
	j := NewJournal()
	m := NewBigMap[string](j)

	assert.Equal(t, int64(0), m.Get("x").Int64())

	snap := j.Snapshot()
	m.Add("x", big.NewInt(10))
	m.Add("x", big.NewInt(-4))
	assert.Equal(t, int64(6), m.Get("x").Int64())

	// 读出的值是拷贝
	got := m.Get("x")
	got.SetInt64(100)
	assert.Equal(t, int64(6), m.Get("x").Int64())

	m.Set("x", new(big.Int))
	assert.Equal(t, 0, m.inner.Len())

	j.RevertToSnapshot(snap)
	assert.Equal(t, int64(0), m.Get("x").Int64())
	assert.Equal(t, 0, m.inner.Len())
}

func TestGuard_Reentrancy(t *testing.T) {
	g := NewGuard("router")

	ctx, release, err := g.Enter(context.Background())
	require.NoError(t, err)
	assert.True(t, g.Entered(ctx))

	_, _, err = g.Enter(ctx)
	assert.True(t, errors.Is(err, types.ErrReentrant))

	release()

	_, release2, err := g.Enter(context.Background())
	require.NoError(t, err)
	release2()
}
