package texcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeList_InsertGetFree(t *testing.T) {
	l := newFreeList[int]()
	a, b := 1, 2

	ha := l.insert(&a)
	hb := l.insert(&b)
	require.Equal(t, 2, l.len())
	assert.Equal(t, &a, l.get(ha.weak()))
	assert.Equal(t, &b, l.getStrong(hb))

	assert.Equal(t, &a, l.free(ha))
	assert.Nil(t, l.get(ha.weak()), "weak handle must not resolve after free")
	assert.Equal(t, 1, l.len())

	// the slot is reused with a new epoch
	c := 3
	hc := l.insert(&c)
	assert.Equal(t, ha.index, hc.index)
	assert.NotEqual(t, ha.epoch, hc.epoch)
	assert.Nil(t, l.get(ha.weak()))
	assert.Equal(t, &c, l.get(hc.weak()))
}

func TestFreeList_ZeroHandle(t *testing.T) {
	l := newFreeList[int]()
	v := 1
	l.insert(&v)

	var h Handle
	assert.True(t, h.IsZero())
	assert.Nil(t, l.get(h))
	assert.Nil(t, l.get(Handle{index: 42, epoch: 1}))
}

func TestFreeList_GetStrongPanicsOnStale(t *testing.T) {
	l := newFreeList[int]()
	v := 1
	h := l.insert(&v)
	l.free(h)
	assert.Panics(t, func() { l.getStrong(h) })
	assert.Panics(t, func() { l.free(h) })
}

func TestFreeList_EpochSkipsZero(t *testing.T) {
	l := newFreeList[int]()
	v := 1
	h := l.insert(&v)
	l.slots[h.index].epoch = ^uint32(0)
	h.epoch = ^uint32(0)

	l.free(h)
	assert.Equal(t, uint32(1), l.slots[h.index].epoch)
}

func TestFreeList_Upsert(t *testing.T) {
	l := newFreeList[string]()
	a, b, c := "a", "b", "c"

	res := l.upsert(Handle{}, &a)
	require.Nil(t, res.old)
	h := res.inserted.weak()
	assert.Equal(t, &a, l.get(h))

	res = l.upsert(h, &b)
	assert.Equal(t, &a, res.old)
	assert.Equal(t, &b, l.get(h), "replacement keeps the handle valid")
	assert.Equal(t, 1, l.len())

	l.free(strongHandle(h))
	res = l.upsert(h, &c)
	assert.Nil(t, res.old)
	assert.NotEqual(t, h, res.inserted.weak())
}
