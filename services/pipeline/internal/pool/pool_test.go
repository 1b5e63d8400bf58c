package pool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"einkpipe-go/errcode"
	"einkpipe-go/types"
)

func TestNewRejectsBadSize(t *testing.T) {
	for _, n := range []int{0, -1, 65} {
		_, err := New(n)
		require.Error(t, err)
		assert.True(t, errors.Is(err, errcode.InvalidParams))
	}
}

func TestAllocateUntilEmpty(t *testing.T) {
	p, err := New(31)
	require.NoError(t, err)

	seen := map[int]bool{}
	for i := 0; i < 31; i++ {
		s, ok := p.Allocate()
		require.True(t, ok)
		assert.False(t, seen[s.ID], "duplicate id %d", s.ID)
		seen[s.ID] = true
		assert.Equal(t, types.PipeUsed, s.State)
	}
	_, ok := p.Allocate()
	assert.False(t, ok)
	assert.Equal(t, uint64(0), p.FreeMask())
	assert.Equal(t, 31, p.UsedCount())
}

func TestAllocateIsFIFO(t *testing.T) {
	p, _ := New(4)
	a, _ := p.Allocate()
	b, _ := p.Allocate()
	assert.Equal(t, 0, a.ID)
	assert.Equal(t, 1, b.ID)

	require.True(t, p.Release(0))
	assert.Equal(t, []int{2, 3, 0}, p.FreeIDs())
	assert.Equal(t, []int{1}, p.UsedIDs())

	c, _ := p.Allocate()
	assert.Equal(t, 2, c.ID)
}

func TestReleaseZeroesSlot(t *testing.T) {
	p, _ := New(2)
	s, _ := p.Allocate()
	s.JobID = "job"
	s.Params.TotalFrames = 9
	s.Decoded, s.Refreshed = 4, 3
	s.State = types.PipeUsedActive

	require.True(t, p.Release(s.ID))
	got := p.Get(s.ID)
	assert.Equal(t, Slot{ID: s.ID, State: types.PipeFree}, *got)
	assert.False(t, p.Release(s.ID), "second release is a no-op")
	assert.Equal(t, uint64(0b11), p.FreeMask())
}

func TestFreeMaskTracksMembership(t *testing.T) {
	p, _ := New(64)
	for i := 0; i < 64; i++ {
		p.Allocate()
	}
	p.Release(0)
	p.Release(63)
	p.Release(17)
	assert.Equal(t, uint64(1)|1<<63|1<<17, p.FreeMask())

	for id := 0; id < p.Len(); id++ {
		_, used := p.Used(id)
		assert.Equal(t, p.FreeMask()&(1<<uint(id)) == 0, used, "id %d", id)
	}
}

func TestValid(t *testing.T) {
	p, _ := New(5)
	assert.True(t, p.Valid(0))
	assert.True(t, p.Valid(4))
	assert.False(t, p.Valid(-1))
	assert.False(t, p.Valid(5))
	_, ok := p.Used(10)
	assert.False(t, ok)
}

func TestEachUsedOrder(t *testing.T) {
	p, _ := New(3)
	p.Allocate()
	p.Allocate()
	p.Allocate()
	p.Release(1)
	p.Allocate()

	var ids []int
	p.EachUsed(func(s *Slot) { ids = append(ids, s.ID) })
	assert.Equal(t, []int{0, 2, 1}, ids)
}
