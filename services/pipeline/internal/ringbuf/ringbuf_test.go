package ringbuf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"einkpipe-go/errcode"
	"einkpipe-go/types"
)

type fakeMemory struct {
	next     uint64
	failAt   int // fail the n-th allocation (1-based); 0 never fails
	allocs   int
	live     map[uint64]bool
	freed    int
	lastSize int
}

func newFakeMemory() *fakeMemory { return &fakeMemory{next: 0x4000_0000, live: map[uint64]bool{}} }

func (m *fakeMemory) Alloc(size int) (types.WaveformAddr, error) {
	m.allocs++
	m.lastSize = size
	if m.failAt > 0 && m.allocs >= m.failAt {
		return types.WaveformAddr{}, errors.New("out of cma")
	}
	a := types.WaveformAddr{Phys: m.next, Data: make([]byte, size)}
	m.live[a.Phys] = true
	m.next += uint64(size)
	return a, nil
}

func (m *fakeMemory) Free(a types.WaveformAddr) {
	delete(m.live, a.Phys)
	m.freed++
}

func TestNewAllocatesRegions(t *testing.T) {
	mem := newFakeMemory()
	r, err := New(mem, 4, 128)
	require.NoError(t, err)
	assert.Equal(t, 4, mem.allocs)
	assert.Equal(t, 128, mem.lastSize)
	assert.Equal(t, Stats{Regions: 4, Free: 4}, r.Snapshot())

	r.Close()
	assert.Empty(t, mem.live)
}

func TestNewFreesPartialOnFailure(t *testing.T) {
	mem := newFakeMemory()
	mem.failAt = 3
	_, err := New(mem, 4, 64)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errcode.AllocationFailure))
	assert.Equal(t, 2, mem.freed)
	assert.Empty(t, mem.live)
}

func TestNewRejectsBadShape(t *testing.T) {
	_, err := New(newFakeMemory(), 1, 64)
	assert.True(t, errors.Is(err, errcode.InvalidParams))
	_, err = New(newFakeMemory(), 4, 0)
	assert.True(t, errors.Is(err, errcode.InvalidParams))
}

func TestRegionLifecycle(t *testing.T) {
	r, _ := New(newFakeMemory(), 3, 16)

	a, err := r.ReserveDecode()
	require.NoError(t, err)
	assert.Equal(t, 0, a.Index)
	assert.Equal(t, Stats{Regions: 3, Free: 2, Decoding: 1}, r.Snapshot())

	// Not readable until committed.
	_, err = r.AcquireTransfer()
	assert.True(t, errors.Is(err, errcode.BufferExhausted))

	require.True(t, r.CommitDecoded())
	assert.Equal(t, Stats{Regions: 3, Free: 2, Ready: 1}, r.Snapshot())

	got, err := r.AcquireTransfer()
	require.NoError(t, err)
	assert.Equal(t, a.Addr.Phys, got.Addr.Phys)
	assert.Equal(t, Stats{Regions: 3, Free: 2, Transferring: 1}, r.Snapshot())

	require.True(t, r.ReleaseTransferred())
	assert.Equal(t, Stats{Regions: 3, Free: 3}, r.Snapshot())
	assert.False(t, r.ReleaseTransferred())
	assert.False(t, r.CommitDecoded())
}

func TestReserveExhaustsAndWraps(t *testing.T) {
	r, _ := New(newFakeMemory(), 2, 16)

	_, err := r.ReserveDecode()
	require.NoError(t, err)
	_, err = r.ReserveDecode()
	require.NoError(t, err)
	_, err = r.ReserveDecode()
	assert.Equal(t, errcode.BufferExhausted, err)

	r.CommitDecoded()
	_, _ = r.AcquireTransfer()
	r.ReleaseTransferred()

	again, err := r.ReserveDecode()
	require.NoError(t, err)
	assert.Equal(t, 0, again.Index, "ring order wraps to the first region")
}

func TestStatesAlwaysSumToRegions(t *testing.T) {
	r, _ := New(newFakeMemory(), 4, 8)
	ops := []func(){
		func() { _, _ = r.ReserveDecode() },
		func() { r.CommitDecoded() },
		func() { _, _ = r.AcquireTransfer() },
		func() { r.ReleaseTransferred() },
	}
	for i := 0; i < 200; i++ {
		ops[(i*7+i/3)%len(ops)]()
		s := r.Snapshot()
		assert.Equal(t, 4, s.Free+s.Decoding+s.Ready+s.Transferring)
		assert.GreaterOrEqual(t, s.Free, 0)
	}
}
