// Package ringbuf is the waveform ring shared by the decode and transfer
// stages.
//
// Regions move Free -> Decoding -> Ready -> Transferring -> Free, strictly in
// ring order. Four monotonic cursors track the boundaries:
//
//	released <= acquired <= committed <= reserved <= released+n
package ringbuf

import (
	"fmt"
	"sync"

	"einkpipe-go/errcode"
	"einkpipe-go/types"
)

// Memory hands out DMA-able buffers.
type Memory interface {
	Alloc(size int) (types.WaveformAddr, error)
	Free(types.WaveformAddr)
}

// Region is one slot of the ring.
type Region struct {
	Index int
	Addr  types.WaveformAddr
}

// Stats counts regions per state.
type Stats struct {
	Regions      int `json:"regions"`
	Free         int `json:"free"`
	Decoding     int `json:"decoding"`
	Ready        int `json:"ready"`
	Transferring int `json:"transferring"`
}

type Ring struct {
	mu      sync.Mutex
	mem     Memory
	regions []types.WaveformAddr
	size    int

	reserved  uint64
	committed uint64
	acquired  uint64
	released  uint64
}

// New allocates n regions of size bytes each. On failure the regions already
// obtained are handed back.
func New(mem Memory, n, size int) (*Ring, error) {
	if n < 2 || size <= 0 {
		return nil, errcode.New(errcode.InvalidParams, "ring", fmt.Sprintf("regions=%d size=%d", n, size))
	}
	r := &Ring{mem: mem, size: size, regions: make([]types.WaveformAddr, 0, n)}
	for i := 0; i < n; i++ {
		a, err := mem.Alloc(size)
		if err != nil {
			r.Close()
			return nil, errcode.Wrap(errcode.AllocationFailure, "ring", err)
		}
		r.regions = append(r.regions, a)
	}
	return r, nil
}

// Close returns every region to memory.
func (r *Ring) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.regions {
		r.mem.Free(a)
	}
	r.regions = nil
	r.reserved, r.committed, r.acquired, r.released = 0, 0, 0, 0
}

// RegionSize is the byte size of every region.
func (r *Ring) RegionSize() int { return r.size }

func (r *Ring) region(cursor uint64) Region {
	i := int(cursor % uint64(len(r.regions)))
	return Region{Index: i, Addr: r.regions[i]}
}

// ReserveDecode hands the next free region to the decoder.
func (r *Ring) ReserveDecode() (Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.regions) == 0 || r.reserved-r.released == uint64(len(r.regions)) {
		return Region{}, errcode.BufferExhausted
	}
	reg := r.region(r.reserved)
	r.reserved++
	return reg, nil
}

// CommitDecoded marks the oldest decoding region ready. It reports false
// when nothing was being decoded.
func (r *Ring) CommitDecoded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.committed == r.reserved {
		return false
	}
	r.committed++
	return true
}

// AcquireTransfer hands the oldest ready region to the transfer engine.
func (r *Ring) AcquireTransfer() (Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.acquired == r.committed {
		return Region{}, errcode.BufferExhausted
	}
	reg := r.region(r.acquired)
	r.acquired++
	return reg, nil
}

// ReleaseTransferred frees the oldest transferring region. It reports false
// when nothing was being transferred.
func (r *Ring) ReleaseTransferred() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released == r.acquired {
		return false
	}
	r.released++
	return true
}

// Snapshot counts regions per state.
func (r *Ring) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.regions)
	return Stats{
		Regions:      n,
		Free:         n - int(r.reserved-r.released),
		Decoding:     int(r.reserved - r.committed),
		Ready:        int(r.committed - r.acquired),
		Transferring: int(r.acquired - r.released),
	}
}
