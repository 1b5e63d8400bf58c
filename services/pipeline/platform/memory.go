// Package platform provides host-side implementations of the pipeline's
// capabilities: a simulated controller, heap-backed DMA memory and an I²C
// register file for the register-bus driver.
package platform

import (
	"fmt"
	"sync"

	"einkpipe-go/types"
)

// HeapMemory hands out heap buffers with made-up physical addresses.
type HeapMemory struct {
	mu    sync.Mutex
	next  uint64
	limit int // bytes; 0 is unlimited
	inUse int
	live  map[uint64]int
}

// NewHeapMemory returns memory whose addresses start at base.
func NewHeapMemory(base uint64, limit int) *HeapMemory {
	if base == 0 {
		base = 0x4000_0000
	}
	return &HeapMemory{next: base, limit: limit, live: map[uint64]int{}}
}

func (m *HeapMemory) Alloc(size int) (types.WaveformAddr, error) {
	if size <= 0 {
		return types.WaveformAddr{}, fmt.Errorf("alloc: invalid size %d", size)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limit > 0 && m.inUse+size > m.limit {
		return types.WaveformAddr{}, fmt.Errorf("alloc %d bytes: %d of %d in use", size, m.inUse, m.limit)
	}
	a := types.WaveformAddr{Phys: m.next, Data: make([]byte, size)}
	// Keep regions 4 KiB aligned like a CMA pool would.
	m.next += uint64((size + 0xFFF) &^ 0xFFF)
	m.inUse += size
	m.live[a.Phys] = size
	return a, nil
}

func (m *HeapMemory) Free(a types.WaveformAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size, ok := m.live[a.Phys]; ok {
		m.inUse -= size
		delete(m.live, a.Phys)
	}
}

// InUse is the number of bytes currently allocated.
func (m *HeapMemory) InUse() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inUse
}
