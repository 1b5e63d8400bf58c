// Package pool is the fixed arena of pipe slots.
//
// The pool is not synchronised; the owner serialises access with its own
// lock so that slot fields and set membership change together.
package pool

import (
	"einkpipe-go/errcode"
	"einkpipe-go/types"
)

// Slot is one hardware pipe and the job bound to it.
type Slot struct {
	ID        int
	State     types.PipeState
	JobID     string
	Params    types.JobParams
	Decoded   uint32
	Refreshed uint32
}

// Active reports whether the slot has been activated.
func (s *Slot) Active() bool { return s.State == types.PipeUsedActive }

// Status is a copy of the slot suitable for callers.
func (s *Slot) Status() types.PipeStatus {
	return types.PipeStatus{
		ID:          s.ID,
		State:       s.State,
		JobID:       s.JobID,
		Window:      s.Params.Window,
		Mode:        s.Params.Mode,
		TotalFrames: s.Params.TotalFrames,
		Decoded:     s.Decoded,
		Refreshed:   s.Refreshed,
	}
}

func (s *Slot) reset() {
	*s = Slot{ID: s.ID, State: types.PipeFree}
}

// Pool holds every slot plus the free queue and the used list (both in
// order of arrival).
type Pool struct {
	slots []Slot
	free  []int
	used  []int
}

// New builds a pool of n free slots, ids 0..n-1 queued in order.
func New(n int) (*Pool, error) {
	if n <= 0 || n > 64 {
		return nil, errcode.New(errcode.InvalidParams, "pool", "slot count must be in [1, 64]")
	}
	p := &Pool{
		slots: make([]Slot, n),
		free:  make([]int, 0, n),
		used:  make([]int, 0, n),
	}
	for i := range p.slots {
		p.slots[i] = Slot{ID: i, State: types.PipeFree}
		p.free = append(p.free, i)
	}
	return p, nil
}

// Len is the number of slots.
func (p *Pool) Len() int { return len(p.slots) }

// Valid reports whether id names a slot.
func (p *Pool) Valid(id int) bool { return id >= 0 && id < len(p.slots) }

// Allocate moves the free head to the tail of the used list.
func (p *Pool) Allocate() (*Slot, bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	id := p.free[0]
	p.free = p.free[1:]
	p.used = append(p.used, id)
	s := &p.slots[id]
	s.State = types.PipeUsed
	return s, true
}

// Get returns the slot for a valid id.
func (p *Pool) Get(id int) *Slot { return &p.slots[id] }

// Used returns the slot if it is in the used list.
func (p *Pool) Used(id int) (*Slot, bool) {
	if !p.Valid(id) {
		return nil, false
	}
	s := &p.slots[id]
	return s, s.State != types.PipeFree
}

// Release zeroes the slot and queues it at the tail of the free list.
// Releasing a free slot reports false and changes nothing.
func (p *Pool) Release(id int) bool {
	s, ok := p.Used(id)
	if !ok {
		return false
	}
	for i, u := range p.used {
		if u == id {
			p.used = append(p.used[:i], p.used[i+1:]...)
			break
		}
	}
	s.reset()
	p.free = append(p.free, id)
	return true
}

// EachUsed visits used slots in allocation order. fn must not release.
func (p *Pool) EachUsed(fn func(*Slot)) {
	for _, id := range p.used {
		fn(&p.slots[id])
	}
}

// UsedCount is the number of allocated slots.
func (p *Pool) UsedCount() int { return len(p.used) }

// FreeMask has bit i set when slot i is free.
func (p *Pool) FreeMask() uint64 {
	var m uint64
	for _, id := range p.free {
		m |= 1 << uint(id)
	}
	return m
}

// FreeIDs and UsedIDs copy the list order for diagnostics.
func (p *Pool) FreeIDs() []int { return append([]int(nil), p.free...) }
func (p *Pool) UsedIDs() []int { return append([]int(nil), p.used...) }
