// Package sequencer keeps the global frame counters shared by every active
// pipe. All state sits behind one lock; callers must not hold the pool lock
// while calling in.
package sequencer

import (
	"sync"

	"einkpipe-go/errcode"
)

// Counters is a consistent snapshot of the batch counters.
type Counters struct {
	Total     uint32 `json:"total"`
	Decoded   uint32 `json:"decoded"`
	Refreshed uint32 `json:"refreshed"`
}

// InProgress reports whether frames remain to be shown.
func (c Counters) InProgress() bool { return c.Total > 0 && c.Refreshed < c.Total }

// Outcome tells the caller how an activation was admitted.
type Outcome uint8

const (
	Extended Outcome = iota // joined the running batch, decode still busy
	Resumed                 // joined the running batch, decode had drained
	Started                 // began a fresh batch
)

func (o Outcome) String() string {
	switch o {
	case Extended:
		return "extended"
	case Resumed:
		return "resumed"
	case Started:
		return "started"
	}
	return "unknown"
}

// KickDecode reports whether the decode stage needs a trigger.
func (o Outcome) KickDecode() bool { return o != Extended }

// DecodeStep is what the decode stage should do on this tick.
type DecodeStep struct {
	Idle  bool   // no batch
	Prime bool   // issue the look-ahead transfer start
	Done  bool   // all frames decoded
	Frame uint32 // 1-based frame about to be decoded
	Counters
}

// TransferStep is what the transfer stage should do on this tick.
type TransferStep struct {
	Idle  bool   // no batch
	Final bool   // Next completed the batch and was stored
	Next  uint32 // frame about to be shown
	Counters
}

type Sequencer struct {
	mu        sync.Mutex
	c         Counters
	preDecode uint32
	primed    bool
	drained   bool
}

// New returns a sequencer that starts transfers once preDecode frames are
// ready (or the whole batch, if shorter).
func New(preDecode int) *Sequencer {
	if preDecode < 1 {
		preDecode = 1
	}
	return &Sequencer{preDecode: uint32(preDecode)}
}

// Snapshot copies the counters.
func (s *Sequencer) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

// Admit adds an activated pipe's frames to the batch.
//
// A running batch is extended unless its last frame is already on the way
// out, in which case BatchBusy is returned and nothing changes. With no
// batch, or a finished one, a fresh batch of frames begins.
func (s *Sequencer) Admit(frames uint32) (Outcome, error) {
	if frames == 0 {
		return Extended, errcode.New(errcode.NotReady, "admit", "zero frames")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.c.Total > 0 && s.c.Refreshed+1 < s.c.Total:
		s.c.Total += frames
		if s.drained {
			s.drained = false
			return Resumed, nil
		}
		return Extended, nil
	case s.c.Total == 0 || s.c.Refreshed >= s.c.Total:
		s.c = Counters{Total: frames}
		s.primed = false
		s.drained = false
		return Started, nil
	default:
		return Extended, errcode.New(errcode.BatchBusy, "admit", "batch is on its last frame")
	}
}

// BeginDecode decides the decode tick. The look-ahead is reported once per
// batch, when Decoded reaches min(preDecode, Total).
func (s *Sequencer) BeginDecode() DecodeStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := DecodeStep{Counters: s.c}
	if s.c.Total == 0 {
		st.Idle = true
		return st
	}
	if !s.primed && s.c.Decoded == min(s.preDecode, s.c.Total) {
		s.primed = true
		st.Prime = true
	}
	if s.c.Decoded >= s.c.Total {
		s.drained = true
		st.Done = true
		return st
	}
	st.Frame = s.c.Decoded + 1
	return st
}

// Decoded records a started decode. It never passes Total.
func (s *Sequencer) Decoded() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c.Decoded < s.c.Total {
		s.c.Decoded++
	}
	return s.c
}

// BeginTransfer decides the transfer tick. With no batch Refreshed is reset.
// When the next frame is the last one it is stored immediately.
func (s *Sequencer) BeginTransfer() TransferStep {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.c.Total == 0 {
		s.c.Refreshed = 0
		return TransferStep{Idle: true, Counters: s.c}
	}
	st := TransferStep{Next: s.c.Refreshed + 1}
	if st.Next == s.c.Total {
		s.c.Refreshed = st.Next
		st.Final = true
	}
	st.Counters = s.c
	return st
}

// Refreshed stores a started transfer. Stale or out of range values are
// ignored.
func (s *Sequencer) Refreshed(next uint32) Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next > s.c.Refreshed && next <= s.c.Decoded {
		s.c.Refreshed = next
	}
	return s.c
}
