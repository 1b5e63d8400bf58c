package platform

import (
	"errors"
	"sync"
	"time"

	"einkpipe-go/types"
)

var ErrPipeRange = errors.New("sim: pipe index out of range")

// Interrupts is implemented by controllers that raise completion interrupts.
type Interrupts interface {
	SetInterrupts(decodeDone, transferDone func())
}

// SimStats counts engine starts and reports the controller flags.
type SimStats struct {
	Decodes      int
	Transfers    int
	Writebacks   int
	EnabledPipes int
	LastXferAddr uint64
	IRQ          bool
	DataReverse  bool
	UpdateAll    bool
}

// SimHardware is an in-memory controller. Decode and transfer complete after
// a fixed latency, raising the registered interrupt if IRQs are enabled.
type SimHardware struct {
	DecodeLatency   time.Duration
	TransferLatency time.Duration

	mu         sync.Mutex
	maxPipes   int
	enabled    map[int]bool
	totals     map[int]uint32
	decoded    map[int]uint32
	irq        bool
	reverse    bool
	updateAll  bool
	writeback  bool
	xferAddr   uint64
	onDecode   func()
	onTransfer func()
	stats      SimStats
}

func NewSimHardware(maxPipes int, decodeLatency, transferLatency time.Duration) *SimHardware {
	return &SimHardware{
		DecodeLatency:   decodeLatency,
		TransferLatency: transferLatency,
		maxPipes:        maxPipes,
		enabled:         map[int]bool{},
		totals:          map[int]uint32{},
		decoded:         map[int]uint32{},
	}
}

func (s *SimHardware) SetInterrupts(decodeDone, transferDone func()) {
	s.mu.Lock()
	s.onDecode, s.onTransfer = decodeDone, transferDone
	s.mu.Unlock()
}

func (s *SimHardware) Stats() SimStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.EnabledPipes = len(s.enabled)
	st.LastXferAddr = s.xferAddr
	st.IRQ = s.irq
	st.DataReverse = s.reverse
	st.UpdateAll = s.updateAll
	return st
}

func (s *SimHardware) check(id int) error {
	if id < 0 || id >= s.maxPipes {
		return ErrPipeRange
	}
	return nil
}

func (s *SimHardware) EnablePipe(id int) error {
	if err := s.check(id); err != nil {
		return err
	}
	s.mu.Lock()
	s.enabled[id] = true
	s.decoded[id] = 0
	s.mu.Unlock()
	return nil
}

func (s *SimHardware) DisablePipe(id int) error {
	if err := s.check(id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.enabled, id)
	s.mu.Unlock()
	return nil
}

func (s *SimHardware) SetUpdateAll(on bool) error {
	s.mu.Lock()
	s.updateAll = on
	s.mu.Unlock()
	return nil
}

func (s *SimHardware) ConfigurePipe(id int, p types.JobParams) error {
	if err := s.check(id); err != nil {
		return err
	}
	s.mu.Lock()
	s.totals[id] = p.TotalFrames
	s.decoded[id] = 0
	s.mu.Unlock()
	return nil
}

func (s *SimHardware) BindWaveform(id int, _ uint64) error { return s.check(id) }

func (s *SimHardware) DecodedFrames(id int) (uint32, error) {
	if err := s.check(id); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decoded[id], nil
}

func (s *SimHardware) PrepareDecode(uint64, types.Panel) error { return nil }

// StartDecode advances every enabled pipe by one frame.
func (s *SimHardware) StartDecode() error {
	s.mu.Lock()
	s.stats.Decodes++
	for id := range s.enabled {
		if s.decoded[id] < s.totals[id] {
			s.decoded[id]++
		}
	}
	cb := s.irqHandler(s.onDecode)
	s.mu.Unlock()
	if cb != nil {
		time.AfterFunc(s.DecodeLatency, cb)
	}
	return nil
}

func (s *SimHardware) ConfigureTransfer(types.Panel) error { return nil }

func (s *SimHardware) SetTransferAddr(phys uint64) error {
	s.mu.Lock()
	s.xferAddr = phys
	s.mu.Unlock()
	return nil
}

func (s *SimHardware) StartTransfer() error {
	s.mu.Lock()
	s.stats.Transfers++
	if s.writeback {
		s.stats.Writebacks++
	}
	cb := s.irqHandler(s.onTransfer)
	s.mu.Unlock()
	if cb != nil {
		time.AfterFunc(s.TransferLatency, cb)
	}
	return nil
}

// irqHandler returns fn when interrupts are on. Caller holds mu.
func (s *SimHardware) irqHandler(fn func()) func() {
	if !s.irq {
		return nil
	}
	return fn
}

func (s *SimHardware) SetOutputMode(types.Panel) error { return nil }

func (s *SimHardware) SetDataReverse() error {
	s.mu.Lock()
	s.reverse = true
	s.mu.Unlock()
	return nil
}

func (s *SimHardware) EnableIRQ() error {
	s.mu.Lock()
	s.irq = true
	s.mu.Unlock()
	return nil
}

func (s *SimHardware) SetWritebackAddr(uint64) error  { return nil }
func (s *SimHardware) SetWritebackFrames(uint32) error { return nil }

func (s *SimHardware) EnableWriteback(on bool) error {
	s.mu.Lock()
	s.writeback = on
	s.mu.Unlock()
	return nil
}
