package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"einkpipe-go/services/pipeline/config"
	"einkpipe-go/services/pipeline/internal/retry"
	"einkpipe-go/types"
)

// fakeHW records every capability call. Start calls queue the matching
// completion so tests can play the interrupts back in order.
type fakeHW struct {
	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	decoded map[int]uint32
	irqs    []string
	wbOn    bool
}

func newFakeHW() *fakeHW {
	return &fakeHW{fail: map[string]error{}, decoded: map[int]uint32{}}
}

func (f *fakeHW) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	for prefix, err := range f.fail {
		if len(call) >= len(prefix) && call[:len(prefix)] == prefix {
			return err
		}
	}
	return nil
}

func (f *fakeHW) failOn(prefix string) {
	f.mu.Lock()
	f.fail[prefix] = errors.New(prefix + ": nack")
	f.mu.Unlock()
}

func (f *fakeHW) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeHW) count(call string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeHW) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeHW) EnablePipe(id int) error  { return f.record(fmt.Sprintf("enable %d", id)) }
func (f *fakeHW) DisablePipe(id int) error { return f.record(fmt.Sprintf("disable %d", id)) }
func (f *fakeHW) SetUpdateAll(on bool) error {
	return f.record(fmt.Sprintf("update_all %t", on))
}
func (f *fakeHW) ConfigurePipe(id int, p types.JobParams) error {
	return f.record(fmt.Sprintf("configure %d frames=%d", id, p.TotalFrames))
}
func (f *fakeHW) BindWaveform(id int, phys uint64) error {
	return f.record(fmt.Sprintf("waveform %d %#x", id, phys))
}
func (f *fakeHW) DecodedFrames(id int) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.decoded[id]
	if !ok {
		return 0, errors.New("no counter")
	}
	return n, nil
}
func (f *fakeHW) PrepareDecode(phys uint64, _ types.Panel) error {
	return f.record(fmt.Sprintf("prepare_decode %#x", phys))
}
func (f *fakeHW) StartDecode() error {
	if err := f.record("start_decode"); err != nil {
		return err
	}
	f.mu.Lock()
	f.irqs = append(f.irqs, StageDecode)
	f.mu.Unlock()
	return nil
}
func (f *fakeHW) ConfigureTransfer(types.Panel) error { return f.record("configure_transfer") }
func (f *fakeHW) SetTransferAddr(phys uint64) error {
	return f.record(fmt.Sprintf("transfer_addr %#x", phys))
}
func (f *fakeHW) StartTransfer() error {
	if err := f.record("start_transfer"); err != nil {
		return err
	}
	f.mu.Lock()
	f.irqs = append(f.irqs, StageTransfer)
	f.mu.Unlock()
	return nil
}
func (f *fakeHW) SetOutputMode(types.Panel) error { return f.record("output_mode") }
func (f *fakeHW) SetDataReverse() error           { return f.record("data_reverse") }
func (f *fakeHW) EnableIRQ() error                { return f.record("irq_enable") }

// Write-back port, used by the wave dump.
func (f *fakeHW) SetWritebackAddr(phys uint64) error {
	return f.record(fmt.Sprintf("wb_addr %#x", phys))
}
func (f *fakeHW) SetWritebackFrames(n uint32) error {
	return f.record(fmt.Sprintf("wb_frames %d", n))
}
func (f *fakeHW) EnableWriteback(on bool) error {
	f.mu.Lock()
	f.wbOn = on
	f.mu.Unlock()
	return f.record(fmt.Sprintf("wb_enable %t", on))
}

// popIRQ removes the oldest pending completion.
func (f *fakeHW) popIRQ() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.irqs) == 0 {
		return "", false
	}
	irq := f.irqs[0]
	f.irqs = f.irqs[1:]
	return irq, true
}

// holdIRQs discards pending completions; the test then replays the ones it
// wants with queueIRQ.
func (f *fakeHW) holdIRQs() {
	f.mu.Lock()
	f.irqs = nil
	f.mu.Unlock()
}

func (f *fakeHW) queueIRQ(stage string) {
	f.mu.Lock()
	f.irqs = append(f.irqs, stage)
	f.mu.Unlock()
}

// lastCall returns the most recent call starting with prefix.
func (f *fakeHW) lastCall(prefix string) string {
	calls := f.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if strings.HasPrefix(calls[i], prefix) {
			return calls[i]
		}
	}
	return ""
}

type fakeMem struct {
	mu     sync.Mutex
	next   uint64
	allocs int
	failAt int // 1-based allocation that fails; 0 never
	live   map[uint64]int
}

func newFakeMem() *fakeMem { return &fakeMem{next: 0x8000_0000, live: map[uint64]int{}} }

func (m *fakeMem) Alloc(size int) (types.WaveformAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allocs++
	if m.failAt > 0 && m.allocs >= m.failAt {
		return types.WaveformAddr{}, errors.New("cma exhausted")
	}
	a := types.WaveformAddr{Phys: m.next, Data: make([]byte, size)}
	m.live[a.Phys] = size
	m.next += 0x10_0000
	return a, nil
}

func (m *fakeMem) Free(a types.WaveformAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, a.Phys)
}

func (m *fakeMem) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// testConfig is a small panel with a fast, bounded retry budget.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Panel.Timing = types.Timing{LDL: 8, FDL: 4}
	cfg.Pipeline.RetryAttempts = 3
	cfg.Pipeline.RetryBackoff = 0
	return cfg
}

func newTestManager(t *testing.T, cfg *config.Config, opts ...Option) (*Manager, *fakeHW, *fakeMem) {
	t.Helper()
	hw, mem := newFakeHW(), newFakeMem()
	opts = append([]Option{WithSleep(retry.NoSleep)}, opts...)
	m, err := New(cfg, hw, mem, opts...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, hw, mem
}

// runIRQs plays back pending completions until none remain or stop says so.
func runIRQs(m *Manager, hw *fakeHW, stop func() bool) int {
	ctx := context.Background()
	n := 0
	for {
		if stop != nil && stop() {
			return n
		}
		irq, ok := hw.popIRQ()
		if !ok {
			return n
		}
		switch irq {
		case StageDecode:
			m.DecodeTick(ctx)
		case StageTransfer:
			m.TransferTick(ctx)
		}
		n++
	}
}

func job(frames uint32) types.JobParams {
	return types.JobParams{
		Window:      types.UpdateWindow{Right: 99, Bottom: 49},
		Image:       types.ImageRef{Handle: 1},
		Waveform:    types.WaveformAddr{Phys: 0x1000},
		TotalFrames: frames,
		Mode:        types.ModeGC16,
	}
}

// startJob allocates, configures and activates one pipe.
func startJob(t *testing.T, m *Manager, frames uint32) PipeID {
	t.Helper()
	id, err := m.Allocate()
	require.NoError(t, err)
	require.NoError(t, m.Configure(id, job(frames)))
	require.NoError(t, m.Activate(id))
	return id
}
