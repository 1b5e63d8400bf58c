// Package wavedump captures the decoded waveform of a batch through the
// transfer engine's write-back port and saves it for offline inspection.
package wavedump

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"einkpipe-go/errcode"
	"einkpipe-go/types"
)

// Writeback is the write-back port of the transfer engine.
type Writeback interface {
	SetWritebackAddr(phys uint64) error
	SetWritebackFrames(n uint32) error
	EnableWriteback(on bool) error
}

// Memory hands out DMA-able buffers.
type Memory interface {
	Alloc(size int) (types.WaveformAddr, error)
	Free(types.WaveformAddr)
}

// Sink stores a finished capture.
type Sink interface {
	Save(name string, data []byte) error
}

// DirSink saves captures as files in a directory.
type DirSink string

func (d DirSink) Save(name string, data []byte) error {
	return os.WriteFile(filepath.Join(string(d), name), data, 0o644)
}

type Dumper struct {
	mu   sync.Mutex
	mem  Memory
	wb   Writeback
	sink Sink
	log  *zap.Logger

	buf   *types.WaveformAddr
	size  int
	seq   int
	saved []string
}

func New(mem Memory, wb Writeback, sink Sink, log *zap.Logger) *Dumper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dumper{mem: mem, wb: wb, sink: sink, log: log.Named("wavedump")}
}

// Arm allocates a capture buffer of size bytes and points the write-back
// port at it. A buffer left over from an earlier arm is released first.
func (d *Dumper) Arm(size int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.buf != nil {
		d.log.Warn("capture buffer still armed, releasing", zap.Int("size", d.size))
		d.mem.Free(*d.buf)
		d.buf, d.size = nil, 0
	}
	if size <= 0 {
		return errcode.New(errcode.InvalidParams, "wavedump", fmt.Sprintf("zero length capture (%d)", size))
	}
	a, err := d.mem.Alloc(size)
	if err != nil {
		return errcode.Wrap(errcode.AllocationFailure, "wavedump", err)
	}
	if err := d.program(a.Phys); err != nil {
		d.mem.Free(a)
		return errcode.Wrap(errcode.HardwareFault, "wavedump", err)
	}
	d.buf, d.size = &a, size
	d.log.Debug("armed", zap.Int("size", size), zap.Uint64("phys", a.Phys))
	return nil
}

func (d *Dumper) program(phys uint64) error {
	if err := d.wb.SetWritebackAddr(phys); err != nil {
		return err
	}
	if err := d.wb.SetWritebackFrames(0); err != nil {
		return err
	}
	return d.wb.EnableWriteback(true)
}

// Armed reports whether a capture is pending.
func (d *Dumper) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buf != nil
}

// Dump saves the capture as dec_wav<N>.bin, turns write-back off and frees
// the buffer. It returns the saved name. Dumping while unarmed is a no-op.
func (d *Dumper) Dump() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.buf == nil {
		return "", nil
	}
	name := fmt.Sprintf("dec_wav%d.bin", d.seq)
	d.seq++

	data := d.buf.Data
	if len(data) > d.size {
		data = data[:d.size]
	}
	serr := d.sink.Save(name, data)
	werr := d.wb.EnableWriteback(false)
	d.mem.Free(*d.buf)
	d.buf, d.size = nil, 0

	if serr != nil {
		return "", fmt.Errorf("save %s: %w", name, serr)
	}
	if werr != nil {
		return name, errcode.Wrap(errcode.HardwareFault, "wavedump", werr)
	}
	d.saved = append(d.saved, name)
	d.log.Info("saved waveform capture", zap.String("name", name), zap.Int("bytes", len(data)))
	return name, nil
}

// Saved lists the names written so far.
func (d *Dumper) Saved() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.saved...)
}

// Close drops a pending capture without saving it.
func (d *Dumper) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buf == nil {
		return
	}
	_ = d.wb.EnableWriteback(false)
	d.mem.Free(*d.buf)
	d.buf, d.size = nil, 0
}
